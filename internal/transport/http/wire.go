package httptransport

import (
	"encoding/json"
	"time"

	"liaison/internal/domain"
	"liaison/internal/gateway"
	"liaison/internal/queue"
)

// WireVariant is the kind-tagged wire encoding of a RequestVariant.
type WireVariant struct {
	Kind domain.VariantKind `json:"kind"`
	Body json.RawMessage    `json:"body"`
}

func encodeVariant(v domain.RequestVariant) (*WireVariant, error) {
	if v == nil {
		return nil, nil
	}
	kind, body, err := domain.MarshalVariant(v)
	if err != nil {
		return nil, err
	}
	return &WireVariant{Kind: kind, Body: body}, nil
}

func (w *WireVariant) decode() (domain.RequestVariant, error) {
	return domain.UnmarshalVariant(w.Kind, w.Body)
}

// Client-to-gateway message types on the callback stream.
const (
	clientTypeInit        = "init"
	clientTypeResponse    = "response"
	clientTypeKeyMaterial = "key_material"
)

// Gateway-to-client message types on the callback stream.
const (
	gatewayTypeInitOK              = "init_ok"
	gatewayTypeCallback            = "callback"
	gatewayTypeKeyExchange         = "key_exchange_request"
	gatewayTypeAddressConfirmation = "address_confirmation_request"
	gatewayTypeError               = "error"
)

// clientMessage is any message the client sends on the callback stream.
type clientMessage struct {
	Type string `json:"type"`

	// init
	SessionID string `json:"session_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Policy    string `json:"policy,omitempty"`

	// response
	CallbackID string       `json:"callback_id,omitempty"`
	Variant    *WireVariant `json:"variant,omitempty"`
	Error      string       `json:"error,omitempty"`

	// key_material
	Key []byte `json:"key,omitempty"`
}

// gatewayMessage is any message the gateway sends on the callback stream.
type gatewayMessage struct {
	Type             string                `json:"type"`
	SessionID        string                `json:"session_id,omitempty"`
	CallbackID       string                `json:"callback_id,omitempty"`
	Variant          *WireVariant          `json:"variant,omitempty"`
	Address          *domain.CryptoAddress `json:"address,omitempty"`
	Error            string                `json:"error,omitempty"`
	ErrorDescription string                `json:"error_description,omitempty"`
}

// transferRequestBody is the wire form of a Transfer call.
type transferRequestBody struct {
	Variant       *WireVariant       `json:"variant"`
	Hint          domain.RoutingHint `json:"hint"`
	OriginatorKey []byte             `json:"originator_key,omitempty"`
}

type transferReplyBody struct {
	Variant         *WireVariant             `json:"variant,omitempty"`
	Queued          bool                     `json:"queued,omitempty"`
	QueuedMessageID string                   `json:"queued_message_id,omitempty"`
	Metadata        gateway.TransferMetadata `json:"metadata"`
}

type conciergeRequestBody struct {
	Limit           int        `json:"limit"`
	IncludeArchived bool       `json:"include_archived,omitempty"`
	Since           *time.Time `json:"since,omitempty"`
	OldestFirst     bool       `json:"oldest_first,omitempty"`
	ForceDelete     bool       `json:"force_delete,omitempty"`
}

type queuedMessageBody struct {
	ID               string       `json:"id"`
	CounterpartyID   string       `json:"counterparty_id,omitempty"`
	Variant          *WireVariant `json:"variant"`
	ReceivedAt       time.Time    `json:"received_at"`
	ReceiptSent      bool         `json:"receipt_sent,omitempty"`
	ResponseRequired bool         `json:"response_required,omitempty"`
	Archived         bool         `json:"archived,omitempty"`
}

type conciergeReplyBody struct {
	Messages      []queuedMessageBody `json:"messages"`
	ArchivedCount int                 `json:"archived_count"`
	DeletedCount  int                 `json:"deleted_count"`
}

func toConciergeReply(w queue.Withdrawal) (conciergeReplyBody, error) {
	reply := conciergeReplyBody{
		Messages:      make([]queuedMessageBody, 0, len(w.Messages)),
		ArchivedCount: w.Archived,
		DeletedCount:  w.Deleted,
	}
	for _, msg := range w.Messages {
		variant, err := encodeVariant(msg.Variant)
		if err != nil {
			return conciergeReplyBody{}, err
		}
		reply.Messages = append(reply.Messages, queuedMessageBody{
			ID:               msg.ID,
			CounterpartyID:   msg.CounterpartyID,
			Variant:          variant,
			ReceivedAt:       msg.ReceivedAt,
			ReceiptSent:      msg.ReceiptSent,
			ResponseRequired: msg.ResponseRequired,
			Archived:         msg.Archived,
		})
	}
	return reply, nil
}

type lookupRequestBody struct {
	Network   string   `json:"network"`
	AssetType string   `json:"asset_type,omitempty"`
	Addresses []string `json:"addresses"`
}

type lookupReplyBody struct {
	Addresses []*addressBindingBody `json:"addresses"`
	Errors    []*lookupErrorBody    `json:"errors"`
	Requested int                   `json:"n_requested"`
	Found     int                   `json:"n_found"`
	Errored   int                   `json:"n_errored"`
}

type addressBindingBody struct {
	Address      domain.CryptoAddress `json:"address"`
	Counterparty domain.Counterparty  `json:"counterparty"`
	Confidence   float64              `json:"confidence,omitempty"`
}

type lookupErrorBody struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type confirmRequestBody struct {
	Address domain.CryptoAddress `json:"address"`
	Hint    domain.RoutingHint   `json:"hint,omitempty"`
}
