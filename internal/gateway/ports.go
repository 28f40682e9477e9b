package gateway

import (
	"context"

	"liaison/internal/domain"
)

// PeerRequest is one exchange arriving from or departing to a counterpart
// gateway on the peer network.
type PeerRequest struct {
	ExchangeID     string                 `json:"exchange_id"`
	CounterpartyID string                 `json:"counterparty_id,omitempty"`
	SenderKey      []byte                 `json:"sender_key,omitempty"`
	Kind           domain.VariantKind     `json:"kind"`
	Envelope       domain.SecureEnvelope  `json:"envelope"`
	NeedsResponse  bool                   `json:"needs_response,omitempty"`
}

// PeerReply is the counterpart gateway's answer to a PeerRequest. Queued
// means the remote side accepted the exchange into its retrieval queue and a
// synchronous response will not follow.
type PeerReply struct {
	Envelope domain.SecureEnvelope `json:"envelope"`
	Queued   bool                  `json:"queued,omitempty"`
}

// PeerTransport delivers sealed exchanges to counterparty endpoints. The
// network's own handshake and proof-of-control protocol live behind this
// boundary. Unreachable endpoints are reported with sentinel.ErrUnavailable
// in the error chain.
type PeerTransport interface {
	Send(ctx context.Context, endpoint string, req PeerRequest) (PeerReply, error)
}
