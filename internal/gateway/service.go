// Package gateway composes resolution, sealing, sessions, correlation and the
// retrieval queue into the operations exposed at the boundary.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"liaison/internal/audit"
	"liaison/internal/callback"
	"liaison/internal/domain"
	"liaison/internal/platform/metrics"
	"liaison/internal/queue"
	"liaison/internal/resolve"
	"liaison/internal/seal"
	"liaison/internal/session"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/platform/sentinel"
	"liaison/pkg/requestcontext"
)

// Service is the gateway facade.
type Service struct {
	resolver   *resolve.Service
	sealer     *seal.Service
	registry   *session.Registry
	correlator *callback.Correlator
	queue      *queue.Service
	peers      PeerTransport

	trail   *audit.Trail
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	version string
	started time.Time
	now     func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditTrail(t *audit.Trail) Option {
	return func(s *Service) { s.trail = t }
}

func WithVersion(v string) Option {
	return func(s *Service) { s.version = v }
}

func New(
	resolver *resolve.Service,
	sealer *seal.Service,
	registry *session.Registry,
	correlator *callback.Correlator,
	q *queue.Service,
	peers PeerTransport,
	opts ...Option,
) *Service {
	s := &Service{
		resolver:   resolver,
		sealer:     sealer,
		registry:   registry,
		correlator: correlator,
		queue:      q,
		peers:      peers,
		logger:     slog.Default(),
		tracer:     otel.Tracer("liaison/gateway"),
		version:    "dev",
		now:        time.Now,
	}
	s.started = s.now()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TransferRequest carries exactly one request variant and exactly one
// routing hint. OriginatorKey is the client's X25519 public key for reply
// sealing; when absent the gateway's own key stands in.
type TransferRequest struct {
	Variant       domain.RequestVariant
	Hint          domain.RoutingHint
	OriginatorKey []byte
}

// TransferMetadata describes how an exchange was handled.
type TransferMetadata struct {
	ExchangeID       string                `json:"exchange_id"`
	Counterparty     domain.Counterparty   `json:"counterparty"`
	Endpoint         string                `json:"endpoint"`
	Address          *domain.CryptoAddress `json:"address,omitempty"`
	ProcessingMillis int64                 `json:"processing_millis"`
}

// TransferReply is the outcome of one transfer. When Queued is set the
// counterparty was unreachable and the sealed exchange was parked in the
// outgoing queue; Variant is empty and QueuedMessageID identifies the parked
// message.
type TransferReply struct {
	Variant         domain.RequestVariant
	Queued          bool
	QueuedMessageID string
	Metadata        TransferMetadata
}

// Transfer originates an exchange toward a counterparty: resolve the route,
// perform the delegated cryptographic work, deliver over the peer transport
// and assemble the reply variant.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferReply, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Transfer")
	defer span.End()

	start := s.now()
	exchangeID := uuid.NewString()
	span.SetAttributes(attribute.String("exchange_id", exchangeID))

	if req.Variant == nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, "",
			dErrors.New(dErrors.CodeValidation, "transfer carries no request variant"))
	}
	if err := req.Hint.Validate(); err != nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, "",
			dErrors.Wrap(err, dErrors.CodeValidation, "invalid routing hint"))
	}

	route, err := s.resolver.Resolve(ctx, req.Hint)
	if err != nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, "", err)
	}

	envelope, kit, err := s.sealer.Prepare(req.Variant, route.Counterparty)
	if err != nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, route.Counterparty.ID, err)
	}
	defer kit.Close()
	envelope.ExchangeID = exchangeID

	peerReq := PeerRequest{
		ExchangeID:     exchangeID,
		CounterpartyID: route.Counterparty.ID,
		SenderKey:      s.publicKey(),
		Kind:           domain.KindOf(req.Variant),
		Envelope:       envelope,
	}
	peerReply, err := s.peers.Send(ctx, route.Endpoint, peerReq)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return s.parkOutbound(ctx, exchangeID, route, envelope, start)
		}
		return TransferReply{}, s.failTransfer(ctx, exchangeID, route.Counterparty.ID, err)
	}

	variant, err := s.assembleReply(req.Variant, kit, peerReply, req.OriginatorKey)
	if err != nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, route.Counterparty.ID, err)
	}

	s.countTransfer("completed")
	s.record(ctx, audit.Event{
		Action:         audit.ActionExchangeSent,
		ExchangeID:     exchangeID,
		CounterpartyID: route.Counterparty.ID,
		Outcome:        "completed",
	})

	return TransferReply{
		Variant: variant,
		Metadata: TransferMetadata{
			ExchangeID:       exchangeID,
			Counterparty:     route.Counterparty,
			Endpoint:         route.Endpoint,
			Address:          route.Address,
			ProcessingMillis: s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// assembleReply shapes the counterparty's answer for the caller. Cipher and
// Information exchanges get the key material re-sealed under the
// originator's key; passthrough replies travel untouched.
func (s *Service) assembleReply(sent domain.RequestVariant, kit *seal.Kit, reply PeerReply, originatorKey []byte) (domain.RequestVariant, error) {
	if len(originatorKey) == 0 {
		pub := s.sealer.PublicKey()
		originatorKey = pub[:]
	}
	switch sent.(type) {
	case domain.Passthrough:
		return domain.Passthrough{Envelope: reply.Envelope}, nil
	case domain.Cipher, domain.Information:
		return s.sealer.SealReply(kit, reply.Envelope, originatorKey)
	default:
		return nil, dErrors.New(dErrors.CodeInvalidPayload, "request carries no recognizable variant")
	}
}

// parkOutbound stores a sealed exchange the peer could not receive and
// produces the queued-confirmation reply.
func (s *Service) parkOutbound(ctx context.Context, exchangeID string, route domain.ResolvedRoute, envelope domain.SecureEnvelope, start time.Time) (TransferReply, error) {
	msg, err := s.queue.Hold(ctx, domain.QueuedMessage{
		ID:             exchangeID,
		Direction:      domain.DirectionOutgoing,
		CounterpartyID: route.Counterparty.ID,
		Variant:        domain.Passthrough{Envelope: envelope},
	})
	if err != nil {
		return TransferReply{}, s.failTransfer(ctx, exchangeID, route.Counterparty.ID, err)
	}

	s.countTransfer("queued")
	s.logger.WarnContext(ctx, "counterparty unreachable, exchange parked",
		"exchange_id", exchangeID, "counterparty_id", route.Counterparty.ID, "endpoint", route.Endpoint)
	s.record(ctx, audit.Event{
		Action:         audit.ActionExchangeQueued,
		ExchangeID:     exchangeID,
		CounterpartyID: route.Counterparty.ID,
		Outcome:        "queued",
	})

	return TransferReply{
		Queued:          true,
		QueuedMessageID: msg.ID,
		Metadata: TransferMetadata{
			ExchangeID:       exchangeID,
			Counterparty:     route.Counterparty,
			Endpoint:         route.Endpoint,
			Address:          route.Address,
			ProcessingMillis: s.now().Sub(start).Milliseconds(),
		},
	}, nil
}

// HandleInbound serves an exchange arriving from a counterpart gateway:
// select an eligible session, dispatch a callback and wait for the client's
// answer; without an eligible session (or on timeout) the exchange lands in
// the retrieval queue and the peer receives a queued receipt.
func (s *Service) HandleInbound(ctx context.Context, req PeerRequest) (PeerReply, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.HandleInbound")
	defer span.End()
	span.SetAttributes(attribute.String("exchange_id", req.ExchangeID))

	s.record(ctx, audit.Event{
		Action:         audit.ActionExchangeReceived,
		ExchangeID:     req.ExchangeID,
		CounterpartyID: req.CounterpartyID,
	})

	targets, policy, err := s.registry.SelectAny()
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return s.parkInbound(ctx, req)
		}
		return PeerReply{}, err
	}

	variant, err := s.sealer.OpenInbound(req.Envelope, targets[0].Mode())
	if err != nil {
		return PeerReply{}, err
	}
	if cipher, ok := variant.(domain.Cipher); ok {
		if clientKey := targets[0].ClientKey(); len(clientKey) > 0 {
			variant, err = s.sealer.SealForClient(cipher, clientKey)
			if err != nil {
				return PeerReply{}, err
			}
		}
	}

	id, done, err := s.correlator.Dispatch(targets, policy, variant)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSessionClosed) {
			return s.parkInbound(ctx, req)
		}
		return PeerReply{}, err
	}

	select {
	case <-ctx.Done():
		return PeerReply{}, ctx.Err()
	case result := <-done:
		if result.Err != nil {
			if dErrors.HasCode(result.Err, dErrors.CodeCallbackTimeout) ||
				dErrors.HasCode(result.Err, dErrors.CodeSessionClosed) {
				s.record(ctx, audit.Event{
					Action:     audit.ActionCallbackTimeout,
					ExchangeID: req.ExchangeID,
					CallbackID: id,
					Reason:     dErrors.MessageOf(result.Err),
				})
				return s.parkInbound(ctx, req)
			}
			return PeerReply{}, result.Err
		}
		return s.sealResponse(ctx, req, id, result.Variant)
	}
}

// sealResponse turns the client's answer into an envelope sealed toward the
// requesting counterparty.
func (s *Service) sealResponse(ctx context.Context, req PeerRequest, callbackID string, variant domain.RequestVariant) (PeerReply, error) {
	counterparty := domain.Counterparty{ID: req.CounterpartyID, SealingKey: req.SenderKey}
	envelope, kit, err := s.sealer.Prepare(variant, counterparty)
	if err != nil {
		return PeerReply{}, err
	}
	kit.Close()
	envelope.ExchangeID = req.ExchangeID

	s.record(ctx, audit.Event{
		Action:         audit.ActionCallbackResolved,
		ExchangeID:     req.ExchangeID,
		CounterpartyID: req.CounterpartyID,
		CallbackID:     callbackID,
		Outcome:        "answered",
	})
	return PeerReply{Envelope: envelope}, nil
}

// parkInbound deposits an undeliverable inbound exchange and acknowledges
// receipt so the peer stops waiting.
func (s *Service) parkInbound(ctx context.Context, req PeerRequest) (PeerReply, error) {
	msg := domain.QueuedMessage{
		ID:               req.ExchangeID,
		Direction:        domain.DirectionIncoming,
		CounterpartyID:   req.CounterpartyID,
		Variant:          domain.Passthrough{Envelope: req.Envelope},
		ReceiptSent:      true,
		ResponseRequired: req.NeedsResponse,
	}
	if _, err := s.queue.Hold(ctx, msg); err != nil {
		return PeerReply{}, err
	}
	s.record(ctx, audit.Event{
		Action:         audit.ActionExchangeQueued,
		ExchangeID:     req.ExchangeID,
		CounterpartyID: req.CounterpartyID,
		Outcome:        "queued",
	})
	return PeerReply{Queued: true}, nil
}

// Concierge withdraws queued inbound exchanges for the client.
func (s *Service) Concierge(ctx context.Context, opts queue.WithdrawOptions) (queue.Withdrawal, error) {
	w, err := s.queue.Withdraw(ctx, domain.DirectionIncoming, opts)
	if err != nil {
		return queue.Withdrawal{}, err
	}
	s.record(ctx, audit.Event{
		Action:  audit.ActionExchangeReceived,
		Outcome: "withdrawn",
		Reason:  "concierge",
	})
	return w, nil
}

// LookupAddress resolves a batch of crypto addresses to counterparties.
func (s *Service) LookupAddress(ctx context.Context, network, assetType string, addresses []string) (*resolve.BatchResult, error) {
	result, err := s.resolver.LookupAddresses(ctx, network, assetType, addresses)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Event{
		Action:  audit.ActionAddressLookup,
		Outcome: "completed",
	})
	return result, nil
}

// Confirmation is the provisional outcome of an address-confirmation
// exchange. The payload shape tracks the peer network's unfinished
// proof-of-control protocol.
type Confirmation struct {
	Address      domain.CryptoAddress `json:"address"`
	Confirmed    bool                 `json:"confirmed"`
	Counterparty domain.Counterparty  `json:"counterparty"`
	Endpoint     string               `json:"endpoint"`
}

// ConfirmAddress asks the counterparty controlling an address to confirm
// control of it. Routing follows Transfer: an explicit hint is used as
// given, otherwise the address itself is resolved and more than one owner
// fails with ambiguous.
func (s *Service) ConfirmAddress(ctx context.Context, address domain.CryptoAddress, hint domain.RoutingHint) (Confirmation, error) {
	if address.Address == "" || address.Network == "" {
		return Confirmation{}, dErrors.New(dErrors.CodeValidation,
			"address confirmation requires address and network")
	}
	if hint.Kind() == domain.HintNone {
		hint = domain.RoutingHint{Address: &address}
	}

	route, err := s.resolver.Resolve(ctx, hint)
	if err != nil {
		return Confirmation{}, err
	}

	body, err := json.Marshal(address)
	if err != nil {
		return Confirmation{}, dErrors.Wrap(err, dErrors.CodeInternal, "encode confirmation payload")
	}
	envelope, kit, err := s.sealer.Prepare(domain.Information{Identity: body}, route.Counterparty)
	if err != nil {
		return Confirmation{}, err
	}
	kit.Close()
	envelope.ExchangeID = uuid.NewString()

	_, err = s.peers.Send(ctx, route.Endpoint, PeerRequest{
		ExchangeID:     envelope.ExchangeID,
		CounterpartyID: route.Counterparty.ID,
		SenderKey:      s.publicKey(),
		Kind:           domain.KindInformation,
		Envelope:       envelope,
	})
	if err != nil {
		return Confirmation{}, err
	}

	s.record(ctx, audit.Event{
		Action:         audit.ActionAddressConfirmed,
		ExchangeID:     envelope.ExchangeID,
		CounterpartyID: route.Counterparty.ID,
		Outcome:        "confirmed",
	})
	return Confirmation{
		Address:      address,
		Confirmed:    true,
		Counterparty: route.Counterparty,
		Endpoint:     route.Endpoint,
	}, nil
}

func (s *Service) publicKey() []byte {
	pub := s.sealer.PublicKey()
	return pub[:]
}

func (s *Service) failTransfer(ctx context.Context, exchangeID, counterpartyID string, err error) error {
	s.countTransfer("failed")
	s.logger.ErrorContext(ctx, "transfer failed",
		"exchange_id", exchangeID,
		"counterparty_id", counterpartyID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err)
	s.record(ctx, audit.Event{
		Action:         audit.ActionExchangeSent,
		ExchangeID:     exchangeID,
		CounterpartyID: counterpartyID,
		Outcome:        "failed",
		Reason:         dErrors.MessageOf(err),
	})
	return err
}

func (s *Service) countTransfer(outcome string) {
	if s.metrics != nil {
		s.metrics.TransfersTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.trail == nil {
		return
	}
	event.RequestID = requestcontext.RequestID(ctx)
	s.trail.Record(ctx, event)
}
