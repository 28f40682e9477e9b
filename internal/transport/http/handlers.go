// Package httptransport is the thin HTTP layer over the gateway facade. It
// decodes wire shapes, delegates to the service and translates domain errors
// into JSON envelopes; no business logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"

	"liaison/internal/gateway"
	"liaison/internal/queue"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/platform/httputil"
	"liaison/pkg/requestcontext"
)

// Handler serves the unary boundary operations.
type Handler struct {
	gateway *gateway.Service
	logger  *slog.Logger
}

func NewHandler(gw *gateway.Service, logger *slog.Logger) *Handler {
	return &Handler{gateway: gw, logger: logger}
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, ok := httputil.DecodeAndPrepare[transferRequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if body.Variant == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "transfer requires a variant"))
		return
	}
	variant, err := body.Variant.decode()
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidPayload, "undecodable request variant"))
		return
	}

	reply, err := h.gateway.Transfer(ctx, gateway.TransferRequest{
		Variant:       variant,
		Hint:          body.Hint,
		OriginatorKey: body.OriginatorKey,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	wireVariant, err := encodeVariant(reply.Variant)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode transfer reply",
			"request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode reply"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transferReplyBody{
		Variant:         wireVariant,
		Queued:          reply.Queued,
		QueuedMessageID: reply.QueuedMessageID,
		Metadata:        reply.Metadata,
	})
}

func (h *Handler) handleConcierge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, ok := httputil.DecodeAndPrepare[conciergeRequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	opts := queue.WithdrawOptions{
		Limit:           body.Limit,
		IncludeArchived: body.IncludeArchived,
		OldestFirst:     body.OldestFirst,
		ForceDelete:     body.ForceDelete,
	}
	if body.Since != nil {
		opts.Since = *body.Since
	}

	withdrawal, err := h.gateway.Concierge(ctx, opts)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reply, err := toConciergeReply(withdrawal)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode withdrawn messages",
			"request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "encode reply"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleLookupAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, ok := httputil.DecodeAndPrepare[lookupRequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.gateway.LookupAddress(ctx, body.Network, body.AssetType, body.Addresses)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reply := lookupReplyBody{
		Addresses: make([]*addressBindingBody, len(result.Bindings)),
		Errors:    make([]*lookupErrorBody, len(result.Errors)),
		Requested: result.Requested,
		Found:     result.Found,
		Errored:   result.Errored,
	}
	for i, binding := range result.Bindings {
		if binding != nil {
			reply.Addresses[i] = &addressBindingBody{
				Address:      binding.Address,
				Counterparty: binding.Counterparty,
				Confidence:   binding.Confidence,
			}
			continue
		}
		reply.Errors[i] = &lookupErrorBody{
			Code:        string(dErrors.CodeOf(result.Errors[i])),
			Description: dErrors.MessageOf(result.Errors[i]),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, reply)
}

func (h *Handler) handleConfirmAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, ok := httputil.DecodeAndPrepare[confirmRequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	confirmation, err := h.gateway.ConfirmAddress(ctx, body.Address, body.Hint)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, confirmation)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	opts := gateway.StatusOptions{
		NoStreams: r.URL.Query().Get("no_streams") == "true",
		NoQueue:   r.URL.Query().Get("no_queue") == "true",
	}
	httputil.WriteJSON(w, http.StatusOK, h.gateway.Status(r.Context(), opts))
}

func (h *Handler) handlePeerInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[gateway.PeerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.ExchangeID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "inbound exchange requires an exchange_id"))
		return
	}

	reply, err := h.gateway.HandleInbound(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reply)
}
