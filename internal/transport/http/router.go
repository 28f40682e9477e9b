package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liaison/pkg/platform/middleware"
)

// NewRouter wires the boundary routes. Client-facing operations sit behind
// bearer auth; the peer inbound endpoint authenticates at the transport
// layer (mutual TLS) and skips the client token check.
func NewRouter(h *Handler, stream *StreamHandler, validator middleware.JWTValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Logger(logger))

	r.Group(func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.RequireAuth(validator, logger))
		r.Post("/v1/transfers", h.handleTransfer)
		r.Post("/v1/concierge", h.handleConcierge)
		r.Post("/v1/addresses/lookup", h.handleLookupAddress)
		r.Post("/v1/addresses/confirm", h.handleConfirmAddress)
		r.Get("/v1/status", h.handleStatus)
	})

	// The callback stream outlives any request timeout.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, logger))
		r.Get("/v1/callbacks", stream.HandleCallbacks)
	})

	r.Post("/v1/peer/inbound", h.handlePeerInbound)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
