package httptransport

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liaison/internal/callback"
	"liaison/internal/domain"
	"liaison/internal/session"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/requestcontext"
)

// StreamHandler serves the callback stream: a websocket channel on which the
// client initializes a session and answers dispatched callbacks. Messages on
// one channel are processed in arrival order; channels are independent.
type StreamHandler struct {
	registry   *session.Registry
	correlator *callback.Correlator
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func NewStreamHandler(registry *session.Registry, correlator *callback.Correlator, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		registry:   registry,
		correlator: correlator,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// channel wraps one websocket connection. The gorilla connection allows a
// single concurrent writer, so every write goes through the mutex.
type channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *channel) write(msg gatewayMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *channel) writeError(callbackID string, err error) {
	_ = c.write(gatewayMessage{
		Type:             gatewayTypeError,
		CallbackID:       callbackID,
		Error:            string(dErrors.CodeOf(err)),
		ErrorDescription: dErrors.MessageOf(err),
	})
}

// HandleCallbacks upgrades the connection and runs the channel's read loop
// until the client disconnects or the session is terminated.
func (h *StreamHandler) HandleCallbacks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestcontext.RequestID(ctx), "error", err)
		return
	}
	ch := &channel{conn: conn}
	channelID := uuid.NewString()

	sess := h.registry.Open(channelID,
		func(out session.Outbound) error {
			return ch.write(outboundMessage(out))
		},
		func(reason error) {
			if reason != nil {
				ch.writeError("", reason)
			}
			_ = conn.Close()
		},
	)

	h.logger.InfoContext(ctx, "callback channel opened", "channel_id", channelID)
	defer func() {
		h.registry.Close(sess, nil)
		_ = conn.Close()
		h.logger.InfoContext(ctx, "callback channel closed",
			"channel_id", channelID, "session_id", sess.ID())
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.WarnContext(ctx, "callback channel read failed",
					"channel_id", channelID, "error", err)
			}
			return
		}

		// Everything before a successful init fails without closing the
		// channel, so the client can recover by sending a valid init.
		if sess.State() == session.StateUninitialized && msg.Type != clientTypeInit {
			ch.writeError(msg.CallbackID, dErrors.New(dErrors.CodeUninitializedSession,
				"channel must be initialized before any other message"))
			continue
		}

		switch msg.Type {
		case clientTypeInit:
			if closed := h.handleInit(ch, sess, msg); closed {
				return
			}
		case clientTypeResponse:
			h.handleResponse(ch, sess, msg)
		case clientTypeKeyMaterial:
			h.handleKeyMaterial(ch, sess, msg)
		default:
			ch.writeError("", dErrors.Newf(dErrors.CodeValidation, "unknown message type %q", msg.Type))
		}
	}
}

// handleInit processes the stream-initialization descriptor. A conflict
// under the reject policy fails the whole channel; every other failure only
// fails the init message.
func (h *StreamHandler) handleInit(ch *channel, sess *session.Session, msg clientMessage) (closed bool) {
	err := h.registry.Init(sess, msg.SessionID, domain.VariantKind(msg.Mode), session.Policy(msg.Policy))
	if err != nil {
		ch.writeError("", err)
		return dErrors.HasCode(err, dErrors.CodeSessionConflict) &&
			session.Policy(msg.Policy) == session.PolicyRejectNew
	}
	_ = ch.write(gatewayMessage{Type: gatewayTypeInitOK, SessionID: msg.SessionID})

	// Cipher sessions receive inbound key material wrapped under their own
	// sealing key, so a session starting without one is asked for it.
	if sess.Mode() == domain.KindCipher && len(sess.ClientKey()) == 0 {
		_ = sess.Send(session.Outbound{Type: session.OutboundKeyExchange})
	}
	return false
}

// handleResponse resolves one callback. An unmatched id fails only this
// message; the channel stays open.
func (h *StreamHandler) handleResponse(ch *channel, sess *session.Session, msg clientMessage) {
	if msg.CallbackID == "" {
		ch.writeError("", dErrors.New(dErrors.CodeValidation, "response requires a callback_id"))
		return
	}

	var result callback.Result
	switch {
	case msg.Error != "":
		// A client-reported failure is a terminal answer to the exchange, not
		// a gateway fault; it must not read as retryable to the remote peer.
		result.Err = dErrors.New(dErrors.CodeExchangeRejected, msg.Error)
	case msg.Variant != nil:
		variant, err := msg.Variant.decode()
		if err != nil {
			ch.writeError(msg.CallbackID, dErrors.Wrap(err, dErrors.CodeInvalidPayload,
				"undecodable response variant"))
			return
		}
		result.Variant = variant
	default:
		ch.writeError(msg.CallbackID, dErrors.New(dErrors.CodeValidation,
			"response requires a variant or an error"))
		return
	}

	if err := h.correlator.Resolve(msg.CallbackID, sess, result); err != nil {
		ch.writeError(msg.CallbackID, err)
	}
}

func (h *StreamHandler) handleKeyMaterial(ch *channel, sess *session.Session, msg clientMessage) {
	if len(msg.Key) == 0 {
		ch.writeError("", dErrors.New(dErrors.CodeValidation, "key_material requires a key"))
		return
	}
	sess.SetClientKey(msg.Key)
	h.logger.Info("client sealing key recorded", "session_id", sess.ID())
}

func outboundMessage(out session.Outbound) gatewayMessage {
	msg := gatewayMessage{
		CallbackID: out.CallbackID,
		Address:    out.Address,
	}
	switch out.Type {
	case session.OutboundCallback:
		msg.Type = gatewayTypeCallback
	case session.OutboundKeyExchange:
		msg.Type = gatewayTypeKeyExchange
	case session.OutboundAddressConfirmation:
		msg.Type = gatewayTypeAddressConfirmation
	}
	if out.Variant != nil {
		if wire, err := encodeVariant(out.Variant); err == nil {
			msg.Variant = wire
		}
	}
	return msg
}
