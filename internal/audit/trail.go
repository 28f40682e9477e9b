package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const defaultInboxSize = 256

// Trail records gateway actions asynchronously. Record never blocks the
// calling operation: events are buffered and persisted by Run, and dropped
// with a warning when the buffer is full. Exchange processing is never
// failed on account of the audit trail.
type Trail struct {
	store   Store
	inbox   chan Event
	logger  *slog.Logger
	now     func() time.Time
	dropped atomic.Int64
}

type TrailOption func(*Trail)

func WithLogger(l *slog.Logger) TrailOption {
	return func(t *Trail) { t.logger = l }
}

func WithInboxSize(n int) TrailOption {
	return func(t *Trail) { t.inbox = make(chan Event, n) }
}

func NewTrail(store Store, opts ...TrailOption) *Trail {
	t := &Trail{
		store:  store,
		inbox:  make(chan Event, defaultInboxSize),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record queues an event for persistence. Safe to call from request paths.
func (t *Trail) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}
	select {
	case t.inbox <- event:
	default:
		t.dropped.Add(1)
		t.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"action", event.Action, "exchange_id", event.ExchangeID)
	}
}

// Run consumes the inbox until ctx is cancelled, then drains what is left.
// Append failures are logged and skipped.
func (t *Trail) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.drain()
			return ctx.Err()
		case event := <-t.inbox:
			t.append(ctx, event)
		}
	}
}

// Dropped reports how many events were discarded because the inbox was full.
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Trail) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-t.inbox:
			t.append(ctx, event)
		default:
			return
		}
	}
}

func (t *Trail) append(ctx context.Context, event Event) {
	if err := t.store.Append(ctx, event); err != nil {
		t.logger.ErrorContext(ctx, "failed to persist audit event",
			"action", event.Action, "exchange_id", event.ExchangeID, "error", err)
	}
}
