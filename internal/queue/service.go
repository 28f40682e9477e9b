package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liaison/internal/domain"
	"liaison/internal/platform/metrics"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/platform/sentinel"
)

// Service shapes queue operations for the gateway: it stamps new messages,
// maps storage failures onto the error taxonomy and keeps the depth gauges
// current.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hold stores a message for later retrieval. A zero ID is assigned, a zero
// ReceivedAt is stamped with the current time.
func (s *Service) Hold(ctx context.Context, msg domain.QueuedMessage) (domain.QueuedMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now().UTC()
	}
	if err := s.store.Enqueue(ctx, msg); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return domain.QueuedMessage{}, dErrors.Wrap(err, dErrors.CodeValidation, "message already queued")
		}
		s.logger.ErrorContext(ctx, "failed to enqueue message",
			"message_id", msg.ID, "direction", msg.Direction, "error", err)
		return domain.QueuedMessage{}, dErrors.Wrap(err, dErrors.CodeQueueUnavailable, "queue storage failed")
	}
	s.observeDepth(ctx, msg.Direction)
	return msg, nil
}

// Withdraw drains messages according to opts. The withdrawal is atomic with
// respect to concurrent callers: each message is delivered to exactly one of
// them.
func (s *Service) Withdraw(ctx context.Context, direction domain.Direction, opts WithdrawOptions) (Withdrawal, error) {
	w, err := s.store.Withdraw(ctx, direction, opts)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to withdraw messages",
			"direction", direction, "error", err)
		return Withdrawal{}, dErrors.Wrap(err, dErrors.CodeQueueUnavailable, "queue storage failed")
	}
	s.observeDepth(ctx, direction)
	return w, nil
}

// Depth reports the number of unarchived messages held for a direction.
func (s *Service) Depth(ctx context.Context, direction domain.Direction) (int, error) {
	n, err := s.store.Count(ctx, direction)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeQueueUnavailable, "queue storage failed")
	}
	return n, nil
}

func (s *Service) observeDepth(ctx context.Context, direction domain.Direction) {
	if s.metrics == nil {
		return
	}
	n, err := s.store.Count(ctx, direction)
	if err != nil {
		return
	}
	s.metrics.QueueDepth.WithLabelValues(string(direction)).Set(float64(n))
}
