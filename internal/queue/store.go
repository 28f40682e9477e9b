// Package queue is the durable retrieval queue: a holding area for inbound
// exchanges with no live session to serve them and for outbound exchanges
// whose counterparty was unreachable, supporting filtered, ordered,
// paginated withdrawal with archive/delete semantics.
package queue

import (
	"context"
	"time"

	"liaison/internal/domain"
)

// WithdrawOptions filter and shape one withdrawal.
type WithdrawOptions struct {
	// Limit caps the number of messages returned; negative means unbounded.
	Limit int
	// IncludeArchived admits previously archived messages.
	IncludeArchived bool
	// Since filters to messages received strictly after the given instant;
	// the zero time disables the filter.
	Since time.Time
	// OldestFirst reverses the default newest-first ordering.
	OldestFirst bool
	// ForceDelete removes withdrawn messages instead of archiving them.
	ForceDelete bool
}

// Withdrawal is the outcome of one withdraw call. Archived and Deleted count
// state transitions performed by this call only.
type Withdrawal struct {
	Messages []domain.QueuedMessage
	Archived int
	Deleted  int
}

// Store persists queued messages. Withdraw must behave as a transactional
// dequeue: concurrent calls never double-deliver, double-archive, or
// double-delete a message.
type Store interface {
	Enqueue(ctx context.Context, msg domain.QueuedMessage) error
	Withdraw(ctx context.Context, direction domain.Direction, opts WithdrawOptions) (Withdrawal, error)
	Count(ctx context.Context, direction domain.Direction) (int, error)
}
