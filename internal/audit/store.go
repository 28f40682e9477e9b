package audit

import "context"

// Store is an append-only sink for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Closer is implemented by stores that hold external connections.
type Closer interface {
	Close() error
}
