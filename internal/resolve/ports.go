package resolve

import (
	"context"

	"liaison/internal/domain"
)

// Directory queries the external directory service for counterparty records.
// Implementations return sentinel.ErrNotFound for unknown identifiers and
// sentinel.ErrUnavailable (possibly wrapped) when the directory cannot be
// reached.
type Directory interface {
	Lookup(ctx context.Context, counterpartyID string) (domain.Counterparty, error)
}

// OwnershipIndex queries the external address-ownership index: which
// counterparties claim a given crypto address. Zero results is a valid
// answer, not an error.
type OwnershipIndex interface {
	Owners(ctx context.Context, addr domain.CryptoAddress) ([]Ownership, error)
}

// Ownership is one counterparty's claim over a crypto address, with the
// index's confidence in the binding.
type Ownership struct {
	Counterparty domain.Counterparty
	Confidence   float64
}
