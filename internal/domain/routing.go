package domain

import "errors"

// RoutingHint is the partial routing information a client supplies with a
// transfer: exactly one of an explicit endpoint, a counterparty identifier
// (organization ID or LEI), or a crypto address descriptor.
type RoutingHint struct {
	Endpoint       string         `json:"endpoint,omitempty"`
	CounterpartyID string         `json:"counterparty_id,omitempty"`
	Address        *CryptoAddress `json:"address,omitempty"`
}

// HintKind identifies which RoutingHint alternative is populated.
type HintKind int

const (
	HintNone HintKind = iota
	HintEndpoint
	HintCounterparty
	HintAddress
)

// Kind returns the populated alternative, or HintNone when zero or more than
// one alternative is set.
func (h RoutingHint) Kind() HintKind {
	var kind HintKind
	n := 0
	if h.Endpoint != "" {
		kind = HintEndpoint
		n++
	}
	if h.CounterpartyID != "" {
		kind = HintCounterparty
		n++
	}
	if h.Address != nil {
		kind = HintAddress
		n++
	}
	if n != 1 {
		return HintNone
	}
	return kind
}

// Validate enforces the exactly-one-alternative invariant.
func (h RoutingHint) Validate() error {
	if h.Kind() == HintNone {
		return errors.New("routing hint must populate exactly one of endpoint, counterparty_id, address")
	}
	if h.Address != nil && (h.Address.Address == "" || h.Address.Network == "") {
		return errors.New("crypto address descriptor requires address and network")
	}
	return nil
}

// CryptoAddress describes an on-chain address on a named network, optionally
// narrowed to an asset type for networks that multiplex assets.
type CryptoAddress struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	AssetType string `json:"asset_type,omitempty"`
}

// Counterparty is a peer organization as recorded by the external directory.
// SealingKey is the organization's X25519 public key used to seal symmetric
// key material toward it; empty when the directory holds no key for the
// record.
type Counterparty struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Directory  string `json:"directory"`
	Endpoint   string `json:"endpoint"`
	SealingKey []byte `json:"sealing_key,omitempty"`
}

// ResolvedRoute is the outcome of address resolution for one request: who the
// counterparty is and where to reach it. Confidence carries the
// address-to-counterparty binding strength when routing was address based;
// zero otherwise. Routes live only for the request that produced them.
type ResolvedRoute struct {
	Counterparty Counterparty
	Endpoint     string
	Address      *CryptoAddress
	Confidence   float64
}
