package domain

import "time"

// Direction distinguishes exchanges a peer sent to us from exchanges we could
// not deliver to a peer.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// QueuedMessage is an exchange held in the retrieval queue: an inbound peer
// request with no eligible session to serve it, or an outbound transfer whose
// counterparty endpoint was unreachable.
//
// ReceiptSent records whether a confirmation receipt already went back to the
// counterparty, so withdrawal does not trigger a duplicate. ResponseRequired
// marks messages the client still owes an answer for after pickup. Archived
// messages stay retrievable (with include-archived) until explicitly deleted.
type QueuedMessage struct {
	ID               string
	Direction        Direction
	CounterpartyID   string
	Variant          RequestVariant
	ReceivedAt       time.Time
	ReceiptSent      bool
	ResponseRequired bool
	Archived         bool
}
