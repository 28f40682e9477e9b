package audit

import "time"

// Action names the gateway operation an audit event records.
type Action string

const (
	ActionExchangeSent     Action = "exchange_sent"
	ActionExchangeReceived Action = "exchange_received"
	ActionExchangeQueued   Action = "exchange_queued"
	ActionCallbackResolved Action = "callback_resolved"
	ActionCallbackTimeout  Action = "callback_timeout"
	ActionSessionOpened    Action = "session_opened"
	ActionSessionClosed    Action = "session_closed"
	ActionAddressLookup    Action = "address_lookup"
	ActionAddressConfirmed Action = "address_confirmed"
	ActionKeyExchange      Action = "key_exchange"
)

// Event captures one gateway action for the audit trail. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Action         Action    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	ExchangeID     string    `json:"exchange_id,omitempty"`
	CounterpartyID string    `json:"counterparty_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	CallbackID     string    `json:"callback_id,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
}
