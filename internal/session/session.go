// Package session owns the set of open callback sessions: the per-session
// lifecycle state machine, the conflict policy when channels compete for one
// session id, and selection of sessions for inbound dispatch.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"liaison/internal/domain"
)

// State is a session's lifecycle position. The only legal paths are
// Uninitialized → Active → Superseded|Closed.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateSuperseded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateSuperseded:
		return "superseded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Policy is the multi-stream conflict policy a session declares at
// initialization. RejectNew and CloseOld keep one channel per session id;
// Unicast, Broadcast and RoundRobin allow a group of channels to share one
// id and govern dispatch across them.
type Policy string

const (
	PolicyRejectNew  Policy = "reject_new"
	PolicyCloseOld   Policy = "close_old"
	PolicyUnicast    Policy = "unicast"
	PolicyBroadcast  Policy = "broadcast"
	PolicyRoundRobin Policy = "round_robin"
)

// Valid reports whether p names a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyRejectNew, PolicyCloseOld, PolicyUnicast, PolicyBroadcast, PolicyRoundRobin:
		return true
	}
	return false
}

// grouped reports whether the policy admits several live channels per id.
func (p Policy) grouped() bool {
	switch p {
	case PolicyUnicast, PolicyBroadcast, PolicyRoundRobin:
		return true
	}
	return false
}

// OutboundType discriminates gateway-to-client messages on a session.
type OutboundType string

const (
	OutboundCallback            OutboundType = "callback"
	OutboundKeyExchange         OutboundType = "key_exchange_request"
	OutboundAddressConfirmation OutboundType = "address_confirmation_request"
)

// Outbound is one gateway-to-client message dispatched over a session.
type Outbound struct {
	Type       OutboundType
	CallbackID string
	Variant    domain.RequestVariant
	Address    *domain.CryptoAddress
}

// Session is one client channel. A Session is created Uninitialized the
// instant its channel opens and joins the registry only when its
// initialization message is accepted.
type Session struct {
	// ChannelID uniquely identifies the underlying channel; distinct channels
	// sharing a session id keep distinct channel ids.
	ChannelID string

	mu        sync.Mutex
	id        string
	mode      domain.VariantKind
	policy    Policy
	state     State
	openedAt  time.Time
	activated time.Time
	clientKey []byte

	send      func(Outbound) error
	terminate func(reason error)

	pending   atomic.Int64
	completed atomic.Int64
}

// ID returns the client-chosen session id; empty until initialized.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Mode returns the session's fixed request-variant mode.
func (s *Session) Mode() domain.VariantKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Policy returns the session's conflict policy.
func (s *Session) Policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Uptime reports how long the session has been active; zero before
// activation.
func (s *Session) Uptime(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activated.IsZero() {
		return 0
	}
	return now.Sub(s.activated)
}

// SetClientKey records the sealing public key the client supplied over its
// channel. The key lives and dies with the session.
func (s *Session) SetClientKey(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientKey = key
}

// ClientKey returns the client's recorded sealing key; nil until the client
// supplies one.
func (s *Session) ClientKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientKey
}

// Send delivers one outbound message over the channel.
func (s *Session) Send(msg Outbound) error {
	return s.send(msg)
}

// Pending returns the number of callbacks dispatched to this session still
// awaiting a client response.
func (s *Session) Pending() int64 { return s.pending.Load() }

// Completed returns the number of callbacks this session has resolved.
func (s *Session) Completed() int64 { return s.completed.Load() }

// TrackDispatch records one outstanding callback.
func (s *Session) TrackDispatch() { s.pending.Add(1) }

// TrackResolution records one callback leaving the pending set; answered
// marks it as completed work rather than a timeout or cancellation.
func (s *Session) TrackResolution(answered bool) {
	s.pending.Add(-1)
	if answered {
		s.completed.Add(1)
	}
}
