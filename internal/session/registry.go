package session

import (
	"log/slog"
	"sync"
	"time"

	"liaison/internal/domain"
	"liaison/internal/platform/metrics"
	dErrors "liaison/pkg/domain-errors"
)

// Registry is the process-lifetime table of callback sessions. All lookups
// and insertions are atomic with respect to the conflict-policy decision: two
// racing initializations for one session id serialize on the registry lock,
// so at most one observes "no existing session".
type Registry struct {
	mu     sync.Mutex
	groups map[string]*group

	logger  *slog.Logger
	metrics *metrics.Metrics

	// OnClose runs after a session leaves the active set, outside the
	// registry lock. The gateway wires it to callback cancellation.
	OnClose func(s *Session, reason error)
}

// group is the set of live channels sharing one session id. Single-channel
// policies keep exactly one member.
type group struct {
	mode    domain.VariantKind
	policy  Policy
	members []*Session
	cursor  int
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		groups: make(map[string]*group),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open creates an Uninitialized session for a freshly opened channel. The
// send function delivers outbound messages; terminate forcibly closes the
// underlying channel when the session is superseded or shut down.
func (r *Registry) Open(channelID string, send func(Outbound) error, terminate func(reason error)) *Session {
	if terminate == nil {
		terminate = func(error) {}
	}
	return &Session{
		ChannelID: channelID,
		state:     StateUninitialized,
		openedAt:  time.Now(),
		send:      send,
		terminate: terminate,
	}
}

// Init processes a session's stream-initialization message. On conflict the
// behavior follows the policy: reject_new fails the new channel, close_old
// terminates the prior session, grouped policies admit the channel into the
// id's dispatch group when mode and policy match.
func (r *Registry) Init(s *Session, id string, mode domain.VariantKind, policy Policy) error {
	if id == "" {
		return dErrors.New(dErrors.CodeValidation, "session id is required")
	}
	switch mode {
	case domain.KindPassthrough, domain.KindCipher, domain.KindInformation:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown session mode %q", mode)
	}
	if !policy.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown conflict policy %q", policy)
	}

	var closed *Session

	r.mu.Lock()
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		r.mu.Unlock()
		return dErrors.New(dErrors.CodeValidation, "session already initialized")
	}

	g, exists := r.groups[id]
	if exists && len(g.members) > 0 {
		switch g.policy {
		case PolicyRejectNew:
			s.mu.Unlock()
			r.mu.Unlock()
			return dErrors.Newf(dErrors.CodeSessionConflict,
				"session %q already active under reject policy", id)

		case PolicyCloseOld:
			closed = g.members[0]
			g.members = nil
			g.mode, g.policy = mode, policy

		default:
			if g.mode != mode || g.policy != policy {
				s.mu.Unlock()
				r.mu.Unlock()
				return dErrors.Newf(dErrors.CodeSessionConflict,
					"session %q group requires mode %q policy %q", id, g.mode, g.policy)
			}
		}
	} else {
		g = &group{mode: mode, policy: policy}
		r.groups[id] = g
	}

	s.id = id
	s.mode = mode
	s.policy = policy
	s.state = StateActive
	s.activated = time.Now()
	g.members = append(g.members, s)
	s.mu.Unlock()
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsActive.Inc()
	}
	if closed != nil {
		r.retire(closed, StateSuperseded,
			dErrors.Newf(dErrors.CodeSessionClosed, "session %q superseded by a newer channel", id))
	}
	return nil
}

// Close transitions a session to Closed, removes it from its group, and runs
// the OnClose hook. Safe to call for sessions that never initialized and
// idempotent for sessions already retired.
func (r *Registry) Close(s *Session, reason error) {
	r.mu.Lock()
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateSuperseded {
		s.mu.Unlock()
		r.mu.Unlock()
		return
	}
	wasActive := s.state == StateActive
	id := s.id
	s.mu.Unlock()
	if wasActive {
		if g, ok := r.groups[id]; ok {
			g.remove(s)
			if len(g.members) == 0 {
				delete(r.groups, id)
			}
		}
	}
	r.mu.Unlock()

	if wasActive {
		r.retire(s, StateClosed, reason)
	} else {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	}
}

// retire finalizes a session's state outside the registry lock and notifies
// the close hook so its pending callbacks can be cancelled or reassigned.
// The first retirement wins: a supersession racing the old channel's own
// close must fire the hook and the gauge exactly once.
func (r *Registry) retire(s *Session, to State, reason error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateSuperseded {
		s.mu.Unlock()
		return
	}
	s.state = to
	terminate := s.terminate
	s.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsActive.Dec()
	}
	r.logger.Info("session retired",
		"session_id", s.ID(),
		"channel_id", s.ChannelID,
		"state", to.String(),
	)

	// Channel-initiated closes make this a no-op; supersession and shutdown
	// rely on it to tear the underlying channel down.
	terminate(reason)
	if r.OnClose != nil {
		r.OnClose(s, reason)
	}
}

// Select returns the sessions an inbound request for the given session id
// should be dispatched to, along with the governing policy. Unicast picks
// the least-loaded member, round_robin advances the group cursor, broadcast
// returns every member. Fails not_found when no active session serves the
// id.
func (r *Registry) Select(id string) ([]*Session, Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[id]
	if !ok || len(g.members) == 0 {
		return nil, "", dErrors.Newf(dErrors.CodeNotFound, "no active session %q", id)
	}
	return g.pick(), g.policy, nil
}

// SelectAny returns dispatch targets for an inbound request with no session
// targeting: the least-loaded group wins. Fails not_found when no session is
// active at all.
func (r *Registry) SelectAny() ([]*Session, Policy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *group
	var bestLoad int64
	for _, g := range r.groups {
		if len(g.members) == 0 {
			continue
		}
		load := g.load()
		if best == nil || load < bestLoad {
			best, bestLoad = g, load
		}
	}
	if best == nil {
		return nil, "", dErrors.New(dErrors.CodeNotFound, "no active callback session")
	}
	return best.pick(), best.policy, nil
}

// Snapshot describes one session for status reporting.
type Snapshot struct {
	SessionID string        `json:"session_id"`
	ChannelID string        `json:"channel_id"`
	Mode      string        `json:"mode"`
	Policy    Policy        `json:"policy"`
	State     string        `json:"state"`
	Uptime    time.Duration `json:"uptime"`
	Pending   int64         `json:"pending"`
	Completed int64         `json:"completed"`
}

// Snapshots lists every live session.
func (r *Registry) Snapshots(now time.Time) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Snapshot
	for id, g := range r.groups {
		for _, s := range g.members {
			out = append(out, Snapshot{
				SessionID: id,
				ChannelID: s.ChannelID,
				Mode:      string(s.Mode()),
				Policy:    g.policy,
				State:     s.State().String(),
				Uptime:    s.Uptime(now),
				Pending:   s.Pending(),
				Completed: s.Completed(),
			})
		}
	}
	return out
}

// Shutdown closes every session, used at process teardown.
func (r *Registry) Shutdown(reason error) {
	r.mu.Lock()
	var all []*Session
	for _, g := range r.groups {
		all = append(all, g.members...)
	}
	r.groups = make(map[string]*group)
	r.mu.Unlock()

	for _, s := range all {
		r.retire(s, StateClosed, reason)
	}
}

func (g *group) remove(s *Session) {
	for i, member := range g.members {
		if member == s {
			g.members = append(g.members[:i], g.members[i+1:]...)
			if g.cursor > i {
				g.cursor--
			}
			return
		}
	}
}

func (g *group) load() int64 {
	var total int64
	for _, s := range g.members {
		total += s.Pending()
	}
	return total
}

// pick applies the group's dispatch policy. Caller holds the registry lock.
func (g *group) pick() []*Session {
	switch g.policy {
	case PolicyBroadcast:
		out := make([]*Session, len(g.members))
		copy(out, g.members)
		return out

	case PolicyRoundRobin:
		if g.cursor >= len(g.members) {
			g.cursor = 0
		}
		s := g.members[g.cursor]
		g.cursor++
		return []*Session{s}

	case PolicyUnicast:
		best := g.members[0]
		for _, s := range g.members[1:] {
			if s.Pending() < best.Pending() {
				best = s
			}
		}
		return []*Session{best}

	default:
		// Single-channel policies keep exactly one member.
		return []*Session{g.members[0]}
	}
}
