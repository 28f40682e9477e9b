// Package callback correlates inbound peer work dispatched over callback
// sessions with the client responses that eventually answer it. Each
// dispatched callback gets a gateway-generated unique id; a pending entry
// exists from dispatch until exactly one resolution: a client response, a
// client-reported error, a timeout, or closure of every session it was sent
// to.
package callback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"liaison/internal/domain"
	"liaison/internal/platform/metrics"
	"liaison/internal/session"
	dErrors "liaison/pkg/domain-errors"
)

const (
	defaultTimeout = 30 * time.Second

	// tombstoneTTL is how long a resolved broadcast id is remembered so the
	// losing sessions' late responses are discarded instead of reported as
	// unmatched.
	tombstoneTTL = time.Minute
)

// Result is the terminal outcome of one pending callback. Err carries a
// client-reported error, a timeout, or session closure; a client error still
// counts as a resolution and unblocks the waiting peer-side caller.
type Result struct {
	Variant domain.RequestVariant
	Err     error
}

type pendingCallback struct {
	id         string
	targets    []*session.Session
	broadcast  bool
	dispatched time.Time
	timer      *time.Timer
	done       chan Result
}

// Correlator is the process-lifetime pending-callback table.
type Correlator struct {
	mu         sync.Mutex
	pending    map[string]*pendingCallback
	tombstones map[string]time.Time

	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Correlator.
type Option func(*Correlator)

func WithTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Correlator) { c.metrics = m }
}

// New constructs an empty correlator.
func New(opts ...Option) *Correlator {
	c := &Correlator{
		pending:    make(map[string]*pendingCallback),
		tombstones: make(map[string]time.Time),
		timeout:    defaultTimeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch records a pending callback and sends the request to every target
// session. The returned channel receives exactly one Result: the first
// client response under broadcast, or the response, timeout, or
// session-closure outcome otherwise. Dispatch fails only when no target
// accepted the message.
func (c *Correlator) Dispatch(targets []*session.Session, policy session.Policy, variant domain.RequestVariant) (string, <-chan Result, error) {
	if len(targets) == 0 {
		return "", nil, dErrors.New(dErrors.CodeNotFound, "no session to dispatch to")
	}

	p := &pendingCallback{
		id:         uuid.NewString(),
		broadcast:  policy == session.PolicyBroadcast,
		dispatched: c.now(),
		done:       make(chan Result, 1),
	}

	// Registered before any send so a client that answers the instant the
	// message hits the wire finds its pending entry.
	c.mu.Lock()
	c.pending[p.id] = p
	// Armed under the lock so a racing Resolve always observes the timer.
	p.timer = time.AfterFunc(c.timeout, func() { c.expire(p.id) })
	c.mu.Unlock()

	msg := session.Outbound{
		Type:       session.OutboundCallback,
		CallbackID: p.id,
		Variant:    variant,
	}
	accepted := 0
	for _, target := range targets {
		if err := target.Send(msg); err != nil {
			c.logger.Warn("callback send failed, skipping session",
				"callback_id", p.id,
				"channel_id", target.ChannelID,
				"error", err,
			)
			continue
		}
		accepted++
		c.mu.Lock()
		// Skip the bookkeeping once a response or timeout already removed
		// the entry; nothing reads targets after that point and the
		// dispatch/resolution counters must stay paired.
		if _, outstanding := c.pending[p.id]; outstanding {
			target.TrackDispatch()
			p.targets = append(p.targets, target)
		}
		c.mu.Unlock()
	}
	if accepted == 0 {
		c.mu.Lock()
		delete(c.pending, p.id)
		c.mu.Unlock()
		p.timer.Stop()
		return "", nil, dErrors.New(dErrors.CodeSessionClosed, "every eligible session refused the dispatch")
	}

	if c.metrics != nil {
		c.metrics.CallbacksDispatched.Inc()
	}
	return p.id, p.done, nil
}

// Resolve matches a client response (or client-reported error) to its
// pending callback. The first resolution wins and removes the entry;
// anything after that is either a discarded broadcast duplicate (nil error)
// or unmatched_callback, which the stream layer reports for that one message
// without closing the channel.
func (c *Correlator) Resolve(id string, from *session.Session, result Result) error {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		_, buried := c.tombstones[id]
		c.sweepTombstonesLocked()
		c.mu.Unlock()
		if buried {
			return nil
		}
		return dErrors.Newf(dErrors.CodeUnmatchedCallback, "no pending callback %q", id)
	}
	delete(c.pending, id)
	if p.broadcast {
		c.tombstones[id] = c.now()
	}
	c.mu.Unlock()

	p.timer.Stop()
	for _, target := range p.targets {
		target.TrackResolution(target == from)
	}
	c.count(resultOutcome(result))

	p.done <- result
	return nil
}

// CancelSession fails or re-targets every pending callback addressed to a
// session whose channel closed. Broadcast entries survive as long as one
// target is still live; everything else resolves with the closure reason so
// the waiting caller can fall back to the retrieval queue.
func (c *Correlator) CancelSession(s *session.Session, reason error) {
	var cancelled []*pendingCallback

	c.mu.Lock()
	for id, p := range c.pending {
		idx := -1
		for i, target := range p.targets {
			if target == s {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		p.targets = append(p.targets[:idx], p.targets[idx+1:]...)
		s.TrackResolution(false)
		if len(p.targets) > 0 {
			continue
		}
		delete(c.pending, id)
		cancelled = append(cancelled, p)
	}
	c.mu.Unlock()

	for _, p := range cancelled {
		p.timer.Stop()
		c.count("session_closed")
		p.done <- Result{Err: dErrors.Wrap(reason, dErrors.CodeSessionClosed,
			"session closed before the callback was answered")}
	}
}

// PendingCount reports the number of outstanding callbacks.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id string) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()

	for _, target := range p.targets {
		target.TrackResolution(false)
	}
	c.count("timeout")
	c.logger.Warn("callback timed out",
		"callback_id", id,
		"dispatched_at", p.dispatched,
	)
	p.done <- Result{Err: dErrors.Newf(dErrors.CodeCallbackTimeout,
		"no client response within %s", c.timeout)}
}

func (c *Correlator) sweepTombstonesLocked() {
	cutoff := c.now().Add(-tombstoneTTL)
	for id, buried := range c.tombstones {
		if buried.Before(cutoff) {
			delete(c.tombstones, id)
		}
	}
}

func (c *Correlator) count(outcome string) {
	if c.metrics != nil {
		c.metrics.CallbacksResolved.WithLabelValues(outcome).Inc()
	}
}

func resultOutcome(result Result) string {
	if result.Err != nil {
		return "error"
	}
	return "answered"
}
