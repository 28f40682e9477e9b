package gateway

import (
	"context"
	"time"

	"liaison/internal/domain"
	"liaison/internal/session"
)

// CountSuppressed is reported in place of any count whose collection the
// caller suppressed.
const CountSuppressed = -1

// StatusOptions suppress the collection of stream or queue details.
type StatusOptions struct {
	NoStreams bool
	NoQueue   bool
}

// StatusReply is the gateway health snapshot.
type StatusReply struct {
	Health           string             `json:"health"`
	Timestamp        time.Time          `json:"timestamp"`
	Version          string             `json:"version"`
	Uptime           time.Duration      `json:"uptime"`
	Streams          []session.Snapshot `json:"streams,omitempty"`
	StreamCount      int                `json:"stream_count"`
	PendingCallbacks int                `json:"pending_callbacks"`
	QueuedIncoming   int                `json:"queued_incoming"`
	QueuedOutgoing   int                `json:"queued_outgoing"`
}

// Status reports gateway health. Suppressed sections cost nothing to
// collect and their counts read as CountSuppressed.
func (s *Service) Status(ctx context.Context, opts StatusOptions) StatusReply {
	now := s.now()
	reply := StatusReply{
		Health:           "ok",
		Timestamp:        now.UTC(),
		Version:          s.version,
		Uptime:           now.Sub(s.started),
		StreamCount:      CountSuppressed,
		PendingCallbacks: CountSuppressed,
		QueuedIncoming:   CountSuppressed,
		QueuedOutgoing:   CountSuppressed,
	}

	if !opts.NoStreams {
		reply.Streams = s.registry.Snapshots(now)
		reply.StreamCount = len(reply.Streams)
		reply.PendingCallbacks = s.correlator.PendingCount()
	}

	if !opts.NoQueue {
		incoming, err := s.queue.Depth(ctx, domain.DirectionIncoming)
		if err != nil {
			reply.Health = "degraded"
			incoming = CountSuppressed
		}
		outgoing, err := s.queue.Depth(ctx, domain.DirectionOutgoing)
		if err != nil {
			reply.Health = "degraded"
			outgoing = CountSuppressed
		}
		reply.QueuedIncoming = incoming
		reply.QueuedOutgoing = outgoing
	}

	return reply
}
