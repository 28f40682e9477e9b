package queue

import (
	"context"
	"sort"
	"sync"

	"liaison/internal/domain"
	"liaison/pkg/platform/sentinel"
)

// MemoryStore keeps queued messages in process memory. It backs development
// deployments and tests; production uses the PostgreSQL store so the queue
// survives restarts.
type MemoryStore struct {
	mu       sync.Mutex
	messages []domain.QueuedMessage
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Enqueue(_ context.Context, msg domain.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			return sentinel.ErrConflict
		}
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemoryStore) Withdraw(_ context.Context, direction domain.Direction, opts WithdrawOptions) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Collect eligible indexes, then order by receipt time.
	var eligible []int
	for i, msg := range s.messages {
		if msg.Direction != direction {
			continue
		}
		if msg.Archived && !opts.IncludeArchived {
			continue
		}
		if !opts.Since.IsZero() && !msg.ReceivedAt.After(opts.Since) {
			continue
		}
		eligible = append(eligible, i)
	}
	sort.SliceStable(eligible, func(a, b int) bool {
		ta := s.messages[eligible[a]].ReceivedAt
		tb := s.messages[eligible[b]].ReceivedAt
		if opts.OldestFirst {
			return ta.Before(tb)
		}
		return ta.After(tb)
	})
	if opts.Limit >= 0 && len(eligible) > opts.Limit {
		eligible = eligible[:opts.Limit]
	}

	var result Withdrawal
	taken := make(map[int]bool, len(eligible))
	for _, i := range eligible {
		msg := s.messages[i]
		if opts.ForceDelete {
			taken[i] = true
			result.Deleted++
		} else {
			if !msg.Archived {
				s.messages[i].Archived = true
				result.Archived++
			}
			msg.Archived = true
		}
		result.Messages = append(result.Messages, msg)
	}

	if len(taken) > 0 {
		kept := s.messages[:0]
		for i, msg := range s.messages {
			if !taken[i] {
				kept = append(kept, msg)
			}
		}
		s.messages = kept
	}
	return result, nil
}

func (s *MemoryStore) Count(_ context.Context, direction domain.Direction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, msg := range s.messages {
		if msg.Direction == direction && !msg.Archived {
			n++
		}
	}
	return n, nil
}
