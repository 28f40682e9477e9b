package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/domain"
)

func seedMessages(t *testing.T, store Store, direction domain.Direction, n int) []domain.QueuedMessage {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]domain.QueuedMessage, 0, n)
	for i := 0; i < n; i++ {
		msg := domain.QueuedMessage{
			ID:             fmt.Sprintf("msg-%02d", i),
			Direction:      direction,
			CounterpartyID: "cp-1",
			Variant:        domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(fmt.Sprintf(`{"seq":%d}`, i))}},
			ReceivedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.Enqueue(context.Background(), msg))
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestMemoryStoreWithdrawArchivesNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	seedMessages(t, store, domain.DirectionIncoming, 5)

	w, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: 2})
	require.NoError(t, err)

	require.Len(t, w.Messages, 2)
	assert.Equal(t, "msg-04", w.Messages[0].ID)
	assert.Equal(t, "msg-03", w.Messages[1].ID)
	assert.Equal(t, 2, w.Archived)
	assert.Equal(t, 0, w.Deleted)
	for _, msg := range w.Messages {
		assert.True(t, msg.Archived)
	}

	// The archived pair stays out of subsequent withdrawals.
	w, err = store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: -1})
	require.NoError(t, err)
	require.Len(t, w.Messages, 3)
	for _, msg := range w.Messages {
		assert.NotContains(t, []string{"msg-04", "msg-03"}, msg.ID)
	}
}

func TestMemoryStoreWithdrawForceDelete(t *testing.T) {
	store := NewMemoryStore()
	seedMessages(t, store, domain.DirectionOutgoing, 3)

	w, err := store.Withdraw(context.Background(), domain.DirectionOutgoing, WithdrawOptions{Limit: -1, ForceDelete: true})
	require.NoError(t, err)
	assert.Len(t, w.Messages, 3)
	assert.Equal(t, 3, w.Deleted)
	assert.Equal(t, 0, w.Archived)

	n, err := store.Count(context.Background(), domain.DirectionOutgoing)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Deleted messages are gone even for archived-inclusive reads.
	w, err = store.Withdraw(context.Background(), domain.DirectionOutgoing, WithdrawOptions{Limit: -1, IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, w.Messages)
}

func TestMemoryStoreWithdrawIncludeArchived(t *testing.T) {
	store := NewMemoryStore()
	seedMessages(t, store, domain.DirectionIncoming, 4)

	_, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: 2})
	require.NoError(t, err)

	w, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: -1, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, w.Messages, 4)
	// Only the two previously live messages transition on this call.
	assert.Equal(t, 2, w.Archived)
}

func TestMemoryStoreWithdrawSince(t *testing.T) {
	store := NewMemoryStore()
	msgs := seedMessages(t, store, domain.DirectionIncoming, 5)

	// Strictly after: the boundary message itself is excluded.
	w, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{
		Limit: -1,
		Since: msgs[2].ReceivedAt,
	})
	require.NoError(t, err)
	require.Len(t, w.Messages, 2)
	assert.Equal(t, "msg-04", w.Messages[0].ID)
	assert.Equal(t, "msg-03", w.Messages[1].ID)
}

func TestMemoryStoreWithdrawOldestFirst(t *testing.T) {
	store := NewMemoryStore()
	seedMessages(t, store, domain.DirectionIncoming, 3)

	w, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{
		Limit:       -1,
		OldestFirst: true,
	})
	require.NoError(t, err)
	require.Len(t, w.Messages, 3)
	assert.Equal(t, "msg-00", w.Messages[0].ID)
	assert.Equal(t, "msg-02", w.Messages[2].ID)
}

func TestMemoryStoreEnqueueDuplicateID(t *testing.T) {
	store := NewMemoryStore()
	msg := domain.QueuedMessage{
		ID:         "dup-1",
		Direction:  domain.DirectionIncoming,
		Variant:    domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(`{}`)}},
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Enqueue(context.Background(), msg))
	assert.Error(t, store.Enqueue(context.Background(), msg))
}

func TestMemoryStoreConcurrentWithdrawalEnumeratesOnce(t *testing.T) {
	store := NewMemoryStore()
	const total = 200
	seedMessages(t, store, domain.DirectionIncoming, total)

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				w, err := store.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: 7})
				if !assert.NoError(t, err) {
					return
				}
				if len(w.Messages) == 0 {
					return
				}
				mu.Lock()
				for _, msg := range w.Messages {
					seen[msg.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "message %s delivered %d times", id, count)
	}
}

func TestMemoryStoreCountIgnoresOtherDirection(t *testing.T) {
	store := NewMemoryStore()
	seedMessages(t, store, domain.DirectionIncoming, 2)
	msg := domain.QueuedMessage{
		ID:         "out-1",
		Direction:  domain.DirectionOutgoing,
		Variant:    domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(`{}`)}},
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Enqueue(context.Background(), msg))

	n, err := store.Count(context.Background(), domain.DirectionIncoming)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
