package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/domain"
	dErrors "liaison/pkg/domain-errors"
)

type failingStore struct {
	err error
}

func (f *failingStore) Enqueue(context.Context, domain.QueuedMessage) error { return f.err }
func (f *failingStore) Withdraw(context.Context, domain.Direction, WithdrawOptions) (Withdrawal, error) {
	return Withdrawal{}, f.err
}
func (f *failingStore) Count(context.Context, domain.Direction) (int, error) { return 0, f.err }

func TestServiceHoldStampsIDAndTime(t *testing.T) {
	svc := NewService(NewMemoryStore())

	msg, err := svc.Hold(context.Background(), domain.QueuedMessage{
		Direction: domain.DirectionIncoming,
		Variant:   domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(`{}`)}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.ReceivedAt.IsZero())

	n, err := svc.Depth(context.Background(), domain.DirectionIncoming)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServiceMapsStorageFailures(t *testing.T) {
	svc := NewService(&failingStore{err: errors.New("connection refused")})

	_, err := svc.Hold(context.Background(), domain.QueuedMessage{
		Direction: domain.DirectionIncoming,
		Variant:   domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(`{}`)}},
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeQueueUnavailable))

	_, err = svc.Withdraw(context.Background(), domain.DirectionIncoming, WithdrawOptions{Limit: -1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeQueueUnavailable))

	_, err = svc.Depth(context.Background(), domain.DirectionIncoming)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeQueueUnavailable))
}

func TestServiceHoldDuplicateIsValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())

	msg := domain.QueuedMessage{
		ID:        "dup",
		Direction: domain.DirectionIncoming,
		Variant:   domain.Passthrough{Envelope: domain.SecureEnvelope{Payload: []byte(`{}`)}},
	}
	_, err := svc.Hold(context.Background(), msg)
	require.NoError(t, err)

	_, err = svc.Hold(context.Background(), msg)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
