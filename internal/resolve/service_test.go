package resolve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liaison/internal/domain"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/platform/sentinel"
)

type fakeDirectory struct {
	records map[string]domain.Counterparty
	err     error
	calls   int
}

func (f *fakeDirectory) Lookup(_ context.Context, counterpartyID string) (domain.Counterparty, error) {
	f.calls++
	if f.err != nil {
		return domain.Counterparty{}, f.err
	}
	cp, ok := f.records[counterpartyID]
	if !ok {
		return domain.Counterparty{}, sentinel.ErrNotFound
	}
	return cp, nil
}

type fakeIndex struct {
	owners map[string][]Ownership
	err    error
}

func (f *fakeIndex) Owners(_ context.Context, addr domain.CryptoAddress) ([]Ownership, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.owners[addr.Address], nil
}

func alpha() domain.Counterparty {
	return domain.Counterparty{
		ID:       "vasp-alpha",
		Name:     "Alpha Digital AG",
		Endpoint: "alpha.example.com:443",
	}
}

func beta() domain.Counterparty {
	return domain.Counterparty{
		ID:       "vasp-beta",
		Name:     "Beta Custody Ltd",
		Endpoint: "beta.example.com:443",
	}
}

func TestResolve_ExplicitEndpointIsAuthoritative(t *testing.T) {
	dir := &fakeDirectory{}
	svc := New(dir, &fakeIndex{})

	route, err := svc.Resolve(context.Background(), domain.RoutingHint{Endpoint: "peer.example.com:443"})
	require.NoError(t, err)
	assert.Equal(t, "peer.example.com:443", route.Endpoint)
	assert.Zero(t, dir.calls, "explicit endpoint must not trigger directory lookup")
}

func TestResolve_CounterpartyIdentifier(t *testing.T) {
	dir := &fakeDirectory{records: map[string]domain.Counterparty{"vasp-alpha": alpha()}}
	svc := New(dir, &fakeIndex{})

	route, err := svc.Resolve(context.Background(), domain.RoutingHint{CounterpartyID: "vasp-alpha"})
	require.NoError(t, err)
	assert.Equal(t, "alpha.example.com:443", route.Endpoint)
	assert.Equal(t, "Alpha Digital AG", route.Counterparty.Name)
}

func TestResolve_CounterpartyNotFound(t *testing.T) {
	svc := New(&fakeDirectory{}, &fakeIndex{})

	_, err := svc.Resolve(context.Background(), domain.RoutingHint{CounterpartyID: "vasp-ghost"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestResolve_DirectoryOutageIsRetryable(t *testing.T) {
	dir := &fakeDirectory{err: fmt.Errorf("%w: connection refused", sentinel.ErrUnavailable)}
	svc := New(dir, &fakeIndex{})

	_, err := svc.Resolve(context.Background(), domain.RoutingHint{CounterpartyID: "vasp-alpha"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDirectoryUnavailable))
	assert.True(t, dErrors.CodeOf(err).Retryable())
}

func TestResolve_BreakerOpensAfterRepeatedOutages(t *testing.T) {
	dir := &fakeDirectory{err: errors.New("connection refused")}
	svc := New(dir, &fakeIndex{})

	for i := 0; i < 5; i++ {
		_, err := svc.Resolve(context.Background(), domain.RoutingHint{CounterpartyID: "vasp-alpha"})
		require.Error(t, err)
	}
	callsBefore := dir.calls

	// Circuit is open now: lookups fail fast without touching the directory.
	_, err := svc.Resolve(context.Background(), domain.RoutingHint{CounterpartyID: "vasp-alpha"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDirectoryUnavailable))
	assert.Equal(t, callsBefore, dir.calls)
}

func TestResolve_AddressHint(t *testing.T) {
	hint := domain.RoutingHint{Address: &domain.CryptoAddress{Address: "bc1qxyz", Network: "bitcoin"}}

	t.Run("single owner resolves", func(t *testing.T) {
		idx := &fakeIndex{owners: map[string][]Ownership{
			"bc1qxyz": {{Counterparty: alpha(), Confidence: 0.98}},
		}}
		svc := New(&fakeDirectory{}, idx)

		route, err := svc.Resolve(context.Background(), hint)
		require.NoError(t, err)
		assert.Equal(t, "vasp-alpha", route.Counterparty.ID)
		assert.Equal(t, "alpha.example.com:443", route.Endpoint)
		assert.InDelta(t, 0.98, route.Confidence, 1e-9)
		require.NotNil(t, route.Address)
		assert.Equal(t, "bc1qxyz", route.Address.Address)
	})

	t.Run("zero owners fails not_found", func(t *testing.T) {
		svc := New(&fakeDirectory{}, &fakeIndex{})

		_, err := svc.Resolve(context.Background(), hint)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("multiple owners fail ambiguous", func(t *testing.T) {
		idx := &fakeIndex{owners: map[string][]Ownership{
			"bc1qxyz": {{Counterparty: alpha()}, {Counterparty: beta()}},
		}}
		svc := New(&fakeDirectory{}, idx)

		_, err := svc.Resolve(context.Background(), hint)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAmbiguous))
	})
}

func TestResolve_EmptyHintRejected(t *testing.T) {
	svc := New(&fakeDirectory{}, &fakeIndex{})

	_, err := svc.Resolve(context.Background(), domain.RoutingHint{})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	// Two alternatives populated is equally invalid.
	_, err = svc.Resolve(context.Background(), domain.RoutingHint{
		Endpoint:       "peer.example.com:443",
		CounterpartyID: "vasp-alpha",
	})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestLookupAddresses_IndexAligned(t *testing.T) {
	idx := &fakeIndex{owners: map[string][]Ownership{
		"addr-found":     {{Counterparty: alpha(), Confidence: 1}},
		"addr-ambiguous": {{Counterparty: alpha()}, {Counterparty: beta()}},
	}}
	svc := New(&fakeDirectory{}, idx)

	result, err := svc.LookupAddresses(context.Background(), "bitcoin", "",
		[]string{"addr-found", "addr-missing", "addr-ambiguous"})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Found)
	assert.Equal(t, 2, result.Errored)
	require.Len(t, result.Bindings, 3)
	require.Len(t, result.Errors, 3)

	// Exactly one of binding or error per index, never both, never neither.
	for i := range result.Bindings {
		hasBinding := result.Bindings[i] != nil
		hasError := result.Errors[i] != nil
		assert.NotEqual(t, hasBinding, hasError, "index %d must hold exactly one of binding or error", i)
	}

	assert.Equal(t, "vasp-alpha", result.Bindings[0].Counterparty.ID)
	assert.True(t, dErrors.HasCode(result.Errors[1], dErrors.CodeNotFound))
	assert.True(t, dErrors.HasCode(result.Errors[2], dErrors.CodeAmbiguous))
}

func TestLookupAddresses_DedupesPreservingOrder(t *testing.T) {
	idx := &fakeIndex{owners: map[string][]Ownership{
		"a1": {{Counterparty: alpha()}},
		"a2": {{Counterparty: beta()}},
	}}
	svc := New(&fakeDirectory{}, idx)

	result, err := svc.LookupAddresses(context.Background(), "bitcoin", "",
		[]string{" a1", "a2", "a1 ", "a2"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Requested)
	require.Len(t, result.Bindings, 2)
	assert.Equal(t, "a1", result.Bindings[0].Address.Address)
	assert.Equal(t, "a2", result.Bindings[1].Address.Address)
}

func TestLookupAddresses_PartialIndexOutage(t *testing.T) {
	// The whole index down still yields per-item errors, not a batch abort.
	idx := &fakeIndex{err: fmt.Errorf("%w: index down", sentinel.ErrUnavailable)}
	svc := New(&fakeDirectory{}, idx)

	result, err := svc.LookupAddresses(context.Background(), "bitcoin", "", []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Errored)
	for _, itemErr := range result.Errors {
		assert.True(t, dErrors.HasCode(itemErr, dErrors.CodeDirectoryUnavailable))
	}
}

func TestLookupAddresses_Validation(t *testing.T) {
	svc := New(&fakeDirectory{}, &fakeIndex{})

	_, err := svc.LookupAddresses(context.Background(), "bitcoin", "", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = svc.LookupAddresses(context.Background(), "", "", []string{"a"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
