package resolve

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"liaison/internal/domain"
	"liaison/internal/platform/metrics"
	dErrors "liaison/pkg/domain-errors"
	"liaison/pkg/platform/circuit"
	"liaison/pkg/platform/sentinel"
	pstrings "liaison/pkg/platform/strings"
)

// defaultLookupConcurrency bounds parallel ownership-index queries during
// batch lookups.
const defaultLookupConcurrency = 8

// Service turns partial routing hints into concrete transport routes using
// the external directory and address-ownership index. It holds no locks
// across collaborator calls; every method is safe for concurrent use.
type Service struct {
	directory Directory
	index     OwnershipIndex
	breaker   *circuit.Breaker
	logger    *slog.Logger
	metrics   *metrics.Metrics

	lookupConcurrency int
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLookupConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lookupConcurrency = n
		}
	}
}

// New constructs a resolver over the given collaborators.
func New(directory Directory, index OwnershipIndex, opts ...Option) *Service {
	s := &Service{
		directory:         directory,
		index:             index,
		breaker:           circuit.New("directory", circuit.WithFailureThreshold(5)),
		logger:            slog.Default(),
		lookupConcurrency: defaultLookupConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve produces a route for one routing hint.
//
// An explicit endpoint is authoritative and triggers no lookup. A
// counterparty identifier goes to the directory. A bare crypto address goes
// to the ownership index and must match exactly one counterparty; zero
// matches fail not_found, several fail ambiguous so the caller can
// disambiguate with an explicit counterparty or endpoint.
func (s *Service) Resolve(ctx context.Context, hint domain.RoutingHint) (domain.ResolvedRoute, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
		}
	}()

	switch hint.Kind() {
	case domain.HintEndpoint:
		return domain.ResolvedRoute{Endpoint: hint.Endpoint}, nil

	case domain.HintCounterparty:
		cp, err := s.lookupCounterparty(ctx, hint.CounterpartyID)
		if err != nil {
			return domain.ResolvedRoute{}, err
		}
		if cp.Endpoint == "" {
			return domain.ResolvedRoute{}, dErrors.Newf(dErrors.CodeNotFound,
				"directory record %q has no transport endpoint", hint.CounterpartyID)
		}
		return domain.ResolvedRoute{Counterparty: cp, Endpoint: cp.Endpoint}, nil

	case domain.HintAddress:
		binding, err := s.resolveOwnership(ctx, *hint.Address)
		if err != nil {
			return domain.ResolvedRoute{}, err
		}
		return domain.ResolvedRoute{
			Counterparty: binding.Counterparty,
			Endpoint:     binding.Counterparty.Endpoint,
			Address:      hint.Address,
			Confidence:   binding.Confidence,
		}, nil

	default:
		return domain.ResolvedRoute{}, dErrors.New(dErrors.CodeValidation,
			"routing hint must populate exactly one alternative")
	}
}

func (s *Service) lookupCounterparty(ctx context.Context, counterpartyID string) (domain.Counterparty, error) {
	if s.breaker.IsOpen() {
		return domain.Counterparty{}, dErrors.New(dErrors.CodeDirectoryUnavailable,
			"directory circuit open, lookups suspended")
	}

	cp, err := s.directory.Lookup(ctx, counterpartyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.breaker.RecordSuccess()
			return domain.Counterparty{}, dErrors.Newf(dErrors.CodeNotFound,
				"counterparty %q not registered in directory", counterpartyID)
		}
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.ErrorContext(ctx, "directory circuit opened",
				"breaker", s.breaker.Name(),
				"error", err,
			)
		}
		return domain.Counterparty{}, dErrors.Wrap(err, dErrors.CodeDirectoryUnavailable,
			"directory lookup failed")
	}
	s.breaker.RecordSuccess()
	return cp, nil
}

func (s *Service) resolveOwnership(ctx context.Context, addr domain.CryptoAddress) (Ownership, error) {
	owners, err := s.index.Owners(ctx, addr)
	if err != nil {
		return Ownership{}, dErrors.Wrap(err, dErrors.CodeDirectoryUnavailable,
			"address ownership index unavailable")
	}
	switch len(owners) {
	case 0:
		return Ownership{}, dErrors.Newf(dErrors.CodeNotFound,
			"no counterparty claims address %s on %s", addr.Address, addr.Network)
	case 1:
		return owners[0], nil
	default:
		return Ownership{}, dErrors.Newf(dErrors.CodeAmbiguous,
			"%d counterparties claim address %s on %s", len(owners), addr.Address, addr.Network)
	}
}

// AddressBinding is one successfully resolved address in a batch lookup.
type AddressBinding struct {
	Address      domain.CryptoAddress `json:"address"`
	Counterparty domain.Counterparty  `json:"counterparty"`
	Confidence   float64              `json:"confidence,omitempty"`
}

// BatchResult carries the index-aligned outcome of a batch lookup. For every
// index exactly one of Bindings[i] or Errors[i] is populated. Requested
// counts the de-duplicated input.
type BatchResult struct {
	Bindings  []*AddressBinding
	Errors    []error
	Requested int
	Found     int
	Errored   int
}

// LookupAddresses resolves a batch of address strings on one network
// independently: a failure on one address never blocks the others. Input is
// trimmed and de-duplicated preserving first-seen order; results align with
// the de-duplicated list.
func (s *Service) LookupAddresses(ctx context.Context, network, assetType string, addresses []string) (*BatchResult, error) {
	deduped := pstrings.DedupeAndTrim(addresses)
	if len(deduped) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one address is required")
	}
	if network == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "network is required")
	}

	result := &BatchResult{
		Bindings:  make([]*AddressBinding, len(deduped)),
		Errors:    make([]error, len(deduped)),
		Requested: len(deduped),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookupConcurrency)
	for i, address := range deduped {
		g.Go(func() error {
			addr := domain.CryptoAddress{Address: address, Network: network, AssetType: assetType}
			binding, err := s.resolveOwnership(gctx, addr)
			if err != nil {
				result.Errors[i] = err
				return nil
			}
			result.Bindings[i] = &AddressBinding{
				Address:      addr,
				Counterparty: binding.Counterparty,
				Confidence:   binding.Confidence,
			}
			return nil
		})
	}
	// Workers record per-item errors instead of returning them, so Wait only
	// fails on context cancellation.
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "batch lookup aborted")
	}

	for i := range deduped {
		if result.Bindings[i] != nil {
			result.Found++
			s.countLookup("found")
		} else {
			result.Errored++
			s.countLookup(string(dErrors.CodeOf(result.Errors[i])))
		}
	}
	return result, nil
}

func (s *Service) countLookup(outcome string) {
	if s.metrics != nil {
		s.metrics.AddressLookups.WithLabelValues(outcome).Inc()
	}
}
