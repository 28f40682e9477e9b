// Package cache decorates the directory port with a Redis read-through
// cache. Directory records change rarely; a short TTL keeps endpoint or key
// rotations from going stale for long.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"liaison/internal/domain"
	"liaison/internal/resolve"
)

const directoryKeyPrefix = "dir:cp:"

// DirectoryCacheTTL enforces retention for cached directory records.
var DirectoryCacheTTL = 5 * time.Minute

// Directory wraps an upstream resolve.Directory with Redis caching. Cache
// failures degrade to upstream calls, never to request failures.
type Directory struct {
	upstream resolve.Directory
	client   *redis.Client
	logger   *slog.Logger
	ttl      time.Duration
}

// Option configures the cache.
type Option func(*Directory)

func WithTTL(ttl time.Duration) Option {
	return func(d *Directory) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) { d.logger = logger }
}

// NewDirectory constructs the caching decorator.
func NewDirectory(upstream resolve.Directory, client *redis.Client, opts ...Option) *Directory {
	d := &Directory{
		upstream: upstream,
		client:   client,
		logger:   slog.Default(),
		ttl:      DirectoryCacheTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Lookup serves a counterparty record from cache when present, otherwise
// from the upstream directory, populating the cache on the way back.
func (d *Directory) Lookup(ctx context.Context, counterpartyID string) (domain.Counterparty, error) {
	key := directoryKeyPrefix + counterpartyID

	raw, err := d.client.Get(ctx, key).Bytes()
	if err == nil {
		var cp domain.Counterparty
		if jsonErr := json.Unmarshal(raw, &cp); jsonErr == nil {
			return cp, nil
		}
		// Corrupt entry: fall through to upstream and overwrite below.
		d.client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		d.logger.WarnContext(ctx, "directory cache read failed, falling back to upstream",
			"counterparty_id", counterpartyID,
			"error", err,
		)
	}

	cp, err := d.upstream.Lookup(ctx, counterpartyID)
	if err != nil {
		return domain.Counterparty{}, err
	}

	if raw, jsonErr := json.Marshal(cp); jsonErr == nil {
		if setErr := d.client.Set(ctx, key, raw, d.ttl).Err(); setErr != nil {
			d.logger.WarnContext(ctx, "directory cache write failed",
				"counterparty_id", counterpartyID,
				"error", setErr,
			)
		}
	}
	return cp, nil
}
