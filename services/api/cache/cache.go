// Package cache provides the shared TTL result cache, its key codec, and
// the invalidation coordinator. Cache failures are advisory: every backend
// error is logged and degraded, never returned to a request path.
package cache

import (
	"context"
	"time"
)

// Lookup reports the outcome of a cache read, distinguishing a true miss
// from a degraded backend so callers can tell them apart for observability.
type Lookup int

const (
	Miss Lookup = iota
	Hit
	Unavailable
)

// String returns the lookup outcome label.
func (l Lookup) String() string {
	switch l {
	case Hit:
		return "hit"
	case Unavailable:
		return "unavailable"
	default:
		return "miss"
	}
}

// Store is a TTL-keyed cache of JSON payloads shared across API instances.
//
// Get never returns an error: a backend failure degrades to Unavailable and
// the caller proceeds as on a miss. Set and Delete are best-effort; a write
// failure only means the response won't be cached. DeletePattern removes
// all keys matching a glob pattern and does return its error, because the
// invalidation coordinator falls back to a fixed key set when scanning is
// unsupported or failing.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, Lookup)
	Set(ctx context.Context, key string, payload any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	DeletePattern(ctx context.Context, pattern string) error
}
