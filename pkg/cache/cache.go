// Package cache implements the two-tier (fresh/stale) cache that sits in
// front of the upstream: every write populates a short-TTL fresh entry and a
// long-TTL stale mirror, so a read can degrade gracefully when the fresh
// entry has expired and nothing has refreshed it yet.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/kvstore"
)

// Entry types, matching the key schema "<type>:<p1>:<p2>:…".
const (
	TypeClubs        = "clubs"
	TypeCourts       = "courts"
	TypeSlots        = "slots"
	TypeAvailability = "availability"
)

// StaleTTL is the TTL of every stale mirror, independent of the fresh TTL of
// the type it mirrors.
const StaleTTL = 2 * time.Hour

// ttlByType is the type-driven freshness table: metadata that changes rarely
// gets a long TTL, the liveness surface (slots) gets a short one.
var ttlByType = map[string]time.Duration{
	TypeClubs:        1 * time.Hour,
	TypeCourts:       30 * time.Minute,
	TypeSlots:        5 * time.Minute,
	TypeAvailability: 3 * time.Minute,
}

// clubToPlacePrefix namespaces the reverse index resolving open question 1:
// which place a given club belongs to, so club_updated invalidation can be
// scoped instead of falling back to a global clubs:* sweep.
const clubToPlacePrefix = "clubToPlace"

// Cache is the two-tier cache. It owns every cache entry exclusively; the
// upstream client and invalidation engine mutate entries only through this
// contract.
type Cache struct {
	store kvstore.Store
	log   *zap.Logger
}

// New constructs a Cache over the given KV store.
func New(store kvstore.Store, log *zap.Logger) *Cache {
	return &Cache{store: store, log: log.Named("cache")}
}

// GenerateKey builds the fresh-tier key for (type, params...).
func GenerateKey(typ string, params ...string) string {
	parts := append([]string{typ}, params...)
	return strings.Join(parts, ":")
}

// GenerateStaleKey builds the stale-tier key for (type, params...).
func GenerateStaleKey(typ string, params ...string) string {
	parts := append([]string{typ, "stale"}, params...)
	return strings.Join(parts, ":")
}

// Result is the outcome of a fallback read.
type Result struct {
	Data    []byte
	IsStale bool
	Found   bool
}

// GetWithFallback returns the fresh entry if present; otherwise the stale
// entry if staleKey is non-empty and present; otherwise Found=false. KV
// errors surface as absence — this method never returns an error.
func (c *Cache) GetWithFallback(ctx context.Context, freshKey, staleKey string) Result {
	if data, ok := c.store.Get(ctx, freshKey); ok {
		return Result{Data: data, IsStale: false, Found: true}
	}
	if staleKey == "" {
		return Result{}
	}
	if data, ok := c.store.Get(ctx, staleKey); ok {
		return Result{Data: data, IsStale: true, Found: true}
	}
	return Result{}
}

// SetWithIntelligentTTL serializes data, writes it to freshKey with the
// type's TTL, and — iff staleKey is non-empty — writes the same payload to
// staleKey with StaleTTL. Invariant 1 (§3): STALE_TTL ≥ every fresh TTL, so
// the stale mirror always outlives its fresh counterpart.
func (c *Cache) SetWithIntelligentTTL(ctx context.Context, freshKey string, data []byte, typ string, staleKey string) {
	ttl, ok := ttlByType[typ]
	if !ok {
		ttl = ttlByType[TypeAvailability]
	}
	c.store.Set(ctx, freshKey, data, ttl)
	if staleKey != "" {
		c.store.Set(ctx, staleKey, data, StaleTTL)
	}
}

// SetJSON is a convenience wrapper around SetWithIntelligentTTL for callers
// holding a typed value rather than a pre-serialized payload.
func (c *Cache) SetJSON(ctx context.Context, freshKey string, value interface{}, typ string, staleKey string) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.SetWithIntelligentTTL(ctx, freshKey, data, typ, staleKey)
	return nil
}

// InvalidateByPattern deletes every key matching pattern. A literal key (no
// "*") is deleted directly; a wildcard pattern is resolved via the store's
// non-blocking Scan — the store itself never enumerates with a blocking
// KEYS-style call. A pattern with no matches is a no-op.
func (c *Cache) InvalidateByPattern(ctx context.Context, pattern string) int {
	if !strings.Contains(pattern, "*") {
		c.store.Del(ctx, pattern)
		return 1
	}
	keys := c.store.Scan(ctx, pattern)
	for _, k := range keys {
		c.store.Del(ctx, k)
	}
	return len(keys)
}

// Invalidate deletes a single fresh key (and, if given, its stale mirror).
// Per invariant 3, the stale mirror is deliberately left alone unless the
// caller passes it explicitly — callers that want the stale entry gone too
// (e.g. a booking cancellation) pass both.
func (c *Cache) Invalidate(ctx context.Context, freshKey string, staleKey string) {
	c.store.Del(ctx, freshKey)
	if staleKey != "" {
		c.store.Del(ctx, staleKey)
	}
}

// SetClubPlace records which place a club was fetched under, so a later
// club_updated event can scope its invalidation instead of sweeping clubs:*
// globally.
func (c *Cache) SetClubPlace(ctx context.Context, clubID int, placeID string) {
	c.store.Set(ctx, clubToPlaceKey(clubID), []byte(placeID), ttlByType[TypeClubs])
}

// GetClubPlace looks up the place a club belongs to. ok is false when the
// club was never observed through getClubs (e.g. it arrived only via an
// event) — the caller falls back to a global clubs:* invalidation.
func (c *Cache) GetClubPlace(ctx context.Context, clubID int) (placeID string, ok bool) {
	data, found := c.store.Get(ctx, clubToPlaceKey(clubID))
	if !found {
		return "", false
	}
	return string(data), true
}

func clubToPlaceKey(clubID int) string {
	return clubToPlacePrefix + ":" + strconv.Itoa(clubID)
}

// Stats exposes the store's counters for the external metrics surface.
func (c *Cache) Stats() kvstore.Stats {
	return c.store.Stats()
}
