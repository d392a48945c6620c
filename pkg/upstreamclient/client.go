// Package upstreamclient implements typed operations against the upstream
// courts-rental API, each following the identical
// breaker → coalescer → limiter → HTTP path §4.6 describes, backed by the
// two-tier cache for both hydration and graceful-degradation fallback.
package upstreamclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/breaker"
	"encore.app/pkg/cache"
	"encore.app/pkg/coalesce"
	"encore.app/pkg/models"
	"encore.app/pkg/ratelimit"
)

const callTimeout = 10 * time.Second

// Client is the upstream client. A single instance is shared across every
// operation — the breaker, limiter and coalescer it wraps are each
// single-instance per upstream per §4.4/§4.5.
type Client struct {
	http     *http.Client
	baseURL  string
	cache    *cache.Cache
	coalesce *Coalescer
	breaker  *breaker.Breaker
	limiter  *ratelimit.WindowLimiter
	prefetch *PrefetchQueue
	log      *zap.Logger
}

// Coalescer is the narrow interface Client needs from pkg/coalesce, to keep
// this package's dependency surface explicit.
type Coalescer interface {
	Do(key string, fn func() (interface{}, error)) (interface{}, error)
}

var _ Coalescer = (*coalesce.Coalescer)(nil)

// Config configures a Client.
type Config struct {
	BaseURL string
}

// New constructs a Client. prefetch may be nil, in which case getClubs does
// not schedule any background court prefetch.
func New(cfg Config, c *cache.Cache, coalescer Coalescer, b *breaker.Breaker, limiter *ratelimit.WindowLimiter, prefetch *PrefetchQueue, log *zap.Logger) *Client {
	return &Client{
		http:     &http.Client{Timeout: callTimeout},
		baseURL:  cfg.BaseURL,
		cache:    c,
		coalesce: coalescer,
		breaker:  b,
		limiter:  limiter,
		prefetch: prefetch,
		log:      log.Named("upstreamclient"),
	}
}

// GetClubs implements the getClubs(placeId) operation.
func (c *Client) GetClubs(ctx context.Context, placeID string) ([]models.Club, error) {
	freshKey := cache.GenerateKey(cache.TypeClubs, placeID)
	staleKey := cache.GenerateStaleKey(cache.TypeClubs, placeID)
	url := fmt.Sprintf("%s/clubs?placeId=%s", c.baseURL, placeID)

	primary := func(ctx context.Context) (interface{}, error) {
		v, err := c.coalesce.Do(freshKey, func() (interface{}, error) {
			return c.fetchClubs(context.WithoutCancel(ctx), url, freshKey, staleKey, placeID)
		})
		return v, err
	}
	fallback := func(ctx context.Context, cause error) (interface{}, error) {
		return c.fallbackTo(ctx, freshKey, staleKey)
	}

	result, err := c.breaker.Execute(ctx, primary, fallback)
	if err != nil {
		return nil, err
	}
	return decodeClubs(result)
}

func (c *Client) fetchClubs(ctx context.Context, url, freshKey, staleKey, placeID string) (interface{}, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	body, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, err
	}

	var clubs []models.Club
	if err := json.Unmarshal(body, &clubs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}

	c.cache.SetWithIntelligentTTL(ctx, freshKey, body, cache.TypeClubs, staleKey)
	for _, club := range clubs {
		c.cache.SetClubPlace(context.Background(), club.ID, placeID)
	}

	if c.prefetch != nil {
		clubIDs := make([]int, len(clubs))
		for i, club := range clubs {
			clubIDs[i] = club.ID
		}
		c.prefetch.SchedulePrefetchCourtsForClubs(clubIDs)
	}

	return body, nil
}

// GetCourts implements the getCourts(clubId) operation.
func (c *Client) GetCourts(ctx context.Context, clubID int) ([]models.Court, error) {
	clubKey := strconv.Itoa(clubID)
	freshKey := cache.GenerateKey(cache.TypeCourts, clubKey)
	staleKey := cache.GenerateStaleKey(cache.TypeCourts, clubKey)
	url := fmt.Sprintf("%s/clubs/%d/courts", c.baseURL, clubID)

	primary := func(ctx context.Context) (interface{}, error) {
		return c.coalesce.Do(freshKey, func() (interface{}, error) {
			return c.fetchAndCache(context.WithoutCancel(ctx), url, freshKey, staleKey, cache.TypeCourts)
		})
	}
	fallback := func(ctx context.Context, cause error) (interface{}, error) {
		return c.fallbackTo(ctx, freshKey, staleKey)
	}

	result, err := c.breaker.Execute(ctx, primary, fallback)
	if err != nil {
		return nil, err
	}
	return decodeCourts(result, clubID)
}

// GetAvailableSlots implements the getAvailableSlots(clubId, courtId, date)
// operation.
func (c *Client) GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]models.Slot, error) {
	params := []string{strconv.Itoa(clubID), strconv.Itoa(courtID), date}
	freshKey := cache.GenerateKey(cache.TypeSlots, params...)
	staleKey := cache.GenerateStaleKey(cache.TypeSlots, params...)
	url := fmt.Sprintf("%s/clubs/%d/courts/%d/slots?date=%s", c.baseURL, clubID, courtID, date)

	primary := func(ctx context.Context) (interface{}, error) {
		return c.coalesce.Do(freshKey, func() (interface{}, error) {
			return c.fetchAndCache(context.WithoutCancel(ctx), url, freshKey, staleKey, cache.TypeSlots)
		})
	}
	fallback := func(ctx context.Context, cause error) (interface{}, error) {
		return c.fallbackTo(ctx, freshKey, staleKey)
	}

	result, err := c.breaker.Execute(ctx, primary, fallback)
	if err != nil {
		return nil, err
	}
	return decodeSlots(result)
}

// fetchAndCache is the shared primary body for getCourts/getAvailableSlots:
// acquire a rate-limiter token, issue the HTTP GET, and on success populate
// both cache tiers.
func (c *Client) fetchAndCache(ctx context.Context, url, freshKey, staleKey, typ string) (interface{}, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	body, err := c.httpGet(ctx, url)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithIntelligentTTL(ctx, freshKey, body, typ, staleKey)
	return body, nil
}

// fallbackTo reads the two-tier cache; per §4.6 step 3, it returns the
// cached data if any tier has it, else ErrNoCachedData.
func (c *Client) fallbackTo(ctx context.Context, freshKey, staleKey string) (interface{}, error) {
	res := c.cache.GetWithFallback(ctx, freshKey, staleKey)
	if !res.Found {
		return nil, ErrNoCachedData
	}
	return res.Data, nil
}

func (c *Client) httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamFailure, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, &BadStatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return body, nil
}

func decodeClubs(v interface{}) ([]models.Club, error) {
	body, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type", ErrSerializationError)
	}
	var clubs []models.Club
	if err := json.Unmarshal(body, &clubs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}
	return clubs, nil
}

func decodeCourts(v interface{}, clubID int) ([]models.Court, error) {
	body, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type", ErrSerializationError)
	}
	var courts []models.Court
	if err := json.Unmarshal(body, &courts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}
	for i := range courts {
		courts[i].ClubID = clubID
	}
	return courts, nil
}

func decodeSlots(v interface{}) ([]models.Slot, error) {
	body, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type", ErrSerializationError)
	}
	var slots []models.Slot
	if err := json.Unmarshal(body, &slots); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationError, err)
	}
	return slots, nil
}
