// Package availability is the edge service owning C7, the planner: a thin
// Encore handler over pkg/planner, wiring together every fabric component
// (C1-C6) at startup exactly once, mirroring how the teacher's cache-manager
// service assembled its own L1/L2/metrics stack in initService.
package availability

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"encore.app/pkg/breaker"
	"encore.app/pkg/cache"
	"encore.app/pkg/coalesce"
	"encore.app/pkg/config"
	"encore.app/pkg/kvstore"
	"encore.app/pkg/logging"
	"encore.app/pkg/models"
	"encore.app/pkg/planner"
	"encore.app/pkg/ratelimit"
	"encore.app/pkg/upstreamclient"
)

const (
	prefetchWorkers   = 4
	prefetchQueueSize = 256
)

//encore:service
type Service struct {
	planner *planner.Planner
	cache   *cache.Cache
	breaker *breaker.Breaker
	limiter *ratelimit.WindowLimiter
	client  *upstreamclient.Client
}

func initService() (*Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("availability: load config: %w", err)
	}

	log, err := logging.New(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("availability: build logger: %w", err)
	}

	store := kvstore.New(context.Background(), kvstore.Options{
		Host:     cfg.KVHost,
		Port:     cfg.KVPort,
		Password: cfg.KVPassword,
		DB:       cfg.KVDB,
	}, log)
	c := cache.New(store, log)

	b := breaker.New(breaker.Config{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Timeout:          cfg.BreakerTimeout,
		SuccessThreshold: uint32(cfg.BreakerSuccessThreshold),
		IsFailure:        upstreamclient.BreakerIsFailure,
	}, log)
	limiter := ratelimit.New(cfg.RateLimit, cfg.RateWindow, log)
	prefetch := upstreamclient.NewPrefetchQueue(prefetchWorkers, prefetchQueueSize, log)

	client := upstreamclient.New(upstreamclient.Config{BaseURL: cfg.UpstreamBaseURL}, c, coalesce.New(), b, limiter, prefetch, log)
	prefetch.SetFetcher(func(ctx context.Context, clubID int) error {
		_, err := client.GetCourts(ctx, clubID)
		return err
	})

	p := planner.New(client, c, cfg.FanOutCourts, cfg.FanOutSlots, log)

	return &Service{planner: p, cache: c, breaker: b, limiter: limiter, client: client}, nil
}

var svc *Service

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("availability: failed to initialize: %v", err))
	}
}

// GetAvailabilityRequest carries the query parameters of getAvailabilityOptimized.
type GetAvailabilityRequest struct {
	PlaceID string `query:"placeId"`
	Date    string `query:"date"`
}

// GetAvailabilityResponse wraps the assembled tree.
type GetAvailabilityResponse struct {
	Tree models.AvailabilityTree `json:"tree"`
}

// GetAvailability is the sole public surface of this service: fetch,
// assemble and return the availability tree for a place and date. Per §1 it
// does nothing but call the planner and marshal the result.
//
//encore:api public method=GET path=/availability
func GetAvailability(ctx context.Context, req *GetAvailabilityRequest) (*GetAvailabilityResponse, error) {
	tree, err := svc.planner.GetAvailabilityOptimized(ctx, req.PlaceID, req.Date)
	if err != nil {
		return nil, err
	}
	return &GetAvailabilityResponse{Tree: tree}, nil
}

// CacheStatsResponse is the cache fragment of the external metrics surface.
type CacheStatsResponse struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Errors     int64   `json:"errors"`
	Operations int64   `json:"operations"`
	HitRate    float64 `json:"hitRate"`
	Connected  bool    `json:"connected"`
}

// CacheStats is consumed by the monitoring service's aggregated snapshot.
//
//encore:api private method=GET path=/availability/internal/cache-stats
func CacheStats(ctx context.Context) (*CacheStatsResponse, error) {
	s := svc.cache.Stats()
	resp := &CacheStatsResponse{
		Hits: s.Hits, Misses: s.Misses, Errors: s.Errors, Operations: s.Operations, Connected: s.Connected,
	}
	if total := s.Hits + s.Misses; total > 0 {
		resp.HitRate = float64(s.Hits) / float64(total)
	}
	return resp, nil
}

// RateLimitSnapshot is the rateLimit fragment of the upstream client metrics.
type RateLimitSnapshot struct {
	Current   int    `json:"current"`
	Limit     int    `json:"limit"`
	Window    string `json:"window"`
	ResetTime string `json:"resetTime"`
}

// BreakerSnapshot is the breaker fragment of the upstream client metrics.
type BreakerSnapshot struct {
	State              string `json:"state"`
	FailureCount       uint32 `json:"failureCount"`
	LastFailureTime    string `json:"lastFailureTime"`
	MsSinceLastFailure int64  `json:"msSinceLastFailure"`
}

// UpstreamClientStatsResponse is §6's {breaker, kv, rateLimit} shape.
type UpstreamClientStatsResponse struct {
	Breaker   BreakerSnapshot    `json:"breaker"`
	KV        CacheStatsResponse `json:"kv"`
	RateLimit RateLimitSnapshot  `json:"rateLimit"`
}

//encore:api private method=GET path=/availability/internal/upstream-stats
func UpstreamClientStats(ctx context.Context) (*UpstreamClientStatsResponse, error) {
	bs := svc.breaker.Stats()
	rl := svc.limiter.Stats()
	cacheResp, _ := CacheStats(ctx)

	return &UpstreamClientStatsResponse{
		Breaker: BreakerSnapshot{
			State:              string(bs.State),
			FailureCount:       bs.FailureCount,
			LastFailureTime:    bs.LastFailureTime.Format("2006-01-02T15:04:05Z07:00"),
			MsSinceLastFailure: bs.MsSinceLastFailure,
		},
		KV: *cacheResp,
		RateLimit: RateLimitSnapshot{
			Current:   rl.Current,
			Limit:     rl.Limit,
			Window:    rl.Window.String(),
			ResetTime: rl.ResetTime.Format("2006-01-02T15:04:05Z07:00"),
		},
	}, nil
}
