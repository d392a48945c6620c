// Package monitoring exposes the four metrics snapshots §6 names (cache,
// breaker, events, upstream client), trimmed down from the teacher's
// percentile/alerting aggregation engine to a pull-based read over the two
// owning services' own counters — there is no separate time-series store or
// anomaly detector here, since nothing in the distilled spec asks for one.
package monitoring

import (
	"context"

	"encore.app/availability"
	"encore.app/ingestion"
)

// MetricsResponse is the full external metrics surface: cache, breaker,
// events and upstream client, assembled from the owning services' own
// internal endpoints.
type MetricsResponse struct {
	Cache    availability.CacheStatsResponse         `json:"cache"`
	Upstream availability.UpstreamClientStatsResponse `json:"upstreamClient"`
	Events   ingestion.EventStatsResponse            `json:"events"`
}

//encore:service
type Service struct{}

// GetMetrics returns every fabric component's current counters.
//
//encore:api public method=GET path=/metrics
func GetMetrics(ctx context.Context) (*MetricsResponse, error) {
	cacheStats, err := availability.CacheStats(ctx)
	if err != nil {
		return nil, err
	}
	upstreamStats, err := availability.UpstreamClientStats(ctx)
	if err != nil {
		return nil, err
	}
	eventStats, err := ingestion.EventStats(ctx)
	if err != nil {
		return nil, err
	}

	return &MetricsResponse{
		Cache:    *cacheStats,
		Upstream: *upstreamStats,
		Events:   *eventStats,
	}, nil
}
