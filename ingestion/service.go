// Package ingestion is the edge service owning C8, the invalidation engine:
// a thin Encore handler over invalidation.Engine.Process, and the edge
// malformed events never get past (Encore's decoder rejects an
// unknown "type" discriminator before HandleEvent ever runs), per §7.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"encore.dev/pubsub"
	"encore.dev/storage/sqldb"

	"encore.app/invalidation"
	"encore.app/pkg/cache"
	"encore.app/pkg/config"
	"encore.app/pkg/events"
	"encore.app/pkg/kvstore"
	"encore.app/pkg/logging"
	"encore.app/pkg/models"
	"encore.app/pkg/planner"
)

var db = sqldb.Named("invalidation_db")

//encore:service
type Service struct {
	engine *invalidation.Engine
}

func initService() (*Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("ingestion: load config: %w", err)
	}

	log, err := logging.New(cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("ingestion: build logger: %w", err)
	}

	store := kvstore.New(context.Background(), kvstore.Options{
		Host:     cfg.KVHost,
		Port:     cfg.KVPort,
		Password: cfg.KVPassword,
		DB:       cfg.KVDB,
	}, log)
	c := cache.New(store, log)

	// The sweep only ever calls InvalidateCacheForPlace, never the
	// fetch-and-assemble path, so the planner's upstream collaborator here
	// is a stub that is never actually reached.
	p := planner.New(noopUpstreamClient{}, c, cfg.FanOutCourts, cfg.FanOutSlots, log)

	auditLogger, err := invalidation.NewAuditLogger(db)
	if err != nil {
		return nil, fmt.Errorf("ingestion: init audit logger: %w", err)
	}

	loc, err := time.LoadLocation(cfg.SlotTimezone)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load SLOT_TIMEZONE %q: %w", cfg.SlotTimezone, err)
	}

	engine := invalidation.NewEngine(c, p, auditLogger, cfg.PrefetchPlaceIDs, loc, log)
	return &Service{engine: engine}, nil
}

var svc *Service

func init() {
	var err error
	svc, err = initService()
	if err != nil {
		panic(fmt.Sprintf("ingestion: failed to initialize: %v", err))
	}
}

// HandleEventResponse acknowledges receipt; processing itself never fails
// the caller, per §7's event propagation policy.
type HandleEventResponse struct {
	Accepted bool `json:"accepted"`
}

// HandleEvent is the HTTP-facing event ingestion endpoint. Malformed JSON or
// an unrecognized "type" is rejected by Encore's decoder before this runs;
// a well-formed event missing type-specific fields is rejected by Validate.
//
//encore:api public method=POST path=/events
func HandleEvent(ctx context.Context, req *events.ClubMutation) (*HandleEventResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = logging.NewRequestID()
	}
	ctx = logging.WithRequestID(ctx, req.RequestID)
	svc.engine.Process(ctx, req)
	return &HandleEventResponse{Accepted: true}, nil
}

// clubMutationSubscription lets any other producer (e.g. a replay tool)
// funnel events through the identical invalidation path HandleEvent uses,
// mirroring the teacher's cache-manager/subscriptions.go pattern.
var _ = pubsub.NewSubscription(
	events.ClubMutations,
	"ingestion-invalidate",
	pubsub.SubscriptionConfig[*events.ClubMutation]{
		Handler: func(ctx context.Context, event *events.ClubMutation) error {
			if err := event.Validate(); err != nil {
				return nil
			}
			if event.RequestID == "" {
				event.RequestID = logging.NewRequestID()
			}
			ctx = logging.WithRequestID(ctx, event.RequestID)
			svc.engine.Process(ctx, event)
			return nil
		},
	},
)

// EventStatsResponse is the events fragment of the external metrics surface:
// {processed, errors, lastProcessed, successRate}.
type EventStatsResponse struct {
	Processed     int64   `json:"processed"`
	Errors        int64   `json:"errors"`
	LastProcessed string  `json:"lastProcessed"`
	SuccessRate   float64 `json:"successRate"`
}

//encore:api private method=GET path=/ingestion/internal/event-stats
func EventStats(ctx context.Context) (*EventStatsResponse, error) {
	s := svc.engine.Stats()
	resp := &EventStatsResponse{
		Processed:     s.Processed,
		Errors:        s.Errors,
		LastProcessed: s.LastProcessed.Format("2006-01-02T15:04:05Z07:00"),
	}
	if s.Processed > 0 {
		resp.SuccessRate = float64(s.Processed-s.Errors) / float64(s.Processed)
	}
	return resp, nil
}

// noopUpstreamClient backs the planner this service uses only for
// composite-tree invalidation, never for a live query, so every method is
// unreachable in practice.
type noopUpstreamClient struct{}

func (noopUpstreamClient) GetClubs(ctx context.Context, placeID string) ([]models.Club, error) {
	return nil, nil
}
func (noopUpstreamClient) GetCourts(ctx context.Context, clubID int) ([]models.Court, error) {
	return nil, nil
}
func (noopUpstreamClient) GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]models.Slot, error) {
	return nil, nil
}
