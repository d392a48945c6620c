// Package invalidation implements C8, the invalidation engine: the
// event→cache mapping table of §4.8, the clubToPlace-scoped club_updated
// handling, and the forward composite-availability sweep, plus the audit
// trail in audit.go. It keeps the teacher's separation of engine logic from
// the thin Encore handler that owns it (see the ingestion service), and its
// {processed, errors, lastProcessed} counters mirror the teacher's Metrics
// struct in this same package.
package invalidation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/cache"
	"encore.app/pkg/events"
	"encore.app/pkg/planner"
)

// AuditLoggerInterface is the narrow collaborator the engine needs from
// audit.go's AuditLogger.
type AuditLoggerInterface interface {
	Insert(ctx context.Context, log AuditLog) error
	GetRecent(ctx context.Context, limit, offset int, mutationTypeFilter string) ([]AuditLog, error)
	GetCount(ctx context.Context, mutationTypeFilter string) (int, error)
	GetByRequestID(ctx context.Context, requestID string) ([]AuditLog, error)
}

// Metrics is §4.8's {processed, errors, lastProcessed} counter.
type Metrics struct {
	mu            sync.Mutex
	processed     int64
	errorCount    int64
	lastProcessed time.Time
}

func (m *Metrics) recordProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.lastProcessed = time.Now()
}

func (m *Metrics) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount++
}

// Snapshot is the invalidation fragment of the external metrics surface §6
// names.
type Snapshot struct {
	Processed     int64
	Errors        int64
	LastProcessed time.Time
}

func (m *Metrics) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Processed: m.processed, Errors: m.errorCount, LastProcessed: m.lastProcessed}
}

// Engine processes club-mutation events into cache invalidations.
type Engine struct {
	cache    *cache.Cache
	planner  *planner.Planner
	audit    AuditLoggerInterface
	placeIDs []string
	loc      *time.Location
	metrics  *Metrics
	log      *zap.Logger
}

// NewEngine constructs an Engine. planner and audit may be nil in tests that
// don't exercise the composite-sweep or durability paths. loc is the
// configured SLOT_TIMEZONE, used to derive a booking event's calendar day
// from its slot's datetime.
func NewEngine(c *cache.Cache, p *planner.Planner, audit AuditLoggerInterface, placeIDs []string, loc *time.Location, log *zap.Logger) *Engine {
	return &Engine{
		cache:    c,
		planner:  p,
		audit:    audit,
		placeIDs: placeIDs,
		loc:      loc,
		metrics:  &Metrics{},
		log:      log.Named("invalidation"),
	}
}

// Process applies one mutation event's invalidation. Per §7's propagation
// policy for events, it never returns an error that would fail ingestion —
// every failure is logged, counted, and swallowed. Per §4.8, every event
// type (not just club_updated) also drops the composite availability tree
// for every configured place across the forward 7-day window, synchronously
// before this call returns — the nightly sweep in ingestion/cron.go exists
// only as a backstop against a place added to PREFETCH_PLACE_IDS after the
// fact, not as the mechanism this guarantee relies on.
func (e *Engine) Process(ctx context.Context, event *events.ClubMutation) {
	start := time.Now()
	description, keys := e.invalidate(ctx, event)

	swept := 0
	if e.planner != nil {
		swept = e.sweepCompositeWindow(ctx, time.Now())
		description = fmt.Sprintf("%s; composite sweep touched %d keys", description, swept)
	}
	e.metrics.recordProcessed()

	if e.audit == nil {
		return
	}
	log := AuditLog{
		MutationType: string(event.Type),
		ClubID:       event.ClubID,
		Description:  description,
		Keys:         keys,
		Timestamp:    time.Now(),
		RequestID:    event.RequestID,
		Latency:      time.Since(start).Milliseconds(),
	}
	go func() {
		if err := e.audit.Insert(context.Background(), log); err != nil {
			e.metrics.recordError()
			e.log.Warn("audit insert failed", zap.Error(err))
		}
	}()
}

// sweepCompositeWindow drops the composite availability tree for every
// configured place across the next 7 days, starting from from's date.
func (e *Engine) sweepCompositeWindow(ctx context.Context, from time.Time) int {
	total := 0
	for _, placeID := range e.placeIDs {
		for d := 0; d < 7; d++ {
			date := from.AddDate(0, 0, d).Format("2006-01-02")
			total += e.planner.InvalidateCacheForPlace(ctx, placeID, &date)
		}
	}
	return total
}

// invalidate dispatches on event.Type per §4.8's mapping table, returning a
// human-readable description and the keys touched, for the audit trail.
func (e *Engine) invalidate(ctx context.Context, event *events.ClubMutation) (description string, keys []string) {
	switch event.Type {
	case events.ClubUpdated:
		return e.invalidateClubUpdated(ctx, event)
	case events.CourtUpdated:
		return e.invalidateCourtUpdated(ctx, event)
	case events.BookingCreated, events.BookingCancelled:
		return e.invalidateBooking(ctx, event)
	default:
		e.metrics.recordError()
		e.log.Warn("unknown mutation type", zap.String("type", string(event.Type)))
		return "", nil
	}
}

// invalidateClubUpdated implements club_updated → clubs:*/courts:{clubId},
// scoped to clubs:{placeId} when the clubToPlace index (open question 1) has
// an entry, falling back to the global clubs:* sweep when it doesn't.
func (e *Engine) invalidateClubUpdated(ctx context.Context, event *events.ClubMutation) (string, []string) {
	clubIDStr := strconv.Itoa(event.ClubID)
	courtsPattern := cache.GenerateKey(cache.TypeCourts, clubIDStr)
	e.cache.InvalidateByPattern(ctx, courtsPattern)

	if placeID, ok := e.cache.GetClubPlace(ctx, event.ClubID); ok {
		freshKey := cache.GenerateKey(cache.TypeClubs, placeID)
		staleKey := cache.GenerateStaleKey(cache.TypeClubs, placeID)
		e.cache.Invalidate(ctx, freshKey, staleKey)
		return freshKey, []string{freshKey, staleKey, courtsPattern}
	}

	pattern := cache.GenerateKey(cache.TypeClubs) + ":*"
	e.cache.InvalidateByPattern(ctx, pattern)
	return pattern, []string{pattern, courtsPattern}
}

// invalidateCourtUpdated implements court_updated → courts:{clubId}.
func (e *Engine) invalidateCourtUpdated(ctx context.Context, event *events.ClubMutation) (string, []string) {
	freshKey := cache.GenerateKey(cache.TypeCourts, strconv.Itoa(event.ClubID))
	staleKey := cache.GenerateStaleKey(cache.TypeCourts, strconv.Itoa(event.ClubID))
	e.cache.Invalidate(ctx, freshKey, staleKey)
	return freshKey, []string{freshKey, staleKey}
}

// invalidateBooking implements booking_created/booking_cancelled →
// slots:{clubId}:{courtId}:{date}. The stale mirror is dropped too: a booking
// mutation makes the prior availability actively wrong, not merely aged out.
func (e *Engine) invalidateBooking(ctx context.Context, event *events.ClubMutation) (string, []string) {
	date := event.Date(e.loc)
	params := []string{strconv.Itoa(event.ClubID), strconv.Itoa(event.CourtID), date}
	freshKey := cache.GenerateKey(cache.TypeSlots, params...)
	staleKey := cache.GenerateStaleKey(cache.TypeSlots, params...)
	e.cache.Invalidate(ctx, freshKey, staleKey)
	return freshKey, []string{freshKey, staleKey}
}

// SweepForward drops the composite availability tree for every configured
// place across the next 7 days, per §4.8's scheduled sweep. Process already
// performs this same sweep synchronously on every event, so this nightly
// run is a backstop — it catches a place added to PREFETCH_PLACE_IDS (or a
// tree built before that addition) between events, not the mechanism the
// "invalidation happens before the next read" guarantee depends on.
func (e *Engine) SweepForward(ctx context.Context, from time.Time) {
	if e.planner == nil {
		return
	}
	e.sweepCompositeWindow(ctx, from)
}

// Stats exposes {processed, errors, lastProcessed}.
func (e *Engine) Stats() Snapshot {
	return e.metrics.Stats()
}
