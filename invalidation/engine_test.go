package invalidation

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/cache"
	"encore.app/pkg/events"
	"encore.app/pkg/kvstore"
	"encore.app/pkg/models"
	"encore.app/pkg/planner"
)

type fakeStore struct {
	data   map[string][]byte
	delCnt int
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string][]byte)} }

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, bool) { v, ok := s.data[key]; return v, ok }
func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.data[key] = value
}
func (s *fakeStore) MGet(ctx context.Context, keys []string) [][]byte { return nil }
func (s *fakeStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) {}
func (s *fakeStore) Del(ctx context.Context, key string) {
	s.delCnt++
	delete(s.data, key)
}
func (s *fakeStore) Scan(ctx context.Context, pattern string) []string {
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
func (s *fakeStore) Flush(ctx context.Context)                         { s.data = map[string][]byte{} }
func (s *fakeStore) Healthy() bool                                     { return true }
func (s *fakeStore) Stats() kvstore.Stats                              { return kvstore.Stats{Connected: true} }

func newEngine(store *fakeStore, p *planner.Planner) (*Engine, *cache.Cache) {
	log := zap.NewNop()
	c := cache.New(store, log)
	return NewEngine(c, p, nil, []string{"P1", "P2"}, time.UTC, log), c
}

// newEngineWithPlanner builds an engine whose planner is backed by a noop
// upstream client, so every Process call's composite sweep (now synchronous
// for every event type, not only club_updated) has somewhere real to land.
func newEngineWithPlanner(store *fakeStore) (*Engine, *cache.Cache) {
	log := zap.NewNop()
	c := cache.New(store, log)
	p := planner.New(noopClient{}, c, 5, 10, log)
	return NewEngine(c, p, nil, []string{"P1", "P2"}, time.UTC, log), c
}

func TestProcessCourtUpdatedInvalidatesCourtsKey(t *testing.T) {
	store := newFakeStore()
	store.Set(context.Background(), cache.GenerateKey(cache.TypeCourts, "7"), []byte("x"), time.Hour)
	engine, _ := newEngine(store, nil)

	engine.Process(context.Background(), &events.ClubMutation{Type: events.CourtUpdated, ClubID: 7})

	if _, ok := store.Get(context.Background(), cache.GenerateKey(cache.TypeCourts, "7")); ok {
		t.Fatal("expected courts:7 to be invalidated")
	}
	if engine.Stats().Processed != 1 {
		t.Fatalf("expected 1 processed, got %d", engine.Stats().Processed)
	}
}

func TestProcessBookingCreatedInvalidatesSlotKey(t *testing.T) {
	store := newFakeStore()
	freshKey := cache.GenerateKey(cache.TypeSlots, "1", "2", "2024-06-01")
	store.Set(context.Background(), freshKey, []byte("x"), time.Hour)
	engine, _ := newEngine(store, nil)

	engine.Process(context.Background(), &events.ClubMutation{
		Type: events.BookingCreated, ClubID: 1, CourtID: 2,
		Slot: &events.MutationSlot{Datetime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	})

	if _, ok := store.Get(context.Background(), freshKey); ok {
		t.Fatal("expected slot key to be invalidated")
	}
}

// TestProcessBookingCreatedAlsoSweepsCompositeWindow locks in §4.8's
// requirement that every event, not just club_updated, synchronously
// invalidates the composite availability tree for every configured place
// across the forward 7-day window before Process returns (seed scenario:
// a single booking_created POST invalidates composite keys for the
// configured placeIds × 7-day window).
func TestProcessBookingCreatedAlsoSweepsCompositeWindow(t *testing.T) {
	store := newFakeStore()
	engine, _ := newEngineWithPlanner(store)

	before := store.delCnt
	engine.Process(context.Background(), &events.ClubMutation{
		Type: events.BookingCreated, ClubID: 1, CourtID: 2,
		Slot: &events.MutationSlot{Datetime: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	})

	// 2 places * 7 days * 2 tiers (fresh+stale) = 28 composite deletes, plus
	// the slot key's own fresh+stale pair = 30.
	if got := store.delCnt - before; got != 30 {
		t.Fatalf("expected 30 deletes (28 composite + 2 slot), got %d", got)
	}
}

func TestProcessCourtUpdatedAlsoSweepsCompositeWindow(t *testing.T) {
	store := newFakeStore()
	engine, _ := newEngineWithPlanner(store)

	before := store.delCnt
	engine.Process(context.Background(), &events.ClubMutation{Type: events.CourtUpdated, ClubID: 7, CourtID: 3})

	if got := store.delCnt - before; got < 28 {
		t.Fatalf("expected at least 28 composite deletes from court_updated, got %d", got)
	}
}

func TestProcessClubUpdatedUsesClubToPlaceIndexWhenPresent(t *testing.T) {
	store := newFakeStore()
	engine, c := newEngine(store, nil)
	c.SetClubPlace(context.Background(), 3, "P1")

	freshKey := cache.GenerateKey(cache.TypeClubs, "P1")
	store.Set(context.Background(), freshKey, []byte("x"), time.Hour)

	engine.Process(context.Background(), &events.ClubMutation{Type: events.ClubUpdated, ClubID: 3})

	if _, ok := store.Get(context.Background(), freshKey); ok {
		t.Fatal("expected clubs:P1 to be invalidated via clubToPlace index")
	}
}

func TestProcessClubUpdatedFallsBackToGlobalSweepWhenIndexAbsent(t *testing.T) {
	store := newFakeStore()
	globalKey := cache.GenerateKey(cache.TypeClubs) + ":*"
	store.Set(context.Background(), globalKey, []byte("x"), time.Hour)
	engine, _ := newEngine(store, nil)

	engine.Process(context.Background(), &events.ClubMutation{Type: events.ClubUpdated, ClubID: 99})

	if _, ok := store.Get(context.Background(), globalKey); ok {
		t.Fatal("expected global clubs:* fallback to fire when clubToPlace is absent")
	}
}

func TestProcessUnknownTypeRecordsErrorWithoutPanicking(t *testing.T) {
	store := newFakeStore()
	engine, _ := newEngine(store, nil)

	engine.Process(context.Background(), &events.ClubMutation{Type: "bogus"})

	if engine.Stats().Errors != 1 {
		t.Fatalf("expected 1 error recorded, got %d", engine.Stats().Errors)
	}
}

func TestSweepForwardTouchesEveryPlaceAcrossSevenDays(t *testing.T) {
	store := newFakeStore()
	engine, _ := newEngineWithPlanner(store)

	before := store.delCnt
	engine.SweepForward(context.Background(), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	// 2 places * 7 days * 2 tiers (fresh+stale) = 28 literal deletes.
	if got := store.delCnt - before; got != 28 {
		t.Fatalf("expected 28 deletes, got %d", got)
	}
}

type noopClient struct{}

func (noopClient) GetClubs(ctx context.Context, placeID string) ([]models.Club, error) { return nil, nil }
func (noopClient) GetCourts(ctx context.Context, clubID int) ([]models.Court, error)    { return nil, nil }
func (noopClient) GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]models.Slot, error) {
	return nil, nil
}
