package planner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/cache"
	"encore.app/pkg/kvstore"
	"encore.app/pkg/models"
)

type fakeStore struct {
	data map[string][]byte
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string][]byte)} }

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, bool) { v, ok := s.data[key]; return v, ok }
func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.data[key] = value
}
func (s *fakeStore) MGet(ctx context.Context, keys []string) [][]byte { return nil }
func (s *fakeStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) {}
func (s *fakeStore) Del(ctx context.Context, key string)               { delete(s.data, key) }
func (s *fakeStore) Scan(ctx context.Context, pattern string) []string { return nil }
func (s *fakeStore) Flush(ctx context.Context)                         { s.data = map[string][]byte{} }
func (s *fakeStore) Healthy() bool                                     { return true }
func (s *fakeStore) Stats() kvstore.Stats                              { return kvstore.Stats{Connected: true} }

type fakeClient struct {
	clubs       []models.Club
	clubsErr    error
	courts      map[int][]models.Court
	courtsErr   map[int]error
	slots       map[string][]models.Slot
	slotsErr    map[string]error
	courtsCalls atomic.Int32
	slotsCalls  atomic.Int32
}

func (f *fakeClient) GetClubs(ctx context.Context, placeID string) ([]models.Club, error) {
	return f.clubs, f.clubsErr
}

func (f *fakeClient) GetCourts(ctx context.Context, clubID int) ([]models.Court, error) {
	f.courtsCalls.Add(1)
	if err, ok := f.courtsErr[clubID]; ok {
		return nil, err
	}
	return f.courts[clubID], nil
}

func (f *fakeClient) GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]models.Slot, error) {
	f.slotsCalls.Add(1)
	key := slotsKey(clubID, courtID)
	if err, ok := f.slotsErr[key]; ok {
		return nil, err
	}
	return f.slots[key], nil
}

func slotsKey(clubID, courtID int) string {
	return fmt.Sprintf("%d:%d", clubID, courtID)
}

func newPlanner(client *fakeClient) *Planner {
	c := cache.New(newFakeStore(), zap.NewNop())
	return New(client, c, 5, 10, zap.NewNop())
}

func TestGetAvailabilityOptimizedHappyPath(t *testing.T) {
	client := &fakeClient{
		clubs: []models.Club{{ID: 1}, {ID: 2}},
		courts: map[int][]models.Court{
			1: {{ID: 10, ClubID: 1}},
			2: {{ID: 20, ClubID: 2}},
		},
		slots: map[string][]models.Slot{
			slotsKey(1, 10): {{Start: "08:00", End: "09:00"}},
			slotsKey(2, 20): {},
		},
	}
	p := newPlanner(client)

	tree, err := p.GetAvailabilityOptimized(context.Background(), "P1", "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Clubs) != 2 {
		t.Fatalf("expected 2 clubs, got %d", len(tree.Clubs))
	}
	if len(tree.Clubs[0].Courts) != 1 || len(tree.Clubs[0].Courts[0].Available) != 1 {
		t.Fatalf("unexpected club 0 shape: %+v", tree.Clubs[0])
	}
	if len(tree.Clubs[1].Courts[0].Available) != 0 {
		t.Fatalf("expected empty availability for club 2 court, got %+v", tree.Clubs[1].Courts[0].Available)
	}
}

func TestGetAvailabilityOptimizedEmptyClubsYieldsEmptyTree(t *testing.T) {
	client := &fakeClient{clubs: []models.Club{}}
	p := newPlanner(client)

	tree, err := p.GetAvailabilityOptimized(context.Background(), "P1", "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Clubs) != 0 {
		t.Fatalf("expected empty tree, got %+v", tree)
	}
}

func TestGetAvailabilityOptimizedDegradesFailingCourtsToEmpty(t *testing.T) {
	client := &fakeClient{
		clubs: []models.Club{{ID: 1}, {ID: 2}},
		courts: map[int][]models.Court{
			2: {{ID: 20, ClubID: 2}},
		},
		courtsErr: map[int]error{1: errors.New("upstream down")},
		slots: map[string][]models.Slot{
			slotsKey(2, 20): {{Start: "08:00"}},
		},
	}
	p := newPlanner(client)

	tree, err := p.GetAvailabilityOptimized(context.Background(), "P1", "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Clubs[0].Courts) != 0 {
		t.Fatalf("expected club 1 courts to degrade to empty, got %+v", tree.Clubs[0].Courts)
	}
	if len(tree.Clubs[1].Courts) != 1 || len(tree.Clubs[1].Courts[0].Available) != 1 {
		t.Fatalf("expected club 2 unaffected, got %+v", tree.Clubs[1])
	}
}

func TestGetAvailabilityOptimizedDegradesToEmptyTreeWhenGetClubsFailsWithNoCache(t *testing.T) {
	client := &fakeClient{clubsErr: errors.New("upstream down")}
	p := newPlanner(client)

	tree, err := p.GetAvailabilityOptimized(context.Background(), "P1", "2024-06-01")
	if err != nil {
		t.Fatalf("expected no error when getClubs fails with nothing cached, got %v", err)
	}
	if len(tree.Clubs) != 0 {
		t.Fatalf("expected empty tree, got %+v", tree)
	}
}

func TestGetAvailabilityOptimizedServesFromCacheOnSecondCall(t *testing.T) {
	client := &fakeClient{
		clubs: []models.Club{{ID: 1}},
		courts: map[int][]models.Court{
			1: {{ID: 10, ClubID: 1}},
		},
		slots: map[string][]models.Slot{
			slotsKey(1, 10): {{Start: "08:00"}},
		},
	}
	p := newPlanner(client)
	ctx := context.Background()

	if _, err := p.GetAvailabilityOptimized(ctx, "P1", "2024-06-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := client.courtsCalls.Load()

	if _, err := p.GetAvailabilityOptimized(ctx, "P1", "2024-06-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.courtsCalls.Load() != callsAfterFirst {
		t.Fatalf("expected second call to be served from cache, courts fetched again")
	}
}
