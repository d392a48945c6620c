package upstreamclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"encore.app/pkg/breaker"
	"encore.app/pkg/cache"
	"encore.app/pkg/coalesce"
	"encore.app/pkg/kvstore"
	"encore.app/pkg/models"
	"encore.app/pkg/ratelimit"
)

type memStore struct {
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool) { v, ok := m.data[key]; return v, ok }
func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.data[key] = value
}
func (m *memStore) MGet(ctx context.Context, keys []string) [][]byte { return nil }
func (m *memStore) MSet(ctx context.Context, entries map[string][]byte, ttl time.Duration) {}
func (m *memStore) Del(ctx context.Context, key string)                     { delete(m.data, key) }
func (m *memStore) Scan(ctx context.Context, pattern string) []string       { return nil }
func (m *memStore) Flush(ctx context.Context)                               { m.data = map[string][]byte{} }
func (m *memStore) Healthy() bool                                           { return true }
func (m *memStore) Stats() kvstore.Stats                                   { return kvstore.Stats{Connected: true} }

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	log := zap.NewNop()
	c := cache.New(newMemStore(), log)
	b := breaker.New(breaker.Config{FailureThreshold: 5, Timeout: time.Minute, SuccessThreshold: 3}, log)
	l := ratelimit.New(1000, time.Minute, log)
	return New(Config{BaseURL: baseURL}, c, coalesce.New(), b, l, nil, log)
}

func TestGetClubsHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Club{{ID: 1}, {ID: 2}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	clubs, err := client.GetClubs(context.Background(), "P1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clubs) != 2 || clubs[0].ID != 1 || clubs[1].ID != 2 {
		t.Fatalf("unexpected clubs: %+v", clubs)
	}
}

func TestGetClubsFallsBackToStaleWhenUpstreamFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	staleKey := cache.GenerateStaleKey(cache.TypeClubs, "P1")
	staleBody, _ := json.Marshal([]models.Club{{ID: 9}})
	client.cache.SetWithIntelligentTTL(context.Background(), "unused", staleBody, cache.TypeClubs, staleKey)

	// force enough consecutive failures to open the breaker, each hitting
	// the upstream directly so the stale mirror above is never overwritten.
	for i := 0; i < 5; i++ {
		_, _ = client.GetClubs(context.Background(), "P1")
	}

	clubs, err := client.GetClubs(context.Background(), "P1")
	if err != nil {
		t.Fatalf("expected fallback to stale data, got error: %v", err)
	}
	if len(clubs) != 1 || clubs[0].ID != 9 {
		t.Fatalf("unexpected clubs from stale fallback: %+v", clubs)
	}
}

func TestGetCourtsStampsClubID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Court{{ID: 10}, {ID: 11}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	courts, err := client.GetCourts(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range courts {
		if c.ClubID != 7 {
			t.Fatalf("expected ClubID 7, got %d", c.ClubID)
		}
	}
}

func TestGetAvailableSlotsEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Slot{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	slots, err := client.GetAvailableSlots(context.Background(), 1, 10, "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected empty slots, got %+v", slots)
	}
}

func TestGetCourtsNotFoundWithNoCacheReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetCourts(context.Background(), strconv.IntSize) // any id
	if err == nil {
		t.Fatalf("expected error for 404 with no cached fallback")
	}
}
