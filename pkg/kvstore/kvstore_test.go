package kvstore

import "testing"

func TestAddrDefaults(t *testing.T) {
	got := addr(Options{})
	want := "localhost:6379"
	if got != want {
		t.Fatalf("addr(Options{}) = %q, want %q", got, want)
	}
}

func TestAddrExplicit(t *testing.T) {
	got := addr(Options{Host: "kv.internal", Port: 7000})
	want := "kv.internal:7000"
	if got != want {
		t.Fatalf("addr(...) = %q, want %q", got, want)
	}
}

func TestStatsZeroValue(t *testing.T) {
	s := &RedisStore{}
	stats := s.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.Errors != 0 || stats.Operations != 0 {
		t.Fatalf("expected zero stats on fresh store, got %+v", stats)
	}
	if stats.Connected {
		t.Fatalf("expected fresh store to report disconnected")
	}
}
