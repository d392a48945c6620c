// Package breaker wraps github.com/sony/gobreaker with the two-argument
// execute(primary, fallback) contract §4.4 specifies, translating gobreaker's
// open-state error into ErrBreakerOpen and the three-state machine's naming
// onto CLOSED/OPEN/HALF_OPEN.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrBreakerOpen is returned by Execute when the breaker is OPEN and the
// caller supplied no fallback.
var ErrBreakerOpen = errors.New("breaker: open, no fallback supplied")

// State mirrors gobreaker's three states under the names §4.4 uses.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config carries the three thresholds §4.4 names.
type Config struct {
	FailureThreshold uint32
	Timeout          time.Duration
	SuccessThreshold uint32

	// IsFailure classifies a primary error as breaker-relevant. nil means
	// every non-nil error counts, gobreaker's default. §7's UpstreamBadStatus
	// uses this hook: a well-formed 4xx that is client-attributable (e.g.
	// unknown placeId) should not trip the breaker.
	IsFailure func(err error) bool
}

// Breaker is single-instance per upstream, not keyed per operation, per
// §4.4's contract.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger

	mu              sync.Mutex
	lastFailureTime time.Time
}

// New constructs a Breaker with the given thresholds.
func New(cfg Config, log *zap.Logger) *Breaker {
	log = log.Named("breaker")
	isFailure := cfg.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}
	settings := gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !isFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("state transition",
				zap.String("from", translate(from).String()),
				zap.String("to", translate(to).String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

func (s State) String() string { return string(s) }

func translate(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Primary is the guarded operation. Fallback is optional; when nil and the
// breaker is OPEN, Execute returns ErrBreakerOpen.
type Primary func(ctx context.Context) (interface{}, error)
type Fallback func(ctx context.Context, cause error) (interface{}, error)

// Execute runs primary through the breaker. On any primary failure
// (including BreakerOpen) fallback runs, if supplied, and its result is
// returned instead.
func (b *Breaker) Execute(ctx context.Context, primary Primary, fallback Fallback) (interface{}, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return primary(ctx)
	})
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.mu.Lock()
		b.lastFailureTime = time.Now()
		b.mu.Unlock()
	}

	if fallback == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrBreakerOpen
		}
		return nil, err
	}
	return fallback(ctx, err)
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return translate(b.cb.State())
}

// Snapshot is the breaker fragment of the external metrics surface (§6):
// {state, failureCount, lastFailureTime, msSinceLastFailure}.
type Snapshot struct {
	State               State
	FailureCount        uint32
	LastFailureTime     time.Time
	MsSinceLastFailure  int64
}

func (b *Breaker) Stats() Snapshot {
	counts := b.cb.Counts()
	b.mu.Lock()
	last := b.lastFailureTime
	b.mu.Unlock()

	snap := Snapshot{
		State:           b.State(),
		FailureCount:    counts.ConsecutiveFailures,
		LastFailureTime: last,
	}
	if !last.IsZero() {
		snap.MsSinceLastFailure = time.Since(last).Milliseconds()
	}
	return snap
}
