package upstreamclient

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PrefetchQueue is the low-priority background worker pool spec.md §9 asks
// for: a fire-and-forget task bounded by the same limiter/breaker as
// foreground traffic (the fetcher callback calls back into the Client,
// which in turn goes through the shared breaker and limiter), structured
// after the teacher's bounded-worker-pool-over-a-buffered-channel shape.
type PrefetchQueue struct {
	fetchMu sync.RWMutex
	fetch   func(ctx context.Context, clubID int) error

	tasks chan int
	// enqueueLimiter paces how fast clubIDs are admitted into the queue —
	// independent of the shared upstream-call budget in pkg/ratelimit, this
	// only protects the queue itself from being flooded by a single large
	// getClubs response.
	enqueueLimiter *rate.Limiter

	stop chan struct{}
	wg   sync.WaitGroup
	log  *zap.Logger
}

// NewPrefetchQueue starts numWorkers goroutines draining a buffered task
// channel of clubIDs awaiting a courts prefetch.
func NewPrefetchQueue(numWorkers, queueDepth int, log *zap.Logger) *PrefetchQueue {
	q := &PrefetchQueue{
		tasks:          make(chan int, queueDepth),
		enqueueLimiter: rate.NewLimiter(rate.Limit(200), 200),
		stop:           make(chan struct{}),
		log:            log.Named("prefetch"),
	}

	for i := 0; i < numWorkers; i++ {
		q.wg.Add(1)
		go q.runWorker()
	}
	return q
}

// SetFetcher wires the callback used to actually fetch courts for a club —
// set once, after the Client that owns this queue has been constructed, to
// break the construction cycle between Client and PrefetchQueue.
func (q *PrefetchQueue) SetFetcher(fn func(ctx context.Context, clubID int) error) {
	q.fetchMu.Lock()
	defer q.fetchMu.Unlock()
	q.fetch = fn
}

// SchedulePrefetchCourtsForClubs enqueues a courts prefetch for each clubID,
// without blocking the caller. A full queue drops the surplus rather than
// blocking — prefetch must not starve foreground work.
func (q *PrefetchQueue) SchedulePrefetchCourtsForClubs(clubIDs []int) {
	for _, clubID := range clubIDs {
		if !q.enqueueLimiter.Allow() {
			q.log.Warn("prefetch enqueue rate exceeded, dropping", zap.Int("clubId", clubID))
			continue
		}
		select {
		case q.tasks <- clubID:
		default:
			q.log.Warn("prefetch queue full, dropping task", zap.Int("clubId", clubID))
		}
	}
}

func (q *PrefetchQueue) runWorker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stop:
			return
		case clubID := <-q.tasks:
			q.runTask(clubID)
		}
	}
}

func (q *PrefetchQueue) runTask(clubID int) {
	q.fetchMu.RLock()
	fetch := q.fetch
	q.fetchMu.RUnlock()
	if fetch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*callTimeout)
	defer cancel()

	if err := fetch(ctx, clubID); err != nil {
		// Failures are logged and do not affect the query path, per §4.6.
		q.log.Warn("prefetch failed", zap.Int("clubId", clubID), zap.Error(err))
	}
}

// QueueSize backs simple operational visibility; it is not part of the
// external metrics surface §6 defines.
func (q *PrefetchQueue) QueueSize() int {
	return len(q.tasks)
}

// Shutdown stops every worker and waits for in-flight tasks to finish.
func (q *PrefetchQueue) Shutdown() {
	close(q.stop)
	q.wg.Wait()
}
