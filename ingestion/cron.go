package ingestion

import (
	"context"
	"time"

	"encore.dev/cron"
)

// ForwardSweep runs the 7-day forward composite-availability sweep §4.8
// describes nightly, keeping every PREFETCH_PLACE_IDS entry's cached trees
// from outliving the window the upstream actually serves.
var _ = cron.NewJob("availability-forward-sweep", cron.JobConfig{
	Title:    "Forward availability sweep",
	Schedule: "0 3 * * *",
	Endpoint: ForwardSweep,
})

//encore:api private
func ForwardSweep(ctx context.Context) error {
	svc.engine.SweepForward(ctx, time.Now())
	return nil
}
