// Package scheduler runs the core's background work as supervised
// periodic workers with explicit start/stop and cancellation (spec §9:
// "Model as supervised periodic workers with explicit start/stop hooks
// and cancellation, not implicit task lifetimes"), rather than hand-rolled
// time.Sleep loops. It wraps github.com/robfig/cron/v3, which already
// supplies the two properties spec §5's concurrency model needs here —
// overlap prevention (a slow sync-exchange round must not start a second
// one on top of itself) and panic isolation (one misbehaving job must
// never take the process down) — as composable job wrappers, so this
// package only needs to adapt logging and named-job registration on top.
package scheduler

import "context"

// JobFunc is one unit of scheduled work. Returning an error logs it; it
// never stops the schedule.
type JobFunc func(ctx context.Context) error
