// internal/timesync/runner.go
package timesync

import (
	"context"
	"log/slog"
	"time"

	"github.com/tamzrod/wifi-onboard/internal/metrics"
)

// Event is one sync outcome. Exactly one of the fields is meaningful.
type Event struct {
	UnixSeconds int64
	Err         error
}

// Runner drives the client on the production cadence: immediate first
// attempt with growing backoff until it succeeds, then hourly, dropping to
// the retry interval after a periodic failure.
type Runner struct {
	client *Client
	log    *slog.Logger

	// Overridable for tests; zero values pick the defaults.
	InitialBackoff []time.Duration
	SyncInterval   time.Duration
	RetryInterval  time.Duration
}

func NewRunner(client *Client) *Runner {
	return &Runner{
		client:         client,
		log:            slog.With("component", "timesync"),
		InitialBackoff: []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 5 * time.Minute},
		SyncInterval:   time.Hour,
		RetryInterval:  5 * time.Minute,
	}
}

// Run emits an Event per attempt on out until the context is cancelled.
// One goroutine per runner; no overlap between attempts.
func (r *Runner) Run(ctx context.Context, out chan<- Event) {
	// Initial sync: keep trying until the first success.
	attempt := 0
	for {
		unixSeconds, err := r.client.SyncOnce(ctx)
		if err == nil {
			r.log.Info("initial sync successful", "unix_seconds", unixSeconds)
			metrics.TimeSyncs.WithLabelValues("success").Inc()
			if !emit(ctx, out, Event{UnixSeconds: unixSeconds}) {
				return
			}
			break
		}
		if ctx.Err() != nil {
			return
		}
		metrics.TimeSyncs.WithLabelValues("failure").Inc()

		delay := r.InitialBackoff[min(attempt, len(r.InitialBackoff)-1)]
		attempt++
		r.log.Warn("sync failed", "attempt", attempt, "retry_in", delay, "error", err)
		if !emit(ctx, out, Event{Err: err}) {
			return
		}
		if !sleep(ctx, delay) {
			return
		}
	}

	// Periodic sync.
	wait := r.SyncInterval
	for {
		if !sleep(ctx, wait) {
			return
		}

		unixSeconds, err := r.client.SyncOnce(ctx)
		if err == nil {
			r.log.Info("periodic sync successful", "unix_seconds", unixSeconds)
			metrics.TimeSyncs.WithLabelValues("success").Inc()
			if !emit(ctx, out, Event{UnixSeconds: unixSeconds}) {
				return
			}
			wait = r.SyncInterval
			continue
		}
		if ctx.Err() != nil {
			return
		}
		metrics.TimeSyncs.WithLabelValues("failure").Inc()
		r.log.Warn("periodic sync failed", "retry_in", r.RetryInterval, "error", err)
		if !emit(ctx, out, Event{Err: err}) {
			return
		}
		wait = r.RetryInterval
	}
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
