package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacklul/gamestore/internal/logctx"
	"github.com/jacklul/gamestore/storage"
)

const (
	// DefaultBudget bounds a reap batch when the caller passes none.
	DefaultBudget = 30 * time.Second

	// notifyBatchSize is how many notifications go out between pauses,
	// matching the transport's own throughput limits.
	notifyBatchSize = 25

	// notifyPause is the rest between notification batches.
	notifyPause = time.Second
)

// NotifyFunc tells the external transport that a session is expiring, e.g.
// by editing its outward-facing game message. Failures are logged and never
// block deletion.
type NotifyFunc func(ctx context.Context, id string) error

// Report summarizes one reap batch.
type Report struct {
	// Processed is how many stale sessions were handled before the time
	// budget ran out.
	Processed int

	// Total is how many stale sessions the listing found.
	Total int
}

// Reaper deletes sessions whose last update is older than a threshold.
type Reaper struct {
	backend storage.Backend
	notify  NotifyFunc
	log     *slog.Logger

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// NewReaper creates a Reaper over an already selected backend. notify may be
// nil when no transport notification is wanted; a nil logger falls back to
// slog.Default.
func NewReaper(backend storage.Backend, notify NotifyFunc, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{
		backend: backend,
		notify:  notify,
		log:     log,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Reap lists sessions updated at least threshold ago, oldest first, and
// deletes them one by one until the listing is exhausted or the wall-clock
// budget elapses. A budget of zero or less means DefaultBudget.
func (r *Reaper) Reap(ctx context.Context, threshold, budget time.Duration) (Report, error) {
	if threshold < 0 {
		return Report{}, fmt.Errorf("sessions: reap threshold must not be negative")
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	ctx = logctx.WithReapData(ctx, &logctx.ReapData{
		BatchID: uuid.NewString(),
		Backend: r.backend.Name(),
	})

	if err := r.backend.Initialize(ctx); err != nil {
		return Report{}, fmt.Errorf("sessions: reap: %w", err)
	}

	start := r.now()
	infos, err := r.backend.List(ctx, threshold)
	if err != nil {
		return Report{}, fmt.Errorf("sessions: reap list: %w", err)
	}

	report := Report{Total: len(infos)}
	notified := 0
	failed := 0

	for _, info := range infos {
		if r.now().Sub(start) >= budget {
			r.log.WarnContext(ctx, "reap budget exhausted",
				slog.Int("processed", report.Processed),
				slog.Int("total", report.Total),
			)
			break
		}

		if r.notify != nil {
			if err := r.notify(ctx, info.ID); err != nil {
				r.log.WarnContext(ctx, "expiry notification failed",
					slog.String("session_id", info.ID),
					slog.String("error", err.Error()),
				)
			}
			notified++
			if notified%notifyBatchSize == 0 {
				r.sleep(notifyPause)
			}
		}

		if err := r.backend.Delete(ctx, info.ID); err != nil {
			failed++
			r.log.ErrorContext(ctx, "failed to delete stale session",
				slog.String("session_id", info.ID),
				slog.String("error", err.Error()),
			)
		}
		report.Processed++
	}

	r.log.InfoContext(ctx, "reap batch finished",
		slog.Int("processed", report.Processed),
		slog.Int("total", report.Total),
		slog.Int("failed_deletes", failed),
		slog.Duration("elapsed", r.now().Sub(start)),
	)
	return report, nil
}
