package captures

import (
	"context"
	"time"

	"breva-backend/internal/shared/metrics"
	"breva-backend/internal/shared/telemetry"
)

const (
	DefaultSweepInterval = time.Minute
	defaultSweepBatch    = 50
)

// Sweeper resumes active captures whose poller went away, typically after a restart.
type Sweeper struct {
	Repo      Repo
	Scheduler Scheduler
	Interval  time.Duration
	// Grace is how far past its lease a capture must be before it is considered stranded.
	Grace time.Duration
	// Lease is how long a claimed capture is reserved for the resumed poller.
	Lease time.Duration
	Batch int
	Now   func() time.Time
}

// SweepOnce claims stranded captures and reschedules them. It returns how many were resumed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	batch := s.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	claimed, err := s.Repo.ClaimStale(ctx, now.Add(-s.grace()), now.Add(s.lease()), batch)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, c := range claimed {
		job := JobFor(c)
		if err := s.Scheduler.Schedule(ctx, job); err != nil {
			telemetry.Error("capture.sweep.schedule_error", map[string]any{
				"capture_id":     c.ID,
				"measurement_id": c.MeasurementID,
				"error":          err.Error(),
			})
			continue
		}
		resumed++
		metrics.IncCapturesResumed()
		telemetry.Info("capture.sweep.resumed", map[string]any{
			"capture_id":     c.ID,
			"measurement_id": c.MeasurementID,
			"side":           string(c.Side),
			"attempts":       c.PollAttempts,
		})
	}
	return resumed, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			telemetry.Error("capture.sweep.error", map[string]any{"error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) grace() time.Duration {
	if s.Grace > 0 {
		return s.Grace
	}
	return 2 * DefaultPollInterval
}

func (s *Sweeper) lease() time.Duration {
	if s.Lease > 0 {
		return s.Lease
	}
	return 2 * DefaultPollInterval
}
