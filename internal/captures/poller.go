package captures

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"breva-backend/internal/estimator"
	"breva-backend/internal/shared/metrics"
	"breva-backend/internal/shared/telemetry"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 60

	maxLastErrorLen = 500
)

// StatusFetcher reads one estimation request's status.
type StatusFetcher interface {
	Status(ctx context.Context, requestID int64) (estimator.StatusResponse, error)
}

// Poller drives a capture from PENDING to a terminal status. Ticks for one capture never overlap.
type Poller struct {
	Repo        Repo
	Estimator   StatusFetcher
	Interval    time.Duration
	MaxAttempts int
	Now         func() time.Time
	// Sleep waits between ticks; it returns ctx.Err() when cancelled.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run ticks job on the fixed interval until the capture is terminal or ctx is done.
// Errors never escape; they are logged and counted toward the attempt ceiling.
func (p *Poller) Run(ctx context.Context, job PollJob) {
	defer func() {
		if r := recover(); r != nil {
			fields := p.fields(ctx, job)
			fields["panic"] = fmt.Sprint(r)
			telemetry.Error("capture.poll.panic", fields)
		}
	}()
	for attempt := job.Attempts + 1; ; attempt++ {
		if err := p.sleep(ctx, p.interval()); err != nil {
			fields := p.fields(ctx, job)
			fields["attempt"] = attempt
			telemetry.Info("capture.poll.stopped", fields)
			return
		}
		if p.Tick(ctx, job, attempt) {
			return
		}
		if attempt > p.maxAttempts() {
			// The row could not be failed; leave it for the sweeper.
			fields := p.fields(ctx, job)
			fields["attempt"] = attempt
			telemetry.Error("capture.poll.abandoned", fields)
			return
		}
	}
}

// Advance runs the next tick of job and hands the remaining work back to s.
func (p *Poller) Advance(ctx context.Context, job PollJob, s Scheduler) error {
	attempt := job.Attempts + 1
	if p.Tick(ctx, job, attempt) {
		return nil
	}
	job.Attempts = attempt
	return s.Schedule(ctx, job)
}

// Tick performs poll number attempt and persists its outcome. It reports whether polling is over.
func (p *Poller) Tick(ctx context.Context, job PollJob, attempt int) bool {
	metrics.IncCapturePollTicks()
	if attempt > p.maxAttempts() {
		return p.fail(ctx, job, p.maxAttempts(), "max attempts reached")
	}

	st, err := p.Estimator.Status(ctx, job.RequestID)
	if err != nil {
		metrics.IncCapturePollErrors()
		fields := p.fields(ctx, job)
		fields["attempt"] = attempt
		fields["error"] = err.Error()
		telemetry.Warn("capture.poll.error", fields)
		return p.advance(ctx, job, attempt, Tick{LastError: err.Error()})
	}

	switch st.Status {
	case estimator.StatusCompleted:
		if st.EstimatedVolume == nil {
			return p.advance(ctx, job, attempt, Tick{Status: StatusPending, LastError: "completed without estimated volume"})
		}
		volume := *st.EstimatedVolume
		if math.IsNaN(volume) || math.IsInf(volume, 0) || volume < 0 {
			return p.fail(ctx, job, attempt, fmt.Sprintf("invalid estimated volume %v", volume))
		}
		return p.complete(ctx, job, attempt, volume)
	case estimator.StatusFailed:
		return p.fail(ctx, job, attempt, "estimation failed")
	default:
		status := st.Status
		if status == "" {
			status = StatusPending
		}
		return p.advance(ctx, job, attempt, Tick{Status: status, EstimatedVolume: st.EstimatedVolume})
	}
}

// advance persists a non-terminal tick, or forces FAILED once the ceiling is reached.
func (p *Poller) advance(ctx context.Context, job PollJob, attempt int, tick Tick) bool {
	if attempt >= p.maxAttempts() {
		reason := "max attempts reached"
		if tick.LastError != "" {
			reason += ": " + tick.LastError
		}
		return p.fail(ctx, job, attempt, reason)
	}
	next := p.now().Add(p.interval())
	tick.Attempts = attempt
	tick.NextPollAt = &next
	tick.LastError = truncate(tick.LastError)
	return p.stopped(ctx, job, "record", p.Repo.RecordTick(ctx, job.CaptureID, tick))
}

func (p *Poller) complete(ctx context.Context, job PollJob, attempt int, volume float64) bool {
	err := p.Repo.Complete(ctx, job.CaptureID, volume, attempt)
	if err != nil {
		if isGone(err) {
			return p.stopped(ctx, job, "complete", err)
		}
		fields := p.fields(ctx, job)
		fields["attempt"] = attempt
		fields["error"] = err.Error()
		telemetry.Error("capture.commit.error", fields)
		return p.advance(ctx, job, attempt, Tick{LastError: "commit failed: " + err.Error()})
	}
	metrics.IncCapturesCompleted()
	if !job.SubmittedAt.IsZero() {
		metrics.ObserveCaptureDurationMs(float64(p.now().Sub(job.SubmittedAt).Milliseconds()))
	}
	fields := p.fields(ctx, job)
	fields["attempt"] = attempt
	fields["status"] = StatusCompleted
	fields["status_transition"] = "PENDING->COMPLETED"
	fields["estimated_volume"] = volume
	telemetry.Info("capture.status", fields)
	return true
}

func (p *Poller) fail(ctx context.Context, job PollJob, attempt int, reason string) bool {
	err := p.Repo.Fail(ctx, job.CaptureID, attempt, truncate(reason))
	if err != nil {
		return p.stopped(ctx, job, "fail", err)
	}
	metrics.IncCapturesFailed()
	if !job.SubmittedAt.IsZero() {
		metrics.ObserveCaptureDurationMs(float64(p.now().Sub(job.SubmittedAt).Milliseconds()))
	}
	fields := p.fields(ctx, job)
	fields["attempt"] = attempt
	fields["status"] = StatusFailed
	fields["status_transition"] = "PENDING->FAILED"
	fields["reason"] = reason
	telemetry.Info("capture.status", fields)
	return true
}

// stopped interprets a write error: a terminal or deleted capture ends polling, anything else is retried.
func (p *Poller) stopped(ctx context.Context, job PollJob, op string, err error) bool {
	if err == nil {
		return false
	}
	fields := p.fields(ctx, job)
	fields["op"] = op
	fields["error"] = err.Error()
	if isGone(err) {
		telemetry.Info("capture.poll.inactive", fields)
		return true
	}
	telemetry.Error("capture.poll.persist_error", fields)
	return false
}

func isGone(err error) bool {
	return errors.Is(err, ErrNotActive) || errors.Is(err, ErrNotFound)
}

func (p *Poller) fields(ctx context.Context, job PollJob) map[string]any {
	fields := map[string]any{
		"capture_id":            job.CaptureID,
		"measurement_id":        job.MeasurementID,
		"side":                  string(job.Side),
		"estimation_request_id": job.RequestID,
	}
	if id := requestIDFromContext(ctx); id != "" {
		fields["request_id"] = id
	} else if job.TraceID != "" {
		fields["request_id"] = job.TraceID
	}
	return fields
}

func (p *Poller) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return DefaultPollInterval
}

func (p *Poller) maxAttempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate bounds msg for last_error on a rune boundary. Postgres text rejects
// invalid UTF-8 and NUL, and estimator error bodies can carry either.
func truncate(msg string) string {
	msg = strings.ReplaceAll(strings.ToValidUTF8(msg, ""), "\x00", "")
	if len(msg) <= maxLastErrorLen {
		return msg
	}
	cut := maxLastErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
