package captures

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"breva-backend/internal/estimator"
)

func completed(volume float64) estimator.StatusResponse {
	return estimator.StatusResponse{Status: estimator.StatusCompleted, EstimatedVolume: fptr(volume)}
}

func TestTickCompletedCommitsLeftVolume(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{completed(350.5)}

	job := JobFor(f.capture(t, res.CaptureID))
	if done := f.poller().Tick(context.Background(), job, 1); !done {
		t.Fatalf("expected polling to stop after COMPLETED")
	}

	c := f.capture(t, res.CaptureID)
	if c.Status != StatusCompleted || c.EstimatedVolume == nil || *c.EstimatedVolume != 350.5 {
		t.Fatalf("expected COMPLETED with 350.5, got %+v", c)
	}
	a, ok := f.aiAnalysis(t, mID)
	if !ok || a.LeftVolumeMl == nil || *a.LeftVolumeMl != 350.5 {
		t.Fatalf("expected AI analysis leftVolumeMl=350.5, got %+v", a)
	}
	if a.LeftConfidence == nil || *a.LeftConfidence < 0 || *a.LeftConfidence > 1 {
		t.Fatalf("expected confidence in [0,1], got %v", a.LeftConfidence)
	}
	if a.RightVolumeMl != nil {
		t.Fatalf("expected right side untouched")
	}
}

func TestTickRightKeepsExistingLeft(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")

	left := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{completed(300)}
	f.poller().Tick(context.Background(), JobFor(f.capture(t, left.CaptureID)), 1)

	right := f.submit(t, "user-1", mID, "right")
	f.est.statuses = []estimator.StatusResponse{completed(412.3)}
	if done := f.poller().Tick(context.Background(), JobFor(f.capture(t, right.CaptureID)), 1); !done {
		t.Fatalf("expected right poller to stop")
	}

	a, ok := f.aiAnalysis(t, mID)
	if !ok {
		t.Fatalf("expected AI analysis row")
	}
	if a.LeftVolumeMl == nil || *a.LeftVolumeMl != 300 {
		t.Fatalf("expected left volume preserved at 300, got %v", a.LeftVolumeMl)
	}
	if a.RightVolumeMl == nil || *a.RightVolumeMl != 412.3 {
		t.Fatalf("expected right volume 412.3, got %v", a.RightVolumeMl)
	}
}

func TestCeilingForcesFailed(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	p := f.poller()
	job := JobFor(f.capture(t, res.CaptureID))

	for attempt := 1; attempt < DefaultMaxAttempts; attempt++ {
		if done := p.Tick(context.Background(), job, attempt); done {
			t.Fatalf("polling stopped early at attempt %d", attempt)
		}
		c := f.capture(t, res.CaptureID)
		if c.Status != StatusPending || c.PollAttempts != attempt {
			t.Fatalf("attempt %d: expected PENDING with attempts recorded, got %+v", attempt, c)
		}
	}
	if done := p.Tick(context.Background(), job, DefaultMaxAttempts); !done {
		t.Fatalf("expected tick %d to end polling", DefaultMaxAttempts)
	}

	c := f.capture(t, res.CaptureID)
	if c.Status != StatusFailed {
		t.Fatalf("expected FAILED after %d ticks, got %s", DefaultMaxAttempts, c.Status)
	}
	if c.PollAttempts != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, c.PollAttempts)
	}
	if f.est.calls() != DefaultMaxAttempts {
		t.Fatalf("expected %d status calls, got %d", DefaultMaxAttempts, f.est.calls())
	}
	if _, ok := f.aiAnalysis(t, mID); ok {
		t.Fatalf("expected no analysis row")
	}
}

func TestRunStopsAtCeiling(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "right")

	f.poller().Run(context.Background(), JobFor(f.capture(t, res.CaptureID)))

	if got := f.capture(t, res.CaptureID).Status; got != StatusFailed {
		t.Fatalf("expected FAILED, got %s", got)
	}
	if f.est.calls() != DefaultMaxAttempts {
		t.Fatalf("expected exactly %d ticks, got %d", DefaultMaxAttempts, f.est.calls())
	}
}

func TestTransientErrorsCountTowardCeiling(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statusErr = &estimator.HTTPError{Op: "status", StatusCode: 502, Body: "bad gateway"}
	p := f.poller()
	p.MaxAttempts = 3
	job := JobFor(f.capture(t, res.CaptureID))

	if done := p.Tick(context.Background(), job, 1); done {
		t.Fatalf("transient error must not stop polling")
	}
	c := f.capture(t, res.CaptureID)
	if c.Status != StatusPending || !strings.Contains(c.LastError, "502") {
		t.Fatalf("expected PENDING with last error recorded, got %+v", c)
	}
	if c.NextPollAt == nil || !c.NextPollAt.After(f.now) {
		t.Fatalf("expected next poll lease, got %v", c.NextPollAt)
	}

	p.Tick(context.Background(), job, 2)
	if done := p.Tick(context.Background(), job, 3); !done {
		t.Fatalf("expected ceiling to stop polling")
	}
	c = f.capture(t, res.CaptureID)
	if c.Status != StatusFailed || !strings.HasPrefix(c.LastError, "max attempts reached") {
		t.Fatalf("expected FAILED at ceiling, got %+v", c)
	}
}

func TestUpstreamFailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{{Status: estimator.StatusFailed}}

	if done := f.poller().Tick(context.Background(), JobFor(f.capture(t, res.CaptureID)), 1); !done {
		t.Fatalf("expected FAILED to stop polling")
	}
	c := f.capture(t, res.CaptureID)
	if c.Status != StatusFailed || c.EstimatedVolume != nil {
		t.Fatalf("expected FAILED without volume, got %+v", c)
	}
}

func TestCompletedWithoutVolumeKeepsPolling(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{{Status: estimator.StatusCompleted}, completed(280)}
	p := f.poller()
	job := JobFor(f.capture(t, res.CaptureID))

	if done := p.Tick(context.Background(), job, 1); done {
		t.Fatalf("COMPLETED without a volume must not end polling")
	}
	if got := f.capture(t, res.CaptureID).Status; got != StatusPending {
		t.Fatalf("expected PENDING, got %s", got)
	}
	if done := p.Tick(context.Background(), job, 2); !done {
		t.Fatalf("expected second tick to complete")
	}
	if got := f.capture(t, res.CaptureID); got.Status != StatusCompleted || got.PollAttempts != 2 {
		t.Fatalf("expected COMPLETED at attempt 2, got %+v", got)
	}
}

func TestNegativeVolumeFails(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{completed(-1)}

	f.poller().Tick(context.Background(), JobFor(f.capture(t, res.CaptureID)), 1)
	if got := f.capture(t, res.CaptureID).Status; got != StatusFailed {
		t.Fatalf("expected FAILED for negative volume, got %s", got)
	}
	if _, ok := f.aiAnalysis(t, mID); ok {
		t.Fatalf("expected no analysis for invalid volume")
	}
}

func TestTerminalCaptureIsNeverModified(t *testing.T) {
	for _, final := range []estimator.StatusResponse{completed(333), {Status: estimator.StatusFailed}} {
		t.Run(final.Status, func(t *testing.T) {
			f := newFixture(t)
			mID := f.measurement(t, "user-1")
			res := f.submit(t, "user-1", mID, "left")
			p := f.poller()
			job := JobFor(f.capture(t, res.CaptureID))
			f.est.statuses = []estimator.StatusResponse{final}
			p.Tick(context.Background(), job, 1)
			before := f.capture(t, res.CaptureID)

			for _, next := range []estimator.StatusResponse{{Status: estimator.StatusPending}, completed(999), {Status: estimator.StatusFailed}} {
				f.est.statuses = []estimator.StatusResponse{next}
				if done := p.Tick(context.Background(), job, 2); !done {
					t.Fatalf("expected tick on terminal capture to stop")
				}
			}
			f.est.statusErr = errors.New("network down")
			p.Tick(context.Background(), job, 3)

			after := f.capture(t, res.CaptureID)
			if after.Status != before.Status || after.PollAttempts != before.PollAttempts || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatalf("terminal capture changed: before %+v after %+v", before, after)
			}
			if before.EstimatedVolume != nil && *after.EstimatedVolume != *before.EstimatedVolume {
				t.Fatalf("volume changed after terminal status")
			}
		})
	}
}

type failingCompleteRepo struct {
	*MemoryRepo
	failures int
}

func (r *failingCompleteRepo) Complete(ctx context.Context, id string, volume float64, attempts int) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("connection reset")
	}
	return r.MemoryRepo.Complete(ctx, id, volume, attempts)
}

func TestFailedCommitIsRetriedNextTick(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "right")
	f.est.statuses = []estimator.StatusResponse{completed(390)}
	p := f.poller()
	p.Repo = &failingCompleteRepo{MemoryRepo: f.repo, failures: 1}
	job := JobFor(f.capture(t, res.CaptureID))

	if done := p.Tick(context.Background(), job, 1); done {
		t.Fatalf("failed commit must keep the capture active")
	}
	c := f.capture(t, res.CaptureID)
	if c.Status == StatusCompleted || !strings.Contains(c.LastError, "commit failed") {
		t.Fatalf("expected active capture with commit error, got %+v", c)
	}
	if _, ok := f.aiAnalysis(t, mID); ok {
		t.Fatalf("expected no analysis before a successful commit")
	}
	if done := p.Tick(context.Background(), job, 2); !done {
		t.Fatalf("expected retry to complete")
	}
	a, ok := f.aiAnalysis(t, mID)
	if !ok || a.RightVolumeMl == nil || *a.RightVolumeMl != 390 {
		t.Fatalf("expected committed right volume, got %+v", a)
	}
}

func TestAdvanceReschedulesUntilDone(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	f.est.statuses = []estimator.StatusResponse{{Status: estimator.StatusPending}, completed(275)}
	sched := &recordingScheduler{}
	p := f.poller()

	job := JobFor(f.capture(t, res.CaptureID))
	if err := p.Advance(context.Background(), job, sched); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(sched.jobs) != 1 || sched.jobs[0].Attempts != 1 {
		t.Fatalf("expected rescheduled job with 1 attempt, got %+v", sched.jobs)
	}
	if err := p.Advance(context.Background(), sched.jobs[0], sched); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("expected no reschedule after completion, got %d jobs", len(sched.jobs))
	}
	if got := f.capture(t, res.CaptureID); got.Status != StatusCompleted || got.PollAttempts != 2 {
		t.Fatalf("expected COMPLETED at attempt 2, got %+v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.poller().Run(ctx, JobFor(f.capture(t, res.CaptureID)))
	if f.est.calls() != 0 {
		t.Fatalf("expected no ticks after cancellation, got %d", f.est.calls())
	}
	if got := f.capture(t, res.CaptureID).Status; got != StatusPending {
		t.Fatalf("expected capture left PENDING for the sweeper, got %s", got)
	}
}

func TestDuplicateJobDeliveryKeepsOneChain(t *testing.T) {
	f := newFixture(t)
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "left")
	sched := &recordingScheduler{}
	p := f.poller()
	job := JobFor(f.capture(t, res.CaptureID))

	// The same message delivered twice.
	if err := p.Advance(context.Background(), job, sched); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := p.Advance(context.Background(), job, sched); err != nil {
		t.Fatalf("duplicate advance: %v", err)
	}
	if len(sched.jobs) != 1 {
		t.Fatalf("expected one follow-up job, got %+v", sched.jobs)
	}
	if got := f.capture(t, res.CaptureID); got.Status != StatusPending || got.PollAttempts != 1 {
		t.Fatalf("expected one recorded attempt, got %+v", got)
	}
}

func TestTickWritesAreFencedOnAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mID := f.measurement(t, "user-1")
	res := f.submit(t, "user-1", mID, "right")
	next := f.now.Add(5 * time.Second)

	if err := f.repo.RecordTick(ctx, res.CaptureID, Tick{Status: StatusPending, Attempts: 3, NextPollAt: &next}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := f.repo.RecordTick(ctx, res.CaptureID, Tick{Status: StatusPending, Attempts: 3, NextPollAt: &next}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected repeated attempt to be rejected, got %v", err)
	}
	if err := f.repo.Complete(ctx, res.CaptureID, 120, 2); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected stale complete to be rejected, got %v", err)
	}
	if err := f.repo.Fail(ctx, res.CaptureID, 2, "stale"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected stale fail to be rejected, got %v", err)
	}
	if _, ok := f.aiAnalysis(t, mID); ok {
		t.Fatalf("stale complete must not write an analysis")
	}
	if err := f.repo.Complete(ctx, res.CaptureID, 120, 4); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	msg := strings.Repeat("a", maxLastErrorLen-1) + "é tail"
	got := truncate(msg)
	if !utf8.ValidString(got) || len(got) != maxLastErrorLen-1 {
		t.Fatalf("expected cut before the split rune, got len=%d valid=%v", len(got), utf8.ValidString(got))
	}
	if got := truncate("bad \xff\x00byte"); got != "bad byte" {
		t.Fatalf("expected invalid bytes dropped, got %q", got)
	}
	if got := truncate("short"); got != "short" {
		t.Fatalf("expected short message unchanged, got %q", got)
	}
}
