package captures

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"breva-backend/internal/analyses"
	"breva-backend/internal/estimator"
	"breva-backend/internal/measurements"
)

// 1x1 PNG.
const pixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type fakeEstimator struct {
	mu          sync.Mutex
	requestID   int64
	enqueueErr  error
	enqueued    []any
	statuses    []estimator.StatusResponse
	statusErr   error
	statusCalls int
}

func (f *fakeEstimator) Enqueue(ctx context.Context, payload any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return 0, f.enqueueErr
	}
	f.enqueued = append(f.enqueued, payload)
	return f.requestID, nil
}

// Status replays statuses in order and repeats the last one.
func (f *fakeEstimator) Status(ctx context.Context, requestID int64) (estimator.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return estimator.StatusResponse{}, f.statusErr
	}
	if len(f.statuses) == 0 {
		return estimator.StatusResponse{RequestID: requestID, Status: estimator.StatusPending}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	st.RequestID = requestID
	return st, nil
}

func (f *fakeEstimator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []PollJob
	err  error
}

func (s *recordingScheduler) Schedule(ctx context.Context, job PollJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type fixture struct {
	svc          *Service
	repo         *MemoryRepo
	analyses     *analyses.MemoryRepo
	measurements *measurements.Service
	est          *fakeEstimator
	sched        *recordingScheduler
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	analysisRepo := analyses.NewMemoryRepo()
	measurementSvc := &measurements.Service{Repo: measurements.NewMemoryRepo(analysisRepo), Analyses: analysisRepo}
	repo := NewMemoryRepo(analysisRepo)
	est := &fakeEstimator{requestID: 42}
	sched := &recordingScheduler{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{repo: repo, analyses: analysisRepo, measurements: measurementSvc, est: est, sched: sched, now: now}
	f.svc = &Service{
		Repo:         repo,
		Measurements: measurementSvc,
		Estimator:    est,
		Scheduler:    sched,
		Now:          func() time.Time { return f.now },
	}
	return f
}

func (f *fixture) measurement(t *testing.T, userID string) string {
	t.Helper()
	m, err := f.measurements.Create(context.Background(), userID, measurements.CreateInput{Name: "Session"})
	if err != nil {
		t.Fatalf("create measurement: %v", err)
	}
	return m.ID
}

func (f *fixture) poller() *Poller {
	return &Poller{
		Repo:      f.repo,
		Estimator: f.est,
		Interval:  5 * time.Second,
		Now:       func() time.Time { return f.now },
		Sleep:     func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func (f *fixture) submit(t *testing.T, userID, measurementID, side string) SubmitResult {
	t.Helper()
	res, err := f.svc.Submit(context.Background(), userID, validPayload(measurementID, side))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func (f *fixture) capture(t *testing.T, id string) Capture {
	t.Helper()
	c, err := f.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	return c
}

func (f *fixture) aiAnalysis(t *testing.T, measurementID string) (analyses.Analysis, bool) {
	t.Helper()
	a, err := f.analyses.Get(context.Background(), measurementID, analyses.SourceAI)
	if errors.Is(err, analyses.ErrNotFound) {
		return analyses.Analysis{}, false
	}
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	return a, true
}

func validPayload(measurementID, side string) Payload {
	ts := 1709294400000.0
	fx, fy, cx, cy := 1445.2, 1445.2, 960.0, 720.0
	width, height := 1920, 1440
	return Payload{
		Side:          side,
		MeasurementID: measurementID,
		Background:    &BackgroundFrame{RGB: pixelPNG, Depth: pixelPNG, Timestamp: &ts},
		Object:        &ObjectFrame{RGB: "data:image/png;base64," + pixelPNG, Depth: pixelPNG, Mask: pixelPNG, Timestamp: &ts},
		CameraIntrinsics: &CameraIntrinsics{
			Fx: &fx, Fy: &fy, Cx: &cx, Cy: &cy, Width: &width, Height: &height,
		},
		Metadata: &DeviceInfo{DeviceModel: "iPhone15,3", IOSVersion: "17.4", AppVersion: "1.2.0"},
	}
}

func fptr(v float64) *float64 { return &v }
