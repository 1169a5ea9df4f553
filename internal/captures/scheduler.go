package captures

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"breva-backend/internal/analyses"
	"breva-backend/internal/queue"
)

// Scheduler hands a capture's polling obligation to something that will tick it.
type Scheduler interface {
	Schedule(ctx context.Context, job PollJob) error
}

// InProcessScheduler runs one poller goroutine per capture in this process.
type InProcessScheduler struct {
	Poller *Poller
	// Base bounds every poller; cancelling it stops them and leaves the rows for the sweeper.
	Base context.Context

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewInProcessScheduler constructs an InProcessScheduler.
func NewInProcessScheduler(base context.Context, poller *Poller) *InProcessScheduler {
	return &InProcessScheduler{Poller: poller, Base: base, running: make(map[string]struct{})}
}

// Schedule starts a poller unless one is already running for the capture.
func (s *InProcessScheduler) Schedule(ctx context.Context, job PollJob) error {
	if s.Poller == nil {
		return errors.New("poller not configured")
	}
	if strings.TrimSpace(job.CaptureID) == "" {
		return errors.New("capture id is required")
	}
	s.mu.Lock()
	if s.running == nil {
		s.running = make(map[string]struct{})
	}
	if _, ok := s.running[job.CaptureID]; ok {
		s.mu.Unlock()
		return nil
	}
	s.running[job.CaptureID] = struct{}{}
	s.mu.Unlock()

	if job.TraceID == "" {
		job.TraceID = requestIDFromContext(ctx)
	}
	pollCtx := detachWithRequestID(s.Base, ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.CaptureID)
		s.Poller.Run(pollCtx, job)
	}()
	return nil
}

// Running reports whether a poller for captureID is live in this process.
func (s *InProcessScheduler) Running(captureID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[captureID]
	return ok
}

// Wait blocks until every started poller has returned.
func (s *InProcessScheduler) Wait() {
	s.wg.Wait()
}

func (s *InProcessScheduler) release(captureID string) {
	s.mu.Lock()
	delete(s.running, captureID)
	s.mu.Unlock()
}

// QueueScheduler publishes each tick as a delayed queue message for the worker.
type QueueScheduler struct {
	Client queue.Client
	Delay  time.Duration
	Now    func() time.Time
}

func (s *QueueScheduler) Schedule(ctx context.Context, job PollJob) error {
	if s.Client == nil {
		return errors.New("queue client not configured")
	}
	if job.TraceID == "" {
		job.TraceID = requestIDFromContext(ctx)
	}
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	delay := s.Delay
	if delay <= 0 {
		delay = DefaultPollInterval
	}
	if err := s.Client.Send(ctx, MessageFor(job, now), delay); err != nil {
		return fmt.Errorf("schedule capture %s: %w", job.CaptureID, err)
	}
	return nil
}

// MessageFor encodes job as a queue message.
func MessageFor(job PollJob, enqueuedAt time.Time) queue.Message {
	msg := queue.Message{
		CaptureID:           job.CaptureID,
		EstimationRequestID: job.RequestID,
		MeasurementID:       job.MeasurementID,
		Side:                string(job.Side),
		Attempts:            job.Attempts,
		TraceID:             job.TraceID,
		EnqueuedAt:          enqueuedAt.UTC().Format(time.RFC3339),
		Version:             queue.CurrentVersion,
	}
	if !job.SubmittedAt.IsZero() {
		msg.SubmittedAt = job.SubmittedAt.UTC().Format(time.RFC3339Nano)
	}
	return msg
}

// JobFromMessage decodes a queue message back into a poll job.
func JobFromMessage(msg queue.Message) (PollJob, error) {
	if strings.TrimSpace(msg.CaptureID) == "" {
		return PollJob{}, errors.New("missing capture id")
	}
	if msg.EstimationRequestID <= 0 {
		return PollJob{}, errors.New("missing estimation request id")
	}
	side, err := analyses.ParseSide(msg.Side)
	if err != nil {
		return PollJob{}, err
	}
	job := PollJob{
		CaptureID:     msg.CaptureID,
		RequestID:     msg.EstimationRequestID,
		MeasurementID: msg.MeasurementID,
		Side:          side,
		Attempts:      msg.Attempts,
		TraceID:       msg.TraceID,
	}
	if msg.SubmittedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, msg.SubmittedAt); err == nil {
			job.SubmittedAt = ts
		}
	}
	return job, nil
}

var (
	_ Scheduler = (*InProcessScheduler)(nil)
	_ Scheduler = (*QueueScheduler)(nil)
)
