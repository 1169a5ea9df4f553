package captures

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"breva-backend/internal/analyses"
	"breva-backend/internal/measurements"
	"breva-backend/internal/shared/metrics"
	"breva-backend/internal/shared/storage/object"
	"breva-backend/internal/shared/telemetry"
)

// Enqueuer submits a capture payload to the estimation service.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any) (int64, error)
}

// MeasurementOwner resolves a measurement only for its owner.
type MeasurementOwner interface {
	Owned(ctx context.Context, measurementID, userID string) (measurements.Measurement, error)
}

// Service implements capture intake, dispatch and status reads.
type Service struct {
	Repo         Repo
	Measurements MeasurementOwner
	Estimator    Enqueuer
	Scheduler    Scheduler
	// Archive receives a copy of every accepted payload when set.
	Archive      object.Store
	PollInterval time.Duration
	Now          func() time.Time
}

// Submit validates p, dispatches it upstream, persists a PENDING capture and schedules polling.
// Nothing is persisted when the estimation service rejects the payload.
func (s *Service) Submit(ctx context.Context, userID string, p Payload) (SubmitResult, error) {
	side, err := p.Validate()
	if err != nil {
		return SubmitResult{}, err
	}
	if _, err := s.Measurements.Owned(ctx, p.MeasurementID, userID); err != nil {
		if errors.Is(err, measurements.ErrNotFound) {
			return SubmitResult{}, ErrNotFound
		}
		return SubmitResult{}, err
	}

	p.Side = side.Lower()
	requestID, err := s.Estimator.Enqueue(ctx, p)
	if err != nil {
		metrics.IncCaptureDispatchErrors()
		telemetry.Warn("capture.dispatch.error", map[string]any{
			"request_id":     requestIDFromContext(ctx),
			"user_id":        userID,
			"measurement_id": p.MeasurementID,
			"side":           string(side),
			"error":          err.Error(),
		})
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	now := s.now()
	captureID := uuid.NewString()
	archiveKey := s.archive(ctx, p, captureID)
	nextPoll := now.Add(s.pollInterval())
	capture := Capture{
		ID:            captureID,
		MeasurementID: p.MeasurementID,
		Side:          side,
		RequestID:     requestID,
		Status:        StatusPending,
		Metadata:      p.Snapshot(),
		ArchiveKey:    archiveKey,
		NextPollAt:    &nextPoll,
		CreatedAt:     now,
	}
	superseded, err := s.Repo.Insert(ctx, capture)
	if err != nil {
		s.dropArchive(ctx, archiveKey)
		return SubmitResult{}, fmt.Errorf("persist capture: %w", err)
	}

	for _, id := range superseded {
		telemetry.Info("capture.status", map[string]any{
			"request_id":        requestIDFromContext(ctx),
			"capture_id":        id,
			"measurement_id":    p.MeasurementID,
			"side":              string(side),
			"status":            StatusFailed,
			"status_transition": "PENDING->FAILED",
			"reason":            "superseded",
		})
	}
	metrics.IncCapturesSubmitted()
	telemetry.Info("capture.status", map[string]any{
		"request_id":            requestIDFromContext(ctx),
		"user_id":               userID,
		"capture_id":            captureID,
		"measurement_id":        p.MeasurementID,
		"side":                  string(side),
		"estimation_request_id": requestID,
		"status":                StatusPending,
		"status_transition":     "->PENDING",
	})

	if s.Scheduler != nil {
		job := JobFor(capture)
		job.TraceID = requestIDFromContext(ctx)
		if err := s.Scheduler.Schedule(ctx, job); err != nil {
			// The sweeper picks the row up once its lease lapses.
			telemetry.Error("capture.schedule.error", map[string]any{
				"request_id": requestIDFromContext(ctx),
				"capture_id": captureID,
				"error":      err.Error(),
			})
		}
	}

	return SubmitResult{
		Success:       true,
		Message:       "Capture submitted for processing",
		CaptureID:     captureID,
		RequestID:     requestID,
		Side:          side.Lower(),
		MeasurementID: p.MeasurementID,
		Timestamp:     now,
	}, nil
}

// Status returns the latest capture for the pair if userID owns the measurement.
func (s *Service) Status(ctx context.Context, userID, measurementID string, side analyses.Side) (Capture, error) {
	if _, err := s.Measurements.Owned(ctx, measurementID, userID); err != nil {
		if errors.Is(err, measurements.ErrNotFound) {
			return Capture{}, ErrNotFound
		}
		return Capture{}, err
	}
	return s.Repo.Latest(ctx, measurementID, side)
}

// OpenArchive streams the payload archived for captureID. Callers close the reader.
func (s *Service) OpenArchive(ctx context.Context, captureID string) (io.ReadCloser, Capture, error) {
	if _, err := uuid.Parse(captureID); err != nil {
		return nil, Capture{}, ErrNotFound
	}
	c, err := s.Repo.Get(ctx, captureID)
	if err != nil {
		return nil, Capture{}, err
	}
	if s.Archive == nil || c.ArchiveKey == "" {
		return nil, c, ErrNoArchive
	}
	rc, err := s.Archive.Open(ctx, c.ArchiveKey)
	if errors.Is(err, object.ErrNotFound) {
		return nil, c, ErrNoArchive
	}
	if err != nil {
		return nil, c, fmt.Errorf("open archive %s: %w", c.ArchiveKey, err)
	}
	return rc, c, nil
}

func (s *Service) archive(ctx context.Context, p Payload, captureID string) string {
	if s.Archive == nil {
		return ""
	}
	key := object.CaptureArchiveKey(p.MeasurementID, captureID)
	size, err := object.PutJSON(ctx, s.Archive, key, p)
	if err != nil {
		telemetry.Warn("capture.archive.error", map[string]any{
			"request_id": requestIDFromContext(ctx),
			"capture_id": captureID,
			"error":      err.Error(),
		})
		return ""
	}
	telemetry.Info("capture.archive.stored", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"capture_id": captureID,
		"key":        key,
		"size_bytes": size,
	})
	return key
}

func (s *Service) dropArchive(ctx context.Context, key string) {
	if s.Archive == nil || key == "" {
		return
	}
	if err := s.Archive.Delete(ctx, key); err != nil {
		telemetry.Warn("capture.archive.delete_error", map[string]any{"key": key, "error": err.Error()})
	}
}

func (s *Service) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return DefaultPollInterval
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
