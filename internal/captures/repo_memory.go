package captures

import (
	"context"
	"sort"
	"sync"
	"time"

	"breva-backend/internal/analyses"
)

// MemoryRepo stores captures in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	rows     map[string]Capture
	analyses analyses.Repo
}

// NewMemoryRepo writes completed volumes through analysisRepo.
func NewMemoryRepo(analysisRepo analyses.Repo) *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Capture), analyses: analysisRepo}
}

func (r *MemoryRepo) Insert(ctx context.Context, c Capture) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var superseded []string
	for id, row := range r.rows {
		if row.MeasurementID == c.MeasurementID && row.Side == c.Side && !Terminal(row.Status) {
			row.Status = StatusFailed
			row.LastError = "superseded"
			row.NextPollAt = nil
			row.UpdatedAt = now
			r.rows[id] = row
			superseded = append(superseded, id)
		}
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	r.rows[c.ID] = c
	sort.Strings(superseded)
	return superseded, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return Capture{}, ErrNotFound
	}
	return row, nil
}

func (r *MemoryRepo) Latest(ctx context.Context, measurementID string, side analyses.Side) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest Capture
	found := false
	for _, row := range r.rows {
		if row.MeasurementID != measurementID || row.Side != side {
			continue
		}
		if !found || newerCapture(row, latest) {
			latest = row
			found = true
		}
	}
	if !found {
		return Capture{}, ErrNotFound
	}
	return latest, nil
}

func (r *MemoryRepo) RecordTick(ctx context.Context, id string, tick Tick) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.activeLocked(id)
	if err != nil {
		return err
	}
	if row.PollAttempts >= tick.Attempts {
		return ErrNotActive
	}
	if tick.Status != "" {
		row.Status = tick.Status
	}
	if tick.EstimatedVolume != nil {
		v := *tick.EstimatedVolume
		row.EstimatedVolume = &v
	}
	row.PollAttempts = tick.Attempts
	row.LastError = tick.LastError
	row.NextPollAt = tick.NextPollAt
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return nil
}

func (r *MemoryRepo) Complete(ctx context.Context, id string, volume float64, attempts int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.activeLocked(id)
	if err != nil {
		return err
	}
	if row.PollAttempts >= attempts {
		return ErrNotActive
	}
	if r.analyses != nil {
		patch := analyses.SidePatch(row.MeasurementID, analyses.SourceAI, row.Side, volume, analyses.MockConfidence)
		if _, err := r.analyses.Upsert(ctx, patch); err != nil {
			return err
		}
	}
	v := volume
	row.Status = StatusCompleted
	row.EstimatedVolume = &v
	row.PollAttempts = attempts
	row.LastError = ""
	row.NextPollAt = nil
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return nil
}

func (r *MemoryRepo) Fail(ctx context.Context, id string, attempts int, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	row, err := r.activeLocked(id)
	if err != nil {
		return err
	}
	if row.PollAttempts > attempts {
		return ErrNotActive
	}
	row.Status = StatusFailed
	row.PollAttempts = attempts
	row.LastError = reason
	row.NextPollAt = nil
	row.UpdatedAt = time.Now().UTC()
	r.rows[id] = row
	return nil
}

func (r *MemoryRepo) ClaimStale(ctx context.Context, staleBefore, leaseUntil time.Time, limit int) ([]Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []Capture{}
	for _, row := range r.rows {
		if Terminal(row.Status) {
			continue
		}
		if row.NextPollAt == nil || row.NextPollAt.Before(staleBefore) {
			due = append(due, row)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		lease := leaseUntil
		due[i].NextPollAt = &lease
		due[i].UpdatedAt = time.Now().UTC()
		r.rows[due[i].ID] = due[i]
	}
	return due, nil
}

// DeleteByMeasurement drops every capture of a deleted measurement.
func (r *MemoryRepo) DeleteByMeasurement(ctx context.Context, measurementID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, row := range r.rows {
		if row.MeasurementID == measurementID {
			delete(r.rows, id)
		}
	}
	return nil
}

// All returns a snapshot of every stored capture.
func (r *MemoryRepo) All() []Capture {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capture, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}

// newerCapture orders like the Postgres repo: created_at DESC, id DESC.
func newerCapture(a, b Capture) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r *MemoryRepo) activeLocked(id string) (Capture, error) {
	row, ok := r.rows[id]
	if !ok {
		return Capture{}, ErrNotFound
	}
	if Terminal(row.Status) {
		return Capture{}, ErrNotActive
	}
	return row, nil
}

var _ Repo = (*MemoryRepo)(nil)
