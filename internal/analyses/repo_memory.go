package analyses

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryKey struct {
	measurementID string
	source        Source
}

// MemoryRepo stores analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	rows map[memoryKey]Analysis
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[memoryKey]Analysis)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, patch Patch) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	if err := patch.Validate(); err != nil {
		return Analysis{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey{patch.MeasurementID, patch.Source}
	now := time.Now().UTC()
	row, ok := r.rows[key]
	if !ok {
		row = Analysis{
			ID:            uuid.NewString(),
			MeasurementID: patch.MeasurementID,
			Source:        patch.Source,
			CreatedAt:     now,
		}
	}
	row = patch.Apply(row)
	row.UpdatedAt = now
	r.rows[key] = row
	return row, nil
}

func (r *MemoryRepo) Get(ctx context.Context, measurementID string, source Source) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[memoryKey{measurementID, source}]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return row, nil
}

func (r *MemoryRepo) ListByMeasurement(ctx context.Context, measurementID string) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Analysis{}
	for k, row := range r.rows {
		if k.measurementID == measurementID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (r *MemoryRepo) DeleteByMeasurement(ctx context.Context, measurementID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.rows {
		if k.measurementID == measurementID {
			delete(r.rows, k)
		}
	}
	return nil
}

// All returns a snapshot of every row.
func (r *MemoryRepo) All() []Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Analysis, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}
