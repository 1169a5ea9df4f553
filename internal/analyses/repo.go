package analyses

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("analysis not found")
	ErrInvalidPatch = errors.New("invalid analysis patch")
)

// Repo defines persistence operations for analyses.
type Repo interface {
	// Upsert creates the (measurement, source) row or updates only the fields the patch carries.
	Upsert(ctx context.Context, patch Patch) (Analysis, error)
	Get(ctx context.Context, measurementID string, source Source) (Analysis, error)
	ListByMeasurement(ctx context.Context, measurementID string) ([]Analysis, error)
	DeleteByMeasurement(ctx context.Context, measurementID string) error
}
