package measurements

import (
	"context"
	"errors"

	"breva-backend/internal/analyses"
)

var (
	ErrNotFound   = errors.New("measurement not found")
	ErrValidation = errors.New("invalid measurement")
)

type Repo interface {
	// Create inserts m and, when initial is set, its first analysis row atomically.
	Create(ctx context.Context, m Measurement, initial *analyses.Patch) error
	// Get returns the measurement only when it belongs to userID; otherwise ErrNotFound.
	Get(ctx context.Context, measurementID, userID string) (Measurement, error)
	List(ctx context.Context, filter ListFilter) ([]Measurement, int, error)
	Update(ctx context.Context, measurementID, userID string, upd Update) (Measurement, error)
	Delete(ctx context.Context, measurementID, userID string) error
}
