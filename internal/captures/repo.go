package captures

import (
	"context"
	"time"

	"breva-backend/internal/analyses"
)

// Repo defines persistence operations for captures. Writes that change status are
// guarded so a terminal capture is never modified again; they return ErrNotActive instead.
//
// Tick writes are also fenced on the stored attempt count: RecordTick and Complete must
// move it forward and Fail must not move it back. A poll chain holding a stale count
// (a redelivered or duplicated job) gets ErrNotActive and stops, leaving one chain per capture.
type Repo interface {
	// Insert stores a new active capture. Any still-active capture for the same
	// measurement and side is failed as superseded in the same transaction; their ids are returned.
	Insert(ctx context.Context, c Capture) (superseded []string, err error)
	Get(ctx context.Context, id string) (Capture, error)
	// Latest returns the most recently created capture for the pair.
	Latest(ctx context.Context, measurementID string, side analyses.Side) (Capture, error)
	RecordTick(ctx context.Context, id string, tick Tick) error
	// Complete marks the capture COMPLETED and writes the AI analysis volume atomically.
	Complete(ctx context.Context, id string, volume float64, attempts int) error
	Fail(ctx context.Context, id string, attempts int, reason string) error
	// ClaimStale leases up to limit active captures whose lease expired before staleBefore.
	ClaimStale(ctx context.Context, staleBefore, leaseUntil time.Time, limit int) ([]Capture, error)
}
