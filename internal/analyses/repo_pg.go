package analyses

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"breva-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const analysisColumns = `id, measurement_id, source, left_volume_ml, right_volume_ml, left_confidence, right_confidence, created_at, updated_at`

// COALESCE keeps sibling fields: writing the left side never clears the right.
const upsertQuery = `
INSERT INTO breast_analyses (id, measurement_id, source, left_volume_ml, right_volume_ml, left_confidence, right_confidence, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (measurement_id, source) DO UPDATE SET
  left_volume_ml = COALESCE(EXCLUDED.left_volume_ml, breast_analyses.left_volume_ml),
  right_volume_ml = COALESCE(EXCLUDED.right_volume_ml, breast_analyses.right_volume_ml),
  left_confidence = COALESCE(EXCLUDED.left_confidence, breast_analyses.left_confidence),
  right_confidence = COALESCE(EXCLUDED.right_confidence, breast_analyses.right_confidence),
  updated_at = now()
RETURNING ` + analysisColumns

func (r *PGRepo) Upsert(ctx context.Context, patch Patch) (Analysis, error) {
	return UpsertWith(ctx, r.DB, patch)
}

// UpsertWith runs the field-scoped upsert on q, which may be a transaction.
func UpsertWith(ctx context.Context, q db.Execer, patch Patch) (Analysis, error) {
	if err := patch.Validate(); err != nil {
		return Analysis{}, err
	}
	row := q.QueryRowContext(ctx, upsertQuery,
		uuid.NewString(),
		patch.MeasurementID,
		string(patch.Source),
		nullableFloat(patch.LeftVolumeMl),
		nullableFloat(patch.RightVolumeMl),
		nullableFloat(patch.LeftConfidence),
		nullableFloat(patch.RightConfidence),
	)
	return scanAnalysis(row)
}

func (r *PGRepo) Get(ctx context.Context, measurementID string, source Source) (Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM breast_analyses WHERE measurement_id = $1 AND source = $2`
	return scanAnalysis(r.DB.QueryRowContext(ctx, query, measurementID, string(source)))
}

func (r *PGRepo) ListByMeasurement(ctx context.Context, measurementID string) ([]Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM breast_analyses WHERE measurement_id = $1 ORDER BY source`
	rows, err := r.DB.QueryContext(ctx, query, measurementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteByMeasurement is a no-op; the measurements FK cascades.
func (r *PGRepo) DeleteByMeasurement(ctx context.Context, measurementID string) error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var source string
	var left, right, leftConf, rightConf sql.NullFloat64
	err := row.Scan(&a.ID, &a.MeasurementID, &source, &left, &right, &leftConf, &rightConf, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	a.Source = Source(source)
	a.LeftVolumeMl = floatPtr(left)
	a.RightVolumeMl = floatPtr(right)
	a.LeftConfidence = floatPtr(leftConf)
	a.RightConfidence = floatPtr(rightConf)
	return a, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
