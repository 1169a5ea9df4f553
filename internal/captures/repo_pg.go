package captures

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"breva-backend/internal/analyses"
	"breva-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const captureColumns = `id, measurement_id, side, request_id, status, estimated_volume, metadata, archive_key, poll_attempts, last_error, next_poll_at, created_at, updated_at`

const activeGuard = `status NOT IN ('COMPLETED', 'FAILED')`

func (r *PGRepo) Insert(ctx context.Context, c Capture) ([]string, error) {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal capture metadata: %w", err)
	}
	status := c.Status
	if status == "" {
		status = StatusPending
	}

	var superseded []string
	err = db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
UPDATE lidar_captures
SET status = 'FAILED', last_error = 'superseded', next_poll_at = NULL, updated_at = now()
WHERE measurement_id = $1 AND side = $2 AND `+activeGuard+`
RETURNING id`, c.MeasurementID, string(c.Side))
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			superseded = append(superseded, id)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO lidar_captures (id, measurement_id, side, request_id, status, metadata, archive_key, poll_attempts, next_poll_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, now(), now())`,
			c.ID,
			c.MeasurementID,
			string(c.Side),
			c.RequestID,
			status,
			metadata,
			nullableString(c.ArchiveKey),
			nullableTime(c.NextPollAt),
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM lidar_captures WHERE id = $1`
	return scanCapture(r.DB.QueryRowContext(ctx, query, id))
}

func (r *PGRepo) Latest(ctx context.Context, measurementID string, side analyses.Side) (Capture, error) {
	query := `SELECT ` + captureColumns + ` FROM lidar_captures
WHERE measurement_id = $1 AND side = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`
	return scanCapture(r.DB.QueryRowContext(ctx, query, measurementID, string(side)))
}

func (r *PGRepo) RecordTick(ctx context.Context, id string, tick Tick) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE lidar_captures
SET status = COALESCE($2, status),
    estimated_volume = COALESCE($3, estimated_volume),
    poll_attempts = $4,
    last_error = $5,
    next_poll_at = $6,
    updated_at = now()
WHERE id = $1 AND `+activeGuard+` AND poll_attempts < $4`,
		id,
		nullableString(tick.Status),
		nullableFloat(tick.EstimatedVolume),
		tick.Attempts,
		nullableString(tick.LastError),
		nullableTime(tick.NextPollAt),
	)
	if err != nil {
		return err
	}
	return requireActive(res)
}

func (r *PGRepo) Complete(ctx context.Context, id string, volume float64, attempts int) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var measurementID, side string
		err := tx.QueryRowContext(ctx, `
UPDATE lidar_captures
SET status = 'COMPLETED', estimated_volume = $2, poll_attempts = $3, last_error = NULL, next_poll_at = NULL, updated_at = now()
WHERE id = $1 AND `+activeGuard+` AND poll_attempts < $3
RETURNING measurement_id, side`, id, volume, attempts).Scan(&measurementID, &side)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotActive
			}
			return err
		}
		patch := analyses.SidePatch(measurementID, analyses.SourceAI, analyses.Side(side), volume, analyses.MockConfidence)
		_, err = analyses.UpsertWith(ctx, tx, patch)
		return err
	})
}

func (r *PGRepo) Fail(ctx context.Context, id string, attempts int, reason string) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE lidar_captures
SET status = 'FAILED', poll_attempts = $2, last_error = $3, next_poll_at = NULL, updated_at = now()
WHERE id = $1 AND `+activeGuard+` AND poll_attempts <= $2`, id, attempts, nullableString(reason))
	if err != nil {
		return err
	}
	return requireActive(res)
}

func (r *PGRepo) ClaimStale(ctx context.Context, staleBefore, leaseUntil time.Time, limit int) ([]Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `
UPDATE lidar_captures
SET next_poll_at = $2, updated_at = now()
WHERE id IN (
  SELECT id FROM lidar_captures
  WHERE `+activeGuard+` AND (next_poll_at IS NULL OR next_poll_at < $1)
  ORDER BY created_at
  LIMIT $3
  FOR UPDATE SKIP LOCKED
)
RETURNING `+captureColumns, staleBefore, leaseUntil, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Capture{}
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func requireActive(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotActive
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCapture(row rowScanner) (Capture, error) {
	var c Capture
	var side string
	var volume sql.NullFloat64
	var metadata []byte
	var archiveKey, lastError sql.NullString
	var nextPollAt sql.NullTime
	err := row.Scan(
		&c.ID,
		&c.MeasurementID,
		&side,
		&c.RequestID,
		&c.Status,
		&volume,
		&metadata,
		&archiveKey,
		&c.PollAttempts,
		&lastError,
		&nextPollAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Capture{}, ErrNotFound
		}
		return Capture{}, err
	}
	c.Side = analyses.Side(side)
	if volume.Valid {
		v := volume.Float64
		c.EstimatedVolume = &v
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return Capture{}, fmt.Errorf("decode capture metadata: %w", err)
		}
	}
	c.ArchiveKey = archiveKey.String
	c.LastError = lastError.String
	if nextPollAt.Valid {
		t := nextPollAt.Time
		c.NextPollAt = &t
	}
	return c, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

var _ Repo = (*PGRepo)(nil)
