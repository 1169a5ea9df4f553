package measurements

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"breva-backend/internal/analyses"
	"breva-backend/internal/shared/storage/db"
)

type PGRepo struct {
	DB *sql.DB
}

const measurementColumns = `id, user_id, name, note, source, created_at, updated_at`

var orderBy = map[Sort]string{
	SortNewest: "created_at DESC, id",
	SortOldest: "created_at ASC, id",
	SortName:   "lower(name) ASC, created_at DESC",
}

func (r *PGRepo) Create(ctx context.Context, m Measurement, initial *analyses.Patch) error {
	return db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		const query = `
INSERT INTO measurements (id, user_id, name, note, source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, now(), now())`
		if _, err := tx.ExecContext(ctx, query, m.ID, m.UserID, m.Name, nullableNote(m.Note), string(m.Source)); err != nil {
			return err
		}
		if initial == nil {
			return nil
		}
		_, err := analyses.UpsertWith(ctx, tx, *initial)
		return err
	})
}

func (r *PGRepo) Get(ctx context.Context, measurementID, userID string) (Measurement, error) {
	query := `SELECT ` + measurementColumns + ` FROM measurements WHERE id = $1 AND user_id = $2`
	return scanMeasurement(r.DB.QueryRowContext(ctx, query, measurementID, userID))
}

func (r *PGRepo) List(ctx context.Context, filter ListFilter) ([]Measurement, int, error) {
	var userID, pattern, source any
	if filter.UserID != "" {
		userID = filter.UserID
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		pattern = "%" + s + "%"
	}
	if filter.Source != "" {
		source = string(filter.Source)
	}

	const where = `
WHERE ($1::text IS NULL OR user_id = $1)
  AND ($2::text IS NULL OR name ILIKE $2 OR note ILIKE $2)
  AND ($3::text IS NULL OR source = $3)`

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM measurements`+where, userID, pattern, source).Scan(&total); err != nil {
		return nil, 0, err
	}

	order, ok := orderBy[filter.Sort]
	if !ok {
		order = orderBy[SortNewest]
	}
	query := `SELECT ` + measurementColumns + ` FROM measurements` + where + `
ORDER BY ` + order + `
LIMIT $4 OFFSET $5`
	rows, err := r.DB.QueryContext(ctx, query, userID, pattern, source, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Measurement{}
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *PGRepo) Update(ctx context.Context, measurementID, userID string, upd Update) (Measurement, error) {
	var name, note any
	setNote := false
	if upd.Name != nil {
		name = *upd.Name
	}
	if upd.Note != nil {
		setNote = true
		if *upd.Note != "" {
			note = *upd.Note
		}
	}
	query := `
UPDATE measurements SET
  name = COALESCE($3, name),
  note = CASE WHEN $4 THEN $5 ELSE note END,
  updated_at = now()
WHERE id = $1 AND user_id = $2
RETURNING ` + measurementColumns
	return scanMeasurement(r.DB.QueryRowContext(ctx, query, measurementID, userID, name, setNote, note))
}

// Delete relies on ON DELETE CASCADE for analyses and captures.
func (r *PGRepo) Delete(ctx context.Context, measurementID, userID string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM measurements WHERE id = $1 AND user_id = $2`, measurementID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurement(row rowScanner) (Measurement, error) {
	var m Measurement
	var note sql.NullString
	var source string
	if err := row.Scan(&m.ID, &m.UserID, &m.Name, &note, &source, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Measurement{}, ErrNotFound
		}
		return Measurement{}, err
	}
	if note.Valid {
		n := note.String
		m.Note = &n
	}
	m.Source = analyses.Source(source)
	return m, nil
}

func nullableNote(note *string) any {
	if note == nil || *note == "" {
		return nil
	}
	return *note
}
