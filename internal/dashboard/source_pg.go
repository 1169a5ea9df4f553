package dashboard

import (
	"context"
	"database/sql"
	"errors"

	"breva-backend/internal/analyses"
	"breva-backend/internal/measurements"
)

type PGSource struct {
	DB *sql.DB
}

func NewPGSource(db *sql.DB) *PGSource {
	return &PGSource{DB: db}
}

func (s *PGSource) Stats(ctx context.Context, userID string) (Stats, error) {
	stats := newStats()
	if err := s.measurementCounts(ctx, userID, &stats); err != nil {
		return Stats{}, err
	}
	if err := s.captureCounts(ctx, userID, &stats); err != nil {
		return Stats{}, err
	}
	if err := s.averages(ctx, userID, &stats); err != nil {
		return Stats{}, err
	}
	latest, err := s.latest(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	stats.LatestMeasurement = latest
	return stats, nil
}

func (s *PGSource) measurementCounts(ctx context.Context, userID string, stats *Stats) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT source, COUNT(*)
FROM measurements
WHERE ($1 = '' OR user_id = $1)
GROUP BY source`, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return err
		}
		stats.countMeasurement(analyses.Source(source), n)
	}
	return rows.Err()
}

func (s *PGSource) captureCounts(ctx context.Context, userID string, stats *Stats) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.status, COUNT(*)
FROM lidar_captures c
JOIN measurements m ON m.id = c.measurement_id
WHERE ($1 = '' OR m.user_id = $1)
GROUP BY c.status`, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return err
		}
		stats.countCaptures(status, n)
	}
	return rows.Err()
}

func (s *PGSource) averages(ctx context.Context, userID string, stats *Stats) error {
	rows, err := s.DB.QueryContext(ctx, `
SELECT a.source, AVG(a.left_volume_ml), AVG(a.right_volume_ml)
FROM breast_analyses a
JOIN measurements m ON m.id = a.measurement_id
WHERE ($1 = '' OR m.user_id = $1)
GROUP BY a.source`, userID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var left, right sql.NullFloat64
		if err := rows.Scan(&source, &left, &right); err != nil {
			return err
		}
		var avg Averages
		if left.Valid {
			avg.LeftVolumeMl = round1(left.Float64)
		}
		if right.Valid {
			avg.RightVolumeMl = round1(right.Float64)
		}
		stats.AverageVolumes[analyses.Source(source)] = avg
	}
	return rows.Err()
}

func (s *PGSource) latest(ctx context.Context, userID string) (*measurements.Measurement, error) {
	var m measurements.Measurement
	var note sql.NullString
	var source string
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, name, note, source, created_at, updated_at
FROM measurements
WHERE ($1 = '' OR user_id = $1)
ORDER BY created_at DESC, id DESC
LIMIT 1`, userID).Scan(&m.ID, &m.UserID, &m.Name, &note, &source, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if note.Valid {
		n := note.String
		m.Note = &n
	}
	m.Source = analyses.Source(source)
	return &m, nil
}

var _ StatsSource = (*PGSource)(nil)
