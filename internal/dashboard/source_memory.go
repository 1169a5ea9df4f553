package dashboard

import (
	"context"

	"breva-backend/internal/analyses"
	"breva-backend/internal/captures"
	"breva-backend/internal/measurements"
)

type measurementSnapshot interface {
	All() []measurements.Measurement
}

type analysisSnapshot interface {
	All() []analyses.Analysis
}

type captureSnapshot interface {
	All() []captures.Capture
}

// MemorySource aggregates over the in-memory repos' snapshots.
type MemorySource struct {
	Measurements measurementSnapshot
	Analyses     analysisSnapshot
	Captures     captureSnapshot
}

func NewMemorySource(m measurementSnapshot, a analysisSnapshot, c captureSnapshot) *MemorySource {
	return &MemorySource{Measurements: m, Analyses: a, Captures: c}
}

func (s *MemorySource) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	stats := newStats()
	owned := make(map[string]bool)
	for _, m := range s.Measurements.All() {
		if userID != "" && m.UserID != userID {
			continue
		}
		owned[m.ID] = true
		stats.countMeasurement(m.Source, 1)
		if stats.LatestMeasurement == nil || newer(m, *stats.LatestMeasurement) {
			latest := m
			stats.LatestMeasurement = &latest
		}
	}

	if s.Captures != nil {
		for _, c := range s.Captures.All() {
			if owned[c.MeasurementID] {
				stats.countCaptures(c.Status, 1)
			}
		}
	}

	if s.Analyses != nil {
		type sums struct {
			left, right   float64
			nLeft, nRight int
		}
		bySource := make(map[analyses.Source]*sums)
		for _, a := range s.Analyses.All() {
			if !owned[a.MeasurementID] {
				continue
			}
			acc := bySource[a.Source]
			if acc == nil {
				acc = &sums{}
				bySource[a.Source] = acc
			}
			if a.LeftVolumeMl != nil {
				acc.left += *a.LeftVolumeMl
				acc.nLeft++
			}
			if a.RightVolumeMl != nil {
				acc.right += *a.RightVolumeMl
				acc.nRight++
			}
		}
		for source, acc := range bySource {
			var avg Averages
			if acc.nLeft > 0 {
				avg.LeftVolumeMl = round1(acc.left / float64(acc.nLeft))
			}
			if acc.nRight > 0 {
				avg.RightVolumeMl = round1(acc.right / float64(acc.nRight))
			}
			stats.AverageVolumes[source] = avg
		}
	}
	return stats, nil
}

func newer(a, b measurements.Measurement) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

var _ StatsSource = (*MemorySource)(nil)
