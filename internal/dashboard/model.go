package dashboard

import (
	"math"

	"breva-backend/internal/analyses"
	"breva-backend/internal/measurements"
)

// MeasurementCounts splits measurements by the source that created them.
type MeasurementCounts struct {
	Total  int `json:"total"`
	AI     int `json:"ai"`
	Manual int `json:"manual"`
}

// CaptureCounts groups captures by status. Statuses reported upstream beyond the
// three stored ones are kept under their own key.
type CaptureCounts struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// Averages holds mean volumes in ml, nil when no row carries the side.
type Averages struct {
	LeftVolumeMl  *float64 `json:"leftVolumeMl"`
	RightVolumeMl *float64 `json:"rightVolumeMl"`
}

// Stats is the dashboard payload.
type Stats struct {
	Measurements      MeasurementCounts            `json:"measurements"`
	Captures          CaptureCounts                `json:"captures"`
	AverageVolumes    map[analyses.Source]Averages `json:"averageVolumes"`
	LatestMeasurement *measurements.Measurement    `json:"latestMeasurement"`
	Users             *int                         `json:"users,omitempty"`
}

func newStats() Stats {
	return Stats{
		Captures: CaptureCounts{ByStatus: map[string]int{}},
		AverageVolumes: map[analyses.Source]Averages{
			analyses.SourceAI:     {},
			analyses.SourceManual: {},
		},
	}
}

func (s *Stats) countMeasurement(source analyses.Source, n int) {
	s.Measurements.Total += n
	switch source {
	case analyses.SourceAI:
		s.Measurements.AI += n
	case analyses.SourceManual:
		s.Measurements.Manual += n
	}
}

func (s *Stats) countCaptures(status string, n int) {
	s.Captures.Total += n
	s.Captures.ByStatus[status] += n
}

// round1 keeps one decimal, matching how volumes are displayed.
func round1(v float64) *float64 {
	out := math.Round(v*10) / 10
	return &out
}
