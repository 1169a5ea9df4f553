package measurements

import (
	"time"

	"breva-backend/internal/analyses"
)

// Measurement is one analysis session owned by a single user.
type Measurement struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Note      *string         `json:"note"`
	Source    analyses.Source `json:"source"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Detail is a measurement with its AI and manual analyses attached.
type Detail struct {
	Measurement
	AIAnalysis     *analyses.Analysis `json:"aiAnalysis"`
	ManualAnalysis *analyses.Analysis `json:"manualAnalysis"`
}

// Sort orders list results.
type Sort string

const (
	SortNewest Sort = "newest"
	SortOldest Sort = "oldest"
	SortName   Sort = "name"
)

// ParseSort falls back to newest for unknown values.
func ParseSort(raw string) Sort {
	switch Sort(raw) {
	case SortOldest, SortName:
		return Sort(raw)
	}
	return SortNewest
}

// ListFilter selects a page of measurements. An empty UserID lists across all users.
type ListFilter struct {
	UserID string
	Search string
	Source analyses.Source
	Sort   Sort
	Offset int
	Limit  int
}

// Update carries the editable fields; nil means unchanged.
type Update struct {
	Name *string
	Note *string
}
