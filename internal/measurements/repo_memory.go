package measurements

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"breva-backend/internal/analyses"
)

type MemoryRepo struct {
	mu       sync.RWMutex
	rows     map[string]Measurement
	analyses analyses.Repo
}

// NewMemoryRepo writes initial analyses through analysisRepo.
func NewMemoryRepo(analysisRepo analyses.Repo) *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Measurement), analyses: analysisRepo}
}

func (r *MemoryRepo) Create(ctx context.Context, m Measurement, initial *analyses.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if initial != nil {
		if err := initial.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	r.rows[m.ID] = m
	if initial != nil && r.analyses != nil {
		if _, err := r.analyses.Upsert(ctx, *initial); err != nil {
			delete(r.rows, m.ID)
			return err
		}
	}
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, measurementID, userID string) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.rows[measurementID]
	if !ok || m.UserID != userID {
		return Measurement{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) List(ctx context.Context, filter ListFilter) ([]Measurement, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]Measurement, 0)
	for _, m := range r.rows {
		if filter.UserID != "" && m.UserID != filter.UserID {
			continue
		}
		if filter.Source != "" && m.Source != filter.Source {
			continue
		}
		if search != "" && !matchesSearch(m, search) {
			continue
		}
		matched = append(matched, m)
	}
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		switch filter.Sort {
		case SortOldest:
			return a.CreatedAt.Before(b.CreatedAt)
		case SortName:
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := total
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return matched[start:end], total, nil
}

func matchesSearch(m Measurement, search string) bool {
	if strings.Contains(strings.ToLower(m.Name), search) {
		return true
	}
	return m.Note != nil && strings.Contains(strings.ToLower(*m.Note), search)
}

func (r *MemoryRepo) Update(ctx context.Context, measurementID, userID string, upd Update) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[measurementID]
	if !ok || m.UserID != userID {
		return Measurement{}, ErrNotFound
	}
	if upd.Name != nil {
		m.Name = *upd.Name
	}
	if upd.Note != nil {
		if *upd.Note == "" {
			m.Note = nil
		} else {
			note := *upd.Note
			m.Note = &note
		}
	}
	m.UpdatedAt = time.Now().UTC()
	r.rows[measurementID] = m
	return m, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, measurementID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[measurementID]
	if !ok || m.UserID != userID {
		return ErrNotFound
	}
	delete(r.rows, measurementID)
	return nil
}

// All returns a snapshot of every measurement.
func (r *MemoryRepo) All() []Measurement {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Measurement, 0, len(r.rows))
	for _, m := range r.rows {
		out = append(out, m)
	}
	return out
}
