package measurements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"breva-backend/internal/analyses"
	"breva-backend/internal/shared/telemetry"
)

const (
	maxNameLength = 120
	maxNoteLength = 2000
)

type Service struct {
	Repo     Repo
	Analyses analyses.Repo
	// OnDelete runs after a measurement row is removed, for stores with no FK cascade.
	OnDelete []func(ctx context.Context, measurementID string) error
}

// CreateInput is the body of POST /measurements.
type CreateInput struct {
	Name string
	Note string
}

// ManualInput is the body of POST /measurements/manual.
type ManualInput struct {
	Name          string
	Note          string
	LeftVolumeMl  *float64
	RightVolumeMl *float64
}

func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Measurement, error) {
	m, err := newMeasurement(userID, in.Name, in.Note, analyses.SourceAI)
	if err != nil {
		return Measurement{}, err
	}
	if err := s.Repo.Create(ctx, m, nil); err != nil {
		return Measurement{}, err
	}
	return s.Repo.Get(ctx, m.ID, userID)
}

// CreateManual creates a MANUAL measurement together with its manual analysis.
func (s *Service) CreateManual(ctx context.Context, userID string, in ManualInput) (Detail, error) {
	m, err := newMeasurement(userID, in.Name, in.Note, analyses.SourceManual)
	if err != nil {
		return Detail{}, err
	}
	patch := analyses.Patch{
		MeasurementID: m.ID,
		Source:        analyses.SourceManual,
		LeftVolumeMl:  in.LeftVolumeMl,
		RightVolumeMl: in.RightVolumeMl,
	}
	if in.LeftVolumeMl == nil && in.RightVolumeMl == nil {
		return Detail{}, fmt.Errorf("%w: at least one volume is required", ErrValidation)
	}
	if err := patch.Validate(); err != nil {
		return Detail{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.Repo.Create(ctx, m, &patch); err != nil {
		return Detail{}, err
	}
	return s.Get(ctx, m.ID, userID)
}

// Owned returns the measurement if userID owns it. Missing and foreign ids both yield ErrNotFound.
func (s *Service) Owned(ctx context.Context, measurementID, userID string) (Measurement, error) {
	if strings.TrimSpace(measurementID) == "" || strings.TrimSpace(userID) == "" {
		return Measurement{}, ErrNotFound
	}
	if _, err := uuid.Parse(measurementID); err != nil {
		return Measurement{}, ErrNotFound
	}
	return s.Repo.Get(ctx, measurementID, userID)
}

func (s *Service) Get(ctx context.Context, measurementID, userID string) (Detail, error) {
	m, err := s.Owned(ctx, measurementID, userID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Measurement: m}
	rows, err := s.Analyses.ListByMeasurement(ctx, m.ID)
	if err != nil {
		return Detail{}, err
	}
	for i := range rows {
		a := rows[i]
		switch a.Source {
		case analyses.SourceAI:
			detail.AIAnalysis = &a
		case analyses.SourceManual:
			detail.ManualAnalysis = &a
		}
	}
	return detail, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Measurement, int, error) {
	if filter.Source != "" && !filter.Source.Valid() {
		return nil, 0, fmt.Errorf("%w: source must be AI or MANUAL", ErrValidation)
	}
	return s.Repo.List(ctx, filter)
}

func (s *Service) Update(ctx context.Context, measurementID, userID string, upd Update) (Measurement, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if err := validateName(name); err != nil {
			return Measurement{}, err
		}
		upd.Name = &name
	}
	if upd.Note != nil {
		note := strings.TrimSpace(*upd.Note)
		if utf8.RuneCountInString(note) > maxNoteLength {
			return Measurement{}, fmt.Errorf("%w: note is too long", ErrValidation)
		}
		upd.Note = &note
	}
	if _, err := s.Owned(ctx, measurementID, userID); err != nil {
		return Measurement{}, err
	}
	return s.Repo.Update(ctx, measurementID, userID, upd)
}

func (s *Service) Delete(ctx context.Context, measurementID, userID string) error {
	if _, err := s.Owned(ctx, measurementID, userID); err != nil {
		return err
	}
	if err := s.Repo.Delete(ctx, measurementID, userID); err != nil {
		return err
	}
	for _, hook := range s.OnDelete {
		if err := hook(ctx, measurementID); err != nil {
			telemetry.Error("measurement.delete.cascade_failed", map[string]any{
				"measurement_id": measurementID,
				"error":          err,
			})
		}
	}
	return nil
}

// SetManualAnalysis field-scoped upserts the manual analysis row.
func (s *Service) SetManualAnalysis(ctx context.Context, measurementID, userID string, left, right *float64) (analyses.Analysis, error) {
	if _, err := s.Owned(ctx, measurementID, userID); err != nil {
		return analyses.Analysis{}, err
	}
	patch := analyses.Patch{
		MeasurementID: measurementID,
		Source:        analyses.SourceManual,
		LeftVolumeMl:  left,
		RightVolumeMl: right,
	}
	a, err := s.Analyses.Upsert(ctx, patch)
	if errors.Is(err, analyses.ErrInvalidPatch) {
		return analyses.Analysis{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return a, err
}

func newMeasurement(userID, name, note string, source analyses.Source) (Measurement, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return Measurement{}, err
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return Measurement{}, fmt.Errorf("%w: note is too long", ErrValidation)
	}
	m := Measurement{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   name,
		Source: source,
	}
	if note != "" {
		m.Note = &note
	}
	return m, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name is too long", ErrValidation)
	}
	return nil
}
