package analyses

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Source tags which pipeline produced an analysis row.
type Source string

const (
	SourceAI     Source = "AI"
	SourceManual Source = "MANUAL"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceAI || s == SourceManual
}

// Side identifies which half of a paired measurement a value belongs to.
type Side string

const (
	SideLeft  Side = "LEFT"
	SideRight Side = "RIGHT"
)

// ParseSide accepts left/right in any case.
func ParseSide(raw string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(SideLeft):
		return SideLeft, nil
	case string(SideRight):
		return SideRight, nil
	}
	return "", fmt.Errorf("invalid side %q", raw)
}

// Lower is the wire form used by the capture API.
func (s Side) Lower() string {
	return strings.ToLower(string(s))
}

// MockConfidence is attached to every AI-estimated volume.
const MockConfidence = 0.95

// Analysis is one BreastAnalysis row. Nil fields have not been written yet.
type Analysis struct {
	ID              string    `json:"id"`
	MeasurementID   string    `json:"measurementId"`
	Source          Source    `json:"source"`
	LeftVolumeMl    *float64  `json:"leftVolumeMl"`
	RightVolumeMl   *float64  `json:"rightVolumeMl"`
	LeftConfidence  *float64  `json:"leftConfidence"`
	RightConfidence *float64  `json:"rightConfidence"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Patch is a field-scoped upsert. Only non-nil fields are written.
type Patch struct {
	MeasurementID   string
	Source          Source
	LeftVolumeMl    *float64
	RightVolumeMl   *float64
	LeftConfidence  *float64
	RightConfidence *float64
}

// SidePatch builds the patch that writes one side's volume and confidence.
func SidePatch(measurementID string, source Source, side Side, volume, confidence float64) Patch {
	p := Patch{MeasurementID: measurementID, Source: source}
	v, c := volume, confidence
	if side == SideLeft {
		p.LeftVolumeMl, p.LeftConfidence = &v, &c
	} else {
		p.RightVolumeMl, p.RightConfidence = &v, &c
	}
	return p
}

// Validate checks the patch before it reaches storage.
func (p Patch) Validate() error {
	if strings.TrimSpace(p.MeasurementID) == "" {
		return fmt.Errorf("%w: measurement id is required", ErrInvalidPatch)
	}
	if !p.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidPatch, p.Source)
	}
	if p.LeftVolumeMl == nil && p.RightVolumeMl == nil && p.LeftConfidence == nil && p.RightConfidence == nil {
		return fmt.Errorf("%w: nothing to write", ErrInvalidPatch)
	}
	for name, v := range map[string]*float64{"leftVolumeMl": p.LeftVolumeMl, "rightVolumeMl": p.RightVolumeMl} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
			return fmt.Errorf("%w: %s must be a finite number >= 0", ErrInvalidPatch, name)
		}
	}
	for name, v := range map[string]*float64{"leftConfidence": p.LeftConfidence, "rightConfidence": p.RightConfidence} {
		if v != nil && (math.IsNaN(*v) || *v < 0 || *v > 1) {
			return fmt.Errorf("%w: %s must lie in [0,1]", ErrInvalidPatch, name)
		}
	}
	return nil
}

// Apply merges p into a, leaving fields p does not carry untouched.
func (p Patch) Apply(a Analysis) Analysis {
	if p.LeftVolumeMl != nil {
		a.LeftVolumeMl = copyFloat(p.LeftVolumeMl)
	}
	if p.RightVolumeMl != nil {
		a.RightVolumeMl = copyFloat(p.RightVolumeMl)
	}
	if p.LeftConfidence != nil {
		a.LeftConfidence = copyFloat(p.LeftConfidence)
	}
	if p.RightConfidence != nil {
		a.RightConfidence = copyFloat(p.RightConfidence)
	}
	return a
}

// Volume returns the side's volume, or nil.
func (a Analysis) Volume(side Side) *float64 {
	if side == SideLeft {
		return a.LeftVolumeMl
	}
	return a.RightVolumeMl
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
