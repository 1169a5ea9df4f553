package captures

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound covers missing captures and measurements the caller does not own.
	ErrNotFound = errors.New("capture not found")
	// ErrUpstream wraps a rejected enqueue call; nothing is persisted when it is returned.
	ErrUpstream = errors.New("estimation service rejected the capture")
	// ErrNotActive is returned when a write targets a capture that is already terminal.
	ErrNotActive = errors.New("capture is no longer active")
	// ErrNoArchive is returned when a capture has no stored payload.
	ErrNoArchive = errors.New("capture payload not archived")
)

// Issue is one field-level validation problem.
type Issue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// ValidationError lists every problem found in a capture submission.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid capture"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Issue)
	}
	return "invalid capture: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, issue string) {
	e.Issues = append(e.Issues, Issue{Field: field, Issue: issue})
}

func (e *ValidationError) orNil() error {
	if len(e.Issues) == 0 {
		return nil
	}
	return e
}
