package captures

import (
	"time"

	"breva-backend/internal/analyses"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Terminal reports whether status ends a capture's lifecycle.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Capture is one LidarCapture row.
type Capture struct {
	ID              string        `json:"id"`
	MeasurementID   string        `json:"measurementId"`
	Side            analyses.Side `json:"side"`
	RequestID       int64         `json:"requestId"`
	Status          string        `json:"status"`
	EstimatedVolume *float64      `json:"estimatedVolume"`
	Metadata        Metadata      `json:"metadata"`
	ArchiveKey      string        `json:"archiveKey,omitempty"`
	PollAttempts    int           `json:"pollAttempts"`
	LastError       string        `json:"lastError,omitempty"`
	NextPollAt      *time.Time    `json:"nextPollAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Metadata is the device and camera snapshot stored with a capture.
type Metadata struct {
	Device           DeviceInfo       `json:"device"`
	CameraIntrinsics CameraIntrinsics `json:"cameraIntrinsics"`
}

// Tick is the persisted outcome of one poll that did not finish the capture.
type Tick struct {
	// Status is written when non-empty; otherwise the stored status is kept.
	Status          string
	EstimatedVolume *float64
	Attempts        int
	LastError       string
	NextPollAt      *time.Time
}

// PollJob is the polling obligation for one capture.
type PollJob struct {
	CaptureID     string
	RequestID     int64
	MeasurementID string
	Side          analyses.Side
	// Attempts already spent; the next tick is Attempts+1.
	Attempts    int
	SubmittedAt time.Time
	TraceID     string
}

// JobFor builds the poll job that resumes c.
func JobFor(c Capture) PollJob {
	return PollJob{
		CaptureID:     c.ID,
		RequestID:     c.RequestID,
		MeasurementID: c.MeasurementID,
		Side:          c.Side,
		Attempts:      c.PollAttempts,
		SubmittedAt:   c.CreatedAt,
	}
}

// SubmitResult is the intake response body.
type SubmitResult struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	CaptureID     string    `json:"captureId"`
	RequestID     int64     `json:"requestId"`
	Side          string    `json:"side"`
	MeasurementID string    `json:"measurementId"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatusView is the capture status read response body.
type StatusView struct {
	CaptureID       string    `json:"captureId"`
	RequestID       int64     `json:"requestId"`
	Status          string    `json:"status"`
	EstimatedVolume *float64  `json:"estimatedVolume"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// View returns the public status shape of c.
func (c Capture) View() StatusView {
	return StatusView{
		CaptureID:       c.ID,
		RequestID:       c.RequestID,
		Status:          c.Status,
		EstimatedVolume: c.EstimatedVolume,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
