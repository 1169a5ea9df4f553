package queue

import "encoding/json"

// CurrentVersion is the message schema version written by this build.
const CurrentVersion = 1

// Message is one capture polling obligation handed to the worker.
type Message struct {
	CaptureID           string `json:"captureId"`
	EstimationRequestID int64  `json:"estimationRequestId"`
	MeasurementID       string `json:"measurementId"`
	Side                string `json:"side"`
	Attempts            int    `json:"attempts"`
	SubmittedAt         string `json:"submittedAt,omitempty"`
	TraceID             string `json:"traceId,omitempty"`
	EnqueuedAt          string `json:"enqueuedAt"`
	Version             int    `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
