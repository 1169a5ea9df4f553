// Package workerproc turns queued poll jobs into capture poller ticks.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"breva-backend/internal/bootstrap"
	"breva-backend/internal/captures"
	"breva-backend/internal/queue"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidJob indicates a message that decodes but cannot describe a poll job.
type ErrInvalidJob struct {
	Meta      MessageMeta
	CaptureID string
	TraceID   string
	Err       error
}

func (e ErrInvalidJob) Error() string {
	if e.Err == nil {
		return "invalid poll job"
	}
	return "invalid poll job: " + e.Err.Error()
}

// ErrProcess indicates the tick ran but the follow-up could not be scheduled.
type ErrProcess struct {
	CaptureID string
	TraceID   string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process capture"
	}
	return "process capture: " + e.Err.Error()
}

// ParseMessage validates and decodes the queue payload into a poll job.
func ParseMessage(body string) (captures.PollJob, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return captures.PollJob{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return captures.PollJob{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	job, err := captures.JobFromMessage(msg)
	if err != nil {
		return captures.PollJob{}, meta, ErrInvalidJob{Meta: meta, CaptureID: msg.CaptureID, TraceID: msg.TraceID, Err: err}
	}
	return job, meta, nil
}

type parsedJobKey struct{}

// WithParsedJob stores a decoded job in the context for reuse.
func WithParsedJob(ctx context.Context, job captures.PollJob) context.Context {
	return context.WithValue(ctx, parsedJobKey{}, job)
}

func parsedJobFromContext(ctx context.Context) (captures.PollJob, bool) {
	if ctx == nil {
		return captures.PollJob{}, false
	}
	job, ok := ctx.Value(parsedJobKey{}).(captures.PollJob)
	return job, ok
}

// HandleMessage runs one poll tick for the job in body. The next tick, if any,
// is handed to the app's scheduler; an error leaves the message for redelivery.
func HandleMessage(ctx context.Context, app *bootstrap.App, body string) error {
	if app == nil || app.Poller == nil || app.Scheduler == nil {
		return errors.New("capture poller not configured")
	}

	job, ok := parsedJobFromContext(ctx)
	if !ok {
		var err error
		job, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	ctxWithRequest := captures.WithRequestID(ctx, job.TraceID)
	if err := app.Poller.Advance(ctxWithRequest, job, app.Scheduler); err != nil {
		return ErrProcess{CaptureID: job.CaptureID, TraceID: job.TraceID, Err: err}
	}
	return nil
}
