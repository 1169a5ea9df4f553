package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"breva-backend/internal/bootstrap"
	"breva-backend/internal/shared/config"
	"breva-backend/internal/shared/metrics"
	"breva-backend/internal/shared/telemetry"
	"breva-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	cfg.ProcessRole = "worker"
	if cfg.CaptureQueueURL == "" {
		initErr = errors.New("CAPTURE_QUEUE_URL is required")
		return
	}
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

type processFunc func(ctx context.Context, body string) error

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, event, func(ctx context.Context, body string) error {
		return workerproc.HandleMessage(ctx, app, body)
	}), nil
}

// processBatch reports only retryable records as failures; malformed ones are
// dropped so they do not cycle through the queue.
func processBatch(ctx context.Context, event events.SQSEvent, process processFunc) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncCaptureJobsReceived()
		job, meta, err := workerproc.ParseMessage(record.Body)
		if err != nil {
			telemetry.Error("worker.capture.unrecoverable", map[string]any{
				"sqs_message_id": record.MessageId,
				"body_len":       meta.BodyLen,
				"body_sha256":    meta.BodySHA,
				"error":          err.Error(),
			})
			metrics.IncCaptureJobsDeletedUnrecoverable()
			continue
		}
		if err := process(workerproc.WithParsedJob(ctx, job), record.Body); err != nil {
			telemetry.Error("worker.capture.failed", map[string]any{
				"sqs_message_id": record.MessageId,
				"capture_id":     job.CaptureID,
				"request_id":     job.TraceID,
				"error":          err.Error(),
			})
			metrics.IncCaptureJobsFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		metrics.IncCaptureJobsCompleted()
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
