package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSClientSendSetsDelayAndBody(t *testing.T) {
	api := &fakeSQS{}
	client := NewSQSClientWithAPI(api, "https://sqs.local/queue")

	err := client.Send(context.Background(), Message{CaptureID: "c-1", EstimationRequestID: 7, Version: CurrentVersion}, 4500*time.Millisecond)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.input == nil {
		t.Fatalf("expected SendMessage to be called")
	}
	if got := aws.ToString(api.input.QueueUrl); got != "https://sqs.local/queue" {
		t.Fatalf("unexpected queue url %q", got)
	}
	if api.input.DelaySeconds != 5 {
		t.Fatalf("expected delay rounded up to 5s, got %d", api.input.DelaySeconds)
	}
	msg, err := DecodeMessage([]byte(aws.ToString(api.input.MessageBody)))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.CaptureID != "c-1" || msg.EstimationRequestID != 7 {
		t.Fatalf("unexpected body %+v", msg)
	}
}

func TestSQSClientSendWrapsError(t *testing.T) {
	api := &fakeSQS{err: errors.New("throttled")}
	client := NewSQSClientWithAPI(api, "https://sqs.local/queue")
	if err := client.Send(context.Background(), Message{CaptureID: "c-1"}, 0); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDelaySecondsClamps(t *testing.T) {
	if got := delaySeconds(time.Hour); got != maxDelaySeconds {
		t.Fatalf("expected clamp to %d, got %d", maxDelaySeconds, got)
	}
	if got := delaySeconds(0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
