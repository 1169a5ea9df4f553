package queue

import (
	"context"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	// Send publishes msg; it becomes visible to consumers after delay.
	Send(ctx context.Context, msg Message, delay time.Duration) error
}
