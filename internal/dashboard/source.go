package dashboard

import "context"

// StatsSource computes aggregates. An empty userID aggregates across all users.
type StatsSource interface {
	Stats(ctx context.Context, userID string) (Stats, error)
}

// UserCounter reports how many accounts exist.
type UserCounter interface {
	Count(ctx context.Context) (int, error)
}
