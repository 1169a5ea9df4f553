// Package dashboard serves aggregate measurement and capture statistics.
package dashboard

import (
	"context"
	"errors"
	"fmt"
)

var ErrNoUser = errors.New("user id is required")

type Service struct {
	Source StatsSource
	Users  UserCounter
}

func NewService(source StatsSource, users UserCounter) *Service {
	return &Service{Source: source, Users: users}
}

// ForUser scopes stats to one user's measurements.
func (s *Service) ForUser(ctx context.Context, userID string) (Stats, error) {
	if userID == "" {
		return Stats{}, ErrNoUser
	}
	return s.Source.Stats(ctx, userID)
}

// Global aggregates across all users and adds the account count.
func (s *Service) Global(ctx context.Context) (Stats, error) {
	stats, err := s.Source.Stats(ctx, "")
	if err != nil {
		return Stats{}, err
	}
	if s.Users != nil {
		n, err := s.Users.Count(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("count users: %w", err)
		}
		stats.Users = &n
	}
	return stats, nil
}
