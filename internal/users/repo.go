package users

import (
	"context"
	"errors"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already registered")
)

type Repo interface {
	// Upsert inserts or refreshes profile fields; role and password hash are left alone on conflict.
	Upsert(ctx context.Context, user User) error
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, userID string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context, filter ListFilter) ([]User, int, error)
	SetRole(ctx context.Context, userID string, role Role) error
	Count(ctx context.Context) (int, error)
}
