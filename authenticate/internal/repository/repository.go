package repository

import (
	"context"
	"errors"

	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// Repository is the credential store. CreateUser must fail with
// ErrUserExists when the username is already taken, even under concurrent
// inserts.
type Repository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}
