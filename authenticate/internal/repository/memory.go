package repository

import (
	"context"
	"sync"
	"time"

	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
)

// InMemoryRepository keeps users in process memory. Development only.
type InMemoryRepository struct {
	users       map[string]*models.User
	usersByName map[string]*models.User
	mu          sync.RWMutex
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users:       make(map[string]*models.User),
		usersByName: make(map[string]*models.User),
	}
}

func (r *InMemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByName[user.Username]; exists {
		return ErrUserExists
	}

	stored := *user
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
		user.CreatedAt = stored.CreatedAt
	}
	r.users[stored.ID] = &stored
	r.usersByName[stored.Username] = &stored
	return nil
}

func (r *InMemoryRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.usersByName[username]
	if !exists {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (r *InMemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, exists := r.users[id]
	if !exists {
		return nil, ErrUserNotFound
	}
	out := *user
	return &out, nil
}
