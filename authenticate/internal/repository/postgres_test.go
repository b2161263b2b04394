package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
)

// setupTestDatabase starts PostgreSQL in a container and applies the
// service migrations with golang-migrate.
func setupTestDatabase(t *testing.T) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("vidcat_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	result, err := Migrate("file://../../migrations", connStr)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, uint(1), result.Version)
	assert.False(t, result.Dirty)

	again, err := Migrate("file://../../migrations", connStr)
	require.NoError(t, err)
	assert.False(t, again.Changed, "second run must be a no-op")

	repo, err := NewPostgresRepository(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return repo
}

func newUser(username string) *models.User {
	id, _ := uuid.NewV7()
	return &models.User{
		ID:           id.String(),
		Username:     username,
		PasswordHash: "$2a$04$" + gofakeit.LetterN(53),
		Role:         models.RoleUser,
	}
}

func TestPostgresRepository(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	t.Run("health", func(t *testing.T) {
		assert.NoError(t, repo.CheckHealth(ctx))
	})

	t.Run("create and read back", func(t *testing.T) {
		user := newUser("alice")
		require.NoError(t, repo.CreateUser(ctx, user))
		assert.False(t, user.CreatedAt.IsZero(), "created_at should be returned")

		got, err := repo.GetUserByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, user.PasswordHash, got.PasswordHash)
		assert.Equal(t, models.RoleUser, got.Role)

		byID, err := repo.GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Username)
	})

	t.Run("duplicate username", func(t *testing.T) {
		require.NoError(t, repo.CreateUser(ctx, newUser("bob")))
		err := repo.CreateUser(ctx, newUser("bob"))
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("case-sensitive usernames", func(t *testing.T) {
		require.NoError(t, repo.CreateUser(ctx, newUser("dave")))
		require.NoError(t, repo.CreateUser(ctx, newUser("Dave")))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetUserByUsername(ctx, "ghost")
		assert.ErrorIs(t, err, ErrUserNotFound)

		id, _ := uuid.NewV7()
		_, err = repo.GetUserByID(ctx, id.String())
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("concurrent registration of one username", func(t *testing.T) {
		const workers = 10
		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.CreateUser(ctx, newUser("erin"))
			}()
		}
		wg.Wait()
		close(errs)

		var ok, exists int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrUserExists):
				exists++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, workers-1, exists)
	})
}

func TestMigrate_BadSource(t *testing.T) {
	_, err := Migrate("file:///nonexistent/vidcat/migrations", "postgres://u:p@127.0.0.1:1/db?sslmode=disable")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize migrations")
}
