package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"

	"github.com/vidcat/vidcat-stack/authenticate/internal/audit"
	"github.com/vidcat/vidcat-stack/authenticate/internal/models"
	"github.com/vidcat/vidcat-stack/authenticate/internal/password"
	"github.com/vidcat/vidcat-stack/authenticate/internal/repository"
	"github.com/vidcat/vidcat-stack/authenticate/pkg/tokens"
	"github.com/vidcat/vidcat-stack/common/logging"
	"github.com/vidcat/vidcat-stack/common/messaging"
	"github.com/vidcat/vidcat-stack/common/middleware"
)

// mockRepository wraps the in-memory store with injectable failures.
type mockRepository struct {
	*repository.InMemoryRepository
	createUserErr error
	getUserErr    error
	// hideAfter makes GetUserByUsername report not found once it has been
	// called this many times. Zero disables it.
	hideAfter int

	mu      sync.Mutex
	lookups int
	created int
}

func newMockRepository() *mockRepository {
	return &mockRepository{InMemoryRepository: repository.NewInMemoryRepository()}
}

func (m *mockRepository) CreateUser(ctx context.Context, user *models.User) error {
	if m.createUserErr != nil {
		return m.createUserErr
	}
	if err := m.InMemoryRepository.CreateUser(ctx, user); err != nil {
		return err
	}
	m.mu.Lock()
	m.created++
	m.mu.Unlock()
	return nil
}

func (m *mockRepository) createdUsers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *mockRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	m.lookups++
	n := m.lookups
	m.mu.Unlock()

	if m.getUserErr != nil {
		return nil, m.getUserErr
	}
	if m.hideAfter > 0 && n > m.hideAfter {
		return nil, repository.ErrUserNotFound
	}
	return m.InMemoryRepository.GetUserByUsername(ctx, username)
}

// stubAuthenticator accepts or rejects every credential pair.
type stubAuthenticator struct {
	err error
}

func (s stubAuthenticator) Authenticate(context.Context, string, string) error {
	return s.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc   *AuthService
	repo  *mockRepository
	codec *tokens.Codec
	clock *testClock
}

func setupTestService(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	codec := tokens.NewCodec(tokens.MustDeriveKey("test-passphrase"), tokens.WithClock(clock.Now))
	repo := newMockRepository()

	base := []Option{
		WithLogger(logging.Discard()),
		WithTTLs(time.Hour, 24*time.Hour),
	}
	svc := NewAuthService(repo, password.NewBcryptHasher(bcrypt.MinCost), codec, append(base, opts...)...)
	return &testEnv{svc: svc, repo: repo, codec: codec, clock: clock}
}

func fakeCredentials() (string, string) {
	return gofakeit.Username(), gofakeit.Password(true, true, true, false, false, 16)
}

// ============================================================================
// Register Tests
// ============================================================================

func TestRegister(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	username, pw := fakeCredentials()

	pair, err := env.svc.Register(ctx, username, pw)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if pair.ExpiresIn != 3600 {
		t.Errorf("expected expiresIn 3600, got %d", pair.ExpiresIn)
	}
	for name, tok := range map[string]string{"access": pair.AccessToken, "refresh": pair.RefreshToken} {
		sub, err := env.codec.ExtractSubject(tok)
		if err != nil {
			t.Fatalf("%s token does not verify: %v", name, err)
		}
		if sub != username {
			t.Errorf("%s token subject = %q, want %q", name, sub, username)
		}
	}

	accessExp, _ := env.codec.Expiry(pair.AccessToken)
	refreshExp, _ := env.codec.Expiry(pair.RefreshToken)
	if !refreshExp.After(accessExp) {
		t.Errorf("refresh expiry %v should be after access expiry %v", refreshExp, accessExp)
	}

	user, err := env.repo.InMemoryRepository.GetUserByUsername(ctx, username)
	if err != nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if user.Role != models.RoleUser {
		t.Errorf("expected default role USER, got %s", user.Role)
	}
	if user.PasswordHash == pw {
		t.Error("password stored in plain text")
	}
	if _, err := bcrypt.Cost([]byte(user.PasswordHash)); err != nil {
		t.Errorf("stored hash is not bcrypt: %v", err)
	}
}

func TestRegister_UsernameTaken(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	username, pw := fakeCredentials()

	if _, err := env.svc.Register(ctx, username, pw); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	original, _ := env.repo.InMemoryRepository.GetUserByUsername(ctx, username)

	pair, err := env.svc.Register(ctx, username, "something-else")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if pair != nil {
		t.Error("no tokens may be issued on conflict")
	}

	after, _ := env.repo.InMemoryRepository.GetUserByUsername(ctx, username)
	if after.PasswordHash != original.PasswordHash {
		t.Error("conflicting registration altered the stored hash")
	}
	if n := env.repo.createdUsers(); n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestRegister_StoreConflict(t *testing.T) {
	env := setupTestService(t)
	env.repo.createUserErr = repository.ErrUserExists

	_, err := env.svc.Register(context.Background(), "racer", "pw")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken from store constraint, got %v", err)
	}
}

func TestRegister_Failures(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name      string
		setup     func(*mockRepository)
		password  string
		expectErr error
	}{
		{
			name:      "lookup failure",
			setup:     func(m *mockRepository) { m.getUserErr = storeDown },
			password:  "pw",
			expectErr: storeDown,
		},
		{
			name:      "persist failure",
			setup:     func(m *mockRepository) { m.createUserErr = storeDown },
			password:  "pw",
			expectErr: storeDown,
		},
		{
			name:      "password too long",
			setup:     func(*mockRepository) {},
			password:  string(make([]byte, 73)),
			expectErr: password.ErrTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestService(t)
			tt.setup(env.repo)

			pair, err := env.svc.Register(context.Background(), "alice", tt.password)
			if !errors.Is(err, tt.expectErr) {
				t.Fatalf("expected %v, got %v", tt.expectErr, err)
			}
			if pair != nil {
				t.Error("no tokens may be issued on failure")
			}
			if env.repo.createdUsers() != 0 {
				t.Error("no user may be persisted on failure")
			}
		})
	}
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Register(ctx, "contested", "pw")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, taken int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrUsernameTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || taken != workers-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", workers-1, ok, taken)
	}
}

func TestRegister_DefaultRole(t *testing.T) {
	env := setupTestService(t, WithDefaultRole(models.RoleAdmin))
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "root", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	user, _ := env.repo.InMemoryRepository.GetUserByUsername(ctx, "root")
	if user.Role != models.RoleAdmin {
		t.Errorf("expected ADMIN, got %s", user.Role)
	}
}

// ============================================================================
// Login Tests
// ============================================================================

func TestRegisterThenLogin(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		username, pw := fakeCredentials()
		username = username + gofakeit.DigitN(6)

		if _, err := env.svc.Register(ctx, username, pw); err != nil {
			t.Fatalf("Register(%q) failed: %v", username, err)
		}
		pair, err := env.svc.Login(ctx, username, pw)
		if err != nil {
			t.Fatalf("Login(%q) failed: %v", username, err)
		}
		if !env.codec.ValidateFor(pair.AccessToken, username) {
			t.Errorf("access token not valid for %q", username)
		}
	}
}

func TestLogin_Failures(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	if _, err := env.svc.Register(ctx, "carol", "right-password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "carol", "wrong-password"},
		{"unknown user", "mallory", "right-password"},
		{"empty password", "carol", ""},
		{"case differs", "Carol", "right-password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := env.svc.Login(ctx, tt.username, tt.password)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
			if pair != nil {
				t.Error("no tokens may be issued on failure")
			}
		})
	}
}

func TestLogin_UserRecordMissing(t *testing.T) {
	env := setupTestService(t, WithAuthenticator(stubAuthenticator{}))

	_, err := env.svc.Login(context.Background(), "ghost", "pw")
	if !errors.Is(err, ErrUserRecordMissing) {
		t.Fatalf("expected ErrUserRecordMissing, got %v", err)
	}
}

func TestLogin_RecordVanishesAfterAuthentication(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	if _, err := env.svc.Register(ctx, "dave", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Register did one lookup and authentication does the next.
	env.repo.hideAfter = env.repo.lookups + 1

	_, err := env.svc.Login(ctx, "dave", "pw")
	if !errors.Is(err, ErrUserRecordMissing) {
		t.Fatalf("expected ErrUserRecordMissing, got %v", err)
	}
}

func TestLogin_StoreError(t *testing.T) {
	env := setupTestService(t)
	storeDown := errors.New("connection reset")
	env.repo.getUserErr = storeDown

	_, err := env.svc.Login(context.Background(), "erin", "pw")
	if !errors.Is(err, storeDown) {
		t.Fatalf("expected store error to propagate, got %v", err)
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		t.Error("store failure must not be reported as bad credentials")
	}
}

func TestLogin_AuthenticatorError(t *testing.T) {
	boom := errors.New("directory unavailable")
	env := setupTestService(t, WithAuthenticator(stubAuthenticator{err: boom}))

	_, err := env.svc.Login(context.Background(), "frank", "pw")
	if !errors.Is(err, boom) {
		t.Fatalf("expected authenticator error, got %v", err)
	}
}

func TestScenario_AliceRegistersAndLogsIn(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	if _, err := env.svc.Register(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("register alice/pw1: %v", err)
	}
	if _, err := env.svc.Register(ctx, "alice", "pw2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("register alice/pw2: expected ErrUsernameTaken, got %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice", "pw1"); err != nil {
		t.Fatalf("login alice/pw1: %v", err)
	}
	if _, err := env.svc.Login(ctx, "alice", "pw2"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("login alice/pw2: expected ErrAuthenticationFailed, got %v", err)
	}
}

// ============================================================================
// RefreshToken Tests
// ============================================================================

func TestRefreshToken(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	original, err := env.codec.Issue("grace", 24*time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	originalExp, _ := env.codec.Expiry(original)

	env.clock.Advance(time.Second)

	pair, err := env.svc.RefreshToken(ctx, original)
	if err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}

	sub, err := env.codec.ExtractSubject(pair.AccessToken)
	if err != nil || sub != "grace" {
		t.Errorf("access subject = %q (%v), want grace", sub, err)
	}
	if pair.RefreshToken == original {
		t.Error("refresh token was not rotated")
	}
	newExp, _ := env.codec.Expiry(pair.RefreshToken)
	if !newExp.After(originalExp) {
		t.Errorf("new refresh expiry %v should be after %v", newExp, originalExp)
	}
}

func TestRefreshToken_OldTokenStillAccepted(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	original, _ := env.codec.Issue("heidi", time.Hour)
	if _, err := env.svc.RefreshToken(ctx, original); err != nil {
		t.Fatalf("first refresh failed: %v", err)
	}
	if _, err := env.svc.RefreshToken(ctx, original); err != nil {
		t.Fatalf("reusing a rotated refresh token should still succeed: %v", err)
	}
}

func TestRefreshToken_Expired(t *testing.T) {
	env := setupTestService(t)

	token, _ := env.codec.Issue("ivan", time.Second)
	env.clock.Advance(2 * time.Second)

	pair, err := env.svc.RefreshToken(context.Background(), token)
	if !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
	if pair != nil {
		t.Error("no tokens may be issued for an expired refresh token")
	}
}

func TestRefreshToken_ExpiresAtBoundary(t *testing.T) {
	env := setupTestService(t)

	token, _ := env.codec.Issue("judy", time.Second)
	env.clock.Advance(time.Second)

	if _, err := env.svc.RefreshToken(context.Background(), token); !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("token at its expiry instant must be expired, got %v", err)
	}
}

func TestRefreshToken_Invalid(t *testing.T) {
	env := setupTestService(t)
	foreign := tokens.NewCodec(tokens.MustDeriveKey("other-passphrase"))
	foreignToken, _ := foreign.Issue("mallory", time.Hour)

	tests := []struct {
		name     string
		token    string
		wrapsErr error
	}{
		{"empty", "", tokens.ErrMalformedToken},
		{"garbage", "not-a-token", tokens.ErrMalformedToken},
		{"foreign key", foreignToken, tokens.ErrSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := env.svc.RefreshToken(context.Background(), tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if !errors.Is(err, tt.wrapsErr) {
				t.Errorf("expected wrapped %v, got %v", tt.wrapsErr, err)
			}
			if pair != nil {
				t.Error("no tokens may be issued for an invalid token")
			}
		})
	}
}

// ============================================================================
// Events and Me
// ============================================================================

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturePublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturePublisher) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	return p.Publish(ctx, msg.Subject, msg.Data)
}

func (p *capturePublisher) Close() error { return nil }

func TestLifecycleEvents(t *testing.T) {
	pub := &capturePublisher{}
	env := setupTestService(t, WithAudit(audit.NewLogger(pub, logging.Discard())))
	ctx := context.Background()

	pair, err := env.svc.Register(ctx, "kim", "pw")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := env.svc.Login(ctx, "kim", "pw"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.svc.RefreshToken(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("RefreshToken failed: %v", err)
	}
	// Failures publish nothing.
	_, _ = env.svc.Login(ctx, "kim", "wrong")

	want := []string{
		messaging.SubjectAuthUserRegistered,
		messaging.SubjectAuthSessionLogin,
		messaging.SubjectAuthTokenRefreshed,
	}
	if len(pub.subjects) != len(want) {
		t.Fatalf("expected subjects %v, got %v", want, pub.subjects)
	}
	for i := range want {
		if pub.subjects[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], pub.subjects[i])
		}
	}
}

func TestMe(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()
	if _, err := env.svc.Register(ctx, "leo", "pw"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	stored, err := env.repo.GetUserByUsername(ctx, "leo")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	user, err := env.svc.Me(ctx, stored.Principal())
	if err != nil {
		t.Fatalf("Me failed: %v", err)
	}
	if user.Username != "leo" || user.ID != stored.ID {
		t.Errorf("expected leo/%s, got %s/%s", stored.ID, user.Username, user.ID)
	}

	if _, err := env.svc.Me(ctx, nil); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for nil principal, got %v", err)
	}
	if _, err := env.svc.Me(ctx, &models.Principal{UserID: "missing", Username: "nobody"}); !errors.Is(err, ErrUserRecordMissing) {
		t.Errorf("expected ErrUserRecordMissing, got %v", err)
	}
}

func TestOutcomeLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	env := setupTestService(t, WithLogger(logging.NewWithWriter(&buf, slog.LevelInfo, "json")))
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-login-1")

	if _, err := env.svc.Login(ctx, "nobody", "pw"); !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "auth operation rejected" {
		t.Errorf("unexpected message %v", line["msg"])
	}
	if line[logging.FieldRequestID] != "req-login-1" {
		t.Errorf("expected request_id req-login-1, got %v", line[logging.FieldRequestID])
	}
	if line[logging.FieldOutcome] != "auth_failed" {
		t.Errorf("expected outcome auth_failed, got %v", line[logging.FieldOutcome])
	}
}
