package authvault

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

/*
====================================
TEST FIXTURES
====================================
*/

type mockUserStore struct {
	mu      sync.Mutex
	users   map[string]*UserRecord
	history map[string][]string
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:   map[string]*UserRecord{},
		history: map[string][]string{},
	}
}

func (m *mockUserStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return *user, nil
}

func (m *mockUserStore) GetUserByUsername(_ context.Context, username string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Username == username {
			return *user, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			return *user, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (m *mockUserStore) CreateUser(_ context.Context, input CreateUserInput) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Username == input.Username {
			return UserRecord{}, ErrUsernameExists
		}
		if user.Email == input.Email {
			return UserRecord{}, ErrEmailExists
		}
	}

	now := time.Now()
	user := &UserRecord{
		UserID:        input.UserID,
		Username:      input.Username,
		Email:         input.Email,
		PasswordHash:  input.PasswordHash,
		EmailVerified: input.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.users[input.UserID] = user
	return *user, nil
}

func (m *mockUserStore) RecordLoginFailure(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	user.FailedLogins++
	return user.FailedLogins, nil
}

func (m *mockUserStore) SetLockout(_ context.Context, userID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.LockedUntil = until
	return nil
}

func (m *mockUserStore) ClearLoginFailures(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.FailedLogins = 0
	user.LockedUntil = time.Time{}
	return nil
}

func (m *mockUserStore) UpdatePasswordHash(_ context.Context, userID, newHash string, historyDepth int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	m.history[userID] = append([]string{user.PasswordHash}, m.history[userID]...)
	if len(m.history[userID]) > historyDepth {
		m.history[userID] = m.history[userID][:historyDepth]
	}
	user.PasswordHash = newHash
	user.UpdatedAt = time.Now()
	return nil
}

func (m *mockUserStore) PasswordHistory(_ context.Context, userID string, historyDepth int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.history[userID]
	if len(history) > historyDepth {
		history = history[:historyDepth]
	}
	out := make([]string, len(history))
	copy(out, history)
	return out, nil
}

func (m *mockUserStore) SetEmailVerified(_ context.Context, userID string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.EmailVerified = verified
	return nil
}

func (m *mockUserStore) SetPendingEmail(_ context.Context, userID, pendingEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.PendingEmail = pendingEmail
	return nil
}

func (m *mockUserStore) CommitEmailChange(_ context.Context, userID, newEmail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.Email = newEmail
	user.PendingEmail = ""
	return nil
}

func (m *mockUserStore) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, userID)
	delete(m.history, userID)
	return nil
}

func (m *mockUserStore) setBanned(userID string, banned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID].Banned = banned
}

func (m *mockUserStore) failedLogins(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID].FailedLogins
}

type sentMail struct {
	Purpose VerificationPurpose
	To      string
	Token   string
	Meta    map[string]string
}

type mockMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mockMailer) Send(_ context.Context, purpose VerificationPurpose, toAddress, rawToken string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{Purpose: purpose, To: toAddress, Token: rawToken, Meta: meta})
	return nil
}

func (m *mockMailer) lastToken(t *testing.T, purpose VerificationPurpose) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Purpose == purpose {
			return m.sent[i].Token
		}
	}
	t.Fatalf("no %s mail sent", purpose)
	return ""
}

func (m *mockMailer) count(purpose VerificationPurpose) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, s := range m.sent {
		if s.Purpose == purpose {
			n++
		}
	}
	return n
}

func testEngineConfig() Config {
	cfg := defaultConfig()
	cfg.Session.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.KeyLength = 16
	cfg.Password.RequireUpper = false
	cfg.Password.RequireLower = false
	cfg.Password.RequireDigit = false
	cfg.Lockout.Threshold = 3
	cfg.Lockout.BaseDuration = time.Minute
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *mockUserStore, *mockMailer) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testEngineConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	users := newMockUserStore()
	mailer := &mockMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserStore(users).
		WithMailer(mailer).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, users, mailer
}

func seedUser(t *testing.T, e *Engine, users *mockUserStore, username, email, passwd string) string {
	t.Helper()

	hash, err := e.hasher.Hash(passwd)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	user, err := users.CreateUser(context.Background(), CreateUserInput{
		UserID:        uuid.NewString(),
		Username:      username,
		Email:         email,
		PasswordHash:  hash,
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user.UserID
}

/*
====================================
BUILDER
====================================
*/

func TestBuildRequiresDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testEngineConfig()

	if _, err := New().WithConfig(cfg).WithUserStore(newMockUserStore()).WithMailer(&mockMailer{}).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(cfg).WithRedis(client).WithMailer(&mockMailer{}).Build(); err == nil {
		t.Fatal("expected error without user store")
	}
	if _, err := New().WithConfig(cfg).WithRedis(client).WithUserStore(newMockUserStore()).Build(); err == nil {
		t.Fatal("expected error without mailer")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := New().
		WithConfig(testEngineConfig()).
		WithRedis(client).
		WithUserStore(newMockUserStore()).
		WithMailer(&mockMailer{})

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := b.Build(); err == nil {
		t.Fatal("second Build must fail")
	}
}
