package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
)

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

type recordingQueue struct {
	mu   sync.Mutex
	jobs []model.MailJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job model.MailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

var tokenInLink = regexp.MustCompile(`token=([0-9a-f]{64})`)

// lastToken returns the raw token from the newest mail of kind.
func (q *recordingQueue) lastToken(t *testing.T, kind string) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].Kind != kind {
			continue
		}
		m := tokenInLink.FindStringSubmatch(q.jobs[i].Text)
		require.Len(t, m, 2, "no token link in mail text")
		return m[1]
	}
	t.Fatalf("no %s mail queued", kind)
	return ""
}

func (q *recordingQueue) count(kind string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.Kind == kind {
			n++
		}
	}
	return n
}

type testEnv struct {
	clock    *testClock
	users    repository.UserRepository
	mail     *recordingQueue
	hasher   *security.PasswordHasher
	sessions *security.TokenService
	account  *AccountService
	auth     *AuthService
	admin    *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	users := repository.NewMemoryUserRepository(clock.Now)
	mail := &recordingQueue{}
	hasher := security.NewPasswordHasher(bcrypt.MinCost, 4)
	sessions, err := security.NewTokenService([]byte("test-secret"), clock.Now)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := NewSingleUseTokens(users, map[model.TokenPurpose]time.Duration{
		model.PurposeEmailVerification: 24 * time.Hour,
		model.PurposePasswordReset:     24 * time.Hour,
	}, clock.Now, metrics.Nop{})
	account := NewAccountService(users, hasher, tokens, mail, "https://memorial.example", logger)
	auth := NewAuthService(users, hasher, sessions, account, metrics.Nop{}, logger, clock.Now)
	admin := NewAdminService(users, auth, metrics.Nop{}, logger)

	return &testEnv{
		clock:    clock,
		users:    users,
		mail:     mail,
		hasher:   hasher,
		sessions: sessions,
		account:  account,
		auth:     auth,
		admin:    admin,
	}
}

func (e *testEnv) register(t *testing.T, email, password string) *model.User {
	t.Helper()
	res, err := e.auth.Register(context.Background(), RegisterRequest{
		Email:     email,
		Password:  password,
		FirstName: "Alice",
		LastName:  "Smith",
	})
	require.NoError(t, err)
	return res.User
}

var errBoom = errors.New("boom")
