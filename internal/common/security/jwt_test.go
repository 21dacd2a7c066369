package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wra13107/digital-memorial-landing/internal/common"
)

// fakeClock is a settable clock shared by issuing and validating.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTokenService(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	ts, err := NewTokenService([]byte("super-secret"), clock.Now)
	require.NoError(t, err)
	return ts
}

func TestNewTokenService_EmptySecret(t *testing.T) {
	_, err := NewTokenService(nil, nil)
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestIssueVerify_Success(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	ts := newTestTokenService(t, clock)

	tok, err := ts.Issue(42, "alice@example.com", false)
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)

	claims, err := ts.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.False(t, claims.IsAdmin)
	assert.True(t, claims.ExpiresAt.Equal(clock.Now().Add(SessionTTL)))
}

func TestVerify_TamperedMiddleSegment(t *testing.T) {
	t.Parallel()
	ts := newTestTokenService(t, newFakeClock())

	tok, err := ts.Issue(1, "a@example.com", false)
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	payload := []byte(parts[1])
	if payload[5] == 'A' {
		payload[5] = 'B'
	} else {
		payload[5] = 'A'
	}
	parts[1] = string(payload)

	_, err = ts.Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	ts := newTestTokenService(t, clock)
	other, err := NewTokenService([]byte("other-secret"), clock.Now)
	require.NoError(t, err)

	tok, err := other.Issue(1, "a@example.com", false)
	require.NoError(t, err)

	_, err = ts.Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()
	ts := newTestTokenService(t, newFakeClock())

	for _, tok := range []string{"", "not.a.jwt", "invalid-token", "a.b"} {
		_, err := ts.Verify(tok)
		assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken, "token %q", tok)
	}
}

func TestVerify_ElevatedExpiresAfterTenMinutes(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	ts := newTestTokenService(t, clock)

	tok, err := ts.Issue(7, "admin@example.com", true)
	require.NoError(t, err)

	claims, err := ts.Verify(tok)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)

	clock.Advance(9 * time.Minute)
	_, err = ts.Verify(tok)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = ts.Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestVerify_StandardSessionSevenDays(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	ts := newTestTokenService(t, clock)

	tok, err := ts.Issue(7, "user@example.com", false)
	require.NoError(t, err)

	clock.Advance(SessionTTL - time.Minute)
	_, err = ts.Verify(tok)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = ts.Verify(tok)
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}

func TestClaimsFromMap(t *testing.T) {
	claims, err := ClaimsFromMap(map[string]interface{}{
		"userId":  float64(12),
		"email":   "x@example.com",
		"isAdmin": true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), claims.UserID)
	assert.True(t, claims.IsAdmin)

	_, err = ClaimsFromMap(map[string]interface{}{"email": "x@example.com"})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)

	_, err = ClaimsFromMap(map[string]interface{}{"userId": "12"})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)

	_, err = ClaimsFromMap(map[string]interface{}{"userId": 1.5})
	assert.ErrorIs(t, err, common.ErrInvalidOrExpiredToken)
}
