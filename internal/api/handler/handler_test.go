package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wra13107/digital-memorial-landing/internal/api/middleware"
	"github.com/wra13107/digital-memorial-landing/internal/app/service"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
)

type captureQueue struct {
	mu   sync.Mutex
	jobs []model.MailJob
}

func (q *captureQueue) Enqueue(_ context.Context, job model.MailJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

var linkToken = regexp.MustCompile(`token=([0-9a-f]{64})`)

func (q *captureQueue) token(t *testing.T, kind string) string {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(q.jobs) - 1; i >= 0; i-- {
		if q.jobs[i].Kind == kind {
			m := linkToken.FindStringSubmatch(q.jobs[i].Text)
			require.Len(t, m, 2)
			return m[1]
		}
	}
	t.Fatalf("no %s mail captured", kind)
	return ""
}

func (q *captureQueue) count(kind string) int {
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

type harness struct {
	t      *testing.T
	router http.Handler
	users  repository.UserRepository
	hasher *security.PasswordHasher
	mail   *captureQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := repository.NewMemoryUserRepository(time.Now)
	hasher := security.NewPasswordHasher(bcrypt.MinCost, 4)
	sessions, err := security.NewTokenService([]byte("handler-secret"), nil)
	require.NoError(t, err)

	mail := &captureQueue{}
	tokens := service.NewSingleUseTokens(users, map[model.TokenPurpose]time.Duration{
		model.PurposeEmailVerification: 24 * time.Hour,
		model.PurposePasswordReset:     time.Hour,
	}, nil, nil)
	account := service.NewAccountService(users, hasher, tokens, mail, "https://memorial.example", logger)
	auth := service.NewAuthService(users, hasher, sessions, account, nil, logger, nil)
	admin := service.NewAdminService(users, auth, nil, logger)

	r := chi.NewRouter()
	r.Use(middleware.Identify(sessions, auth, logger))
	r.Route("/auth", NewAuthHandler(auth, account, nil).RegisterRoutes)
	r.Route("/admin", NewAdminHandler(admin).RegisterRoutes)

	return &harness{t: t, router: r, users: users, hasher: hasher, mail: mail}
}

func (h *harness) do(method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// register signs up and returns the session cookie.
func (h *harness) register(email, password string) *http.Cookie {
	h.t.Helper()
	w := h.do(http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": password, "firstName": "Anna", "lastName": "Ivanova",
	}, nil)
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return sessionCookie(h.t, w)
}

// seedAdmin stores an admin directly and logs in as them.
func (h *harness) seedAdmin() *http.Cookie {
	h.t.Helper()
	hash, err := h.hasher.Hash(context.Background(), "AdminPass123")
	require.NoError(h.t, err)
	_, err = h.users.CreateLocalUser(context.Background(), model.NewLocalUser{
		Email: "admin@example.com", PasswordHash: hash, FirstName: "Site", LastName: "Admin", Role: model.RoleAdmin,
	})
	require.NoError(h.t, err)

	w := h.do(http.MethodPost, "/auth/login", map[string]string{"login": "admin@example.com", "password": "AdminPass123"}, nil)
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	return sessionCookie(h.t, w)
}

func sessionCookies(w *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == security.CookieName {
			out = append(out, c)
		}
	}
	return out
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	cookies := sessionCookies(w)
	require.Len(t, cookies, 1, "expected exactly one session cookie")
	return &http.Cookie{Name: cookies[0].Name, Value: cookies[0].Value}
}

type userBody struct {
	User map[string]interface{} `json:"user"`
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body userBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.User
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}
