package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubVerifier returns a fixed result and records how it was called.
type stubVerifier struct {
	session *Session
	err     error
	calls   int
	cookies []string
}

func (s *stubVerifier) Verify(_ context.Context, cookieHeader string) (*Session, error) {
	s.calls++
	s.cookies = append(s.cookies, cookieHeader)
	return s.session, s.err
}

func okHandler(t *testing.T, sawSession *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			*sawSession = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireSession_Valid(t *testing.T) {
	v := &stubVerifier{session: &Session{UserID: "u1"}}
	sawSession := false

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", nil)
	req.Header.Set("Cookie", "session=tok")
	rec := httptest.NewRecorder()
	RequireSession(v)(okHandler(t, &sawSession)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawSession)
	require.Len(t, v.cookies, 1)
	assert.Equal(t, "session=tok", v.cookies[0])
}

func TestRequireSession_MissingSession(t *testing.T) {
	v := &stubVerifier{}
	sawSession := false

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", nil)
	rec := httptest.NewRecorder()
	RequireSession(v)(okHandler(t, &sawSession)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Body.String(), "401 body must be empty")
	assert.False(t, sawSession)
}

func TestRequireSession_VerifierFailureIsNot401(t *testing.T) {
	v := &stubVerifier{err: errors.New("auth provider down")}

	req := httptest.NewRequest(http.MethodPost, "/api/ai/chat", nil)
	rec := httptest.NewRecorder()
	RequireSession(v)(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPageGate_RedirectsWithReturnTarget(t *testing.T) {
	v := &stubVerifier{}

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	PageGate(v)(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/login?redirect=%2Fdashboard", rec.Header().Get("Location"))
}

func TestPageGate_ExemptPaths(t *testing.T) {
	v := &stubVerifier{}

	for _, path := range []string{"/auth/login", "/auth/signup", "/api/ai/chat", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		PageGate(v)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
	assert.Zero(t, v.calls, "exempt paths never hit the verifier")
}

func TestPageGate_ValidSessionPassesThrough(t *testing.T) {
	v := &stubVerifier{session: &Session{UserID: "u1"}}
	sawSession := false

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Cookie", "session=tok")
	rec := httptest.NewRecorder()
	PageGate(v)(okHandler(t, &sawSession)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, sawSession)
}

func TestHTTPVerifier_ValidSession(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/session", r.URL.Path)
		assert.Equal(t, "session=tok", r.Header.Get("Cookie"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"id":"u1","email":"u@example.com"},"expires":"2099-01-01T00:00:00Z"}`))
	}))
	defer provider.Close()

	v := NewHTTPVerifier(provider.URL, provider.Client())
	session, err := v.Verify(context.Background(), "session=tok")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, "u@example.com", session.Email)
}

func TestHTTPVerifier_NoCookieSkipsNetwork(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer provider.Close()

	v := NewHTTPVerifier(provider.URL, provider.Client())
	session, err := v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Zero(t, calls)
}

func TestHTTPVerifier_UnauthorizedIsNilNil(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer provider.Close()

	v := NewHTTPVerifier(provider.URL, provider.Client())
	session, err := v.Verify(context.Background(), "session=bad")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestHTTPVerifier_ExpiredSessionIsNil(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"id":"u1"},"expires":"2001-01-01T00:00:00Z"}`))
	}))
	defer provider.Close()

	v := NewHTTPVerifier(provider.URL, provider.Client())
	session, err := v.Verify(context.Background(), "session=tok")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestHTTPVerifier_RetriesTransientFailures(t *testing.T) {
	calls := 0
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"id":"u1"},"expires":"2099-01-01T00:00:00Z"}`))
	}))
	defer provider.Close()

	v := NewHTTPVerifier(provider.URL, provider.Client())
	session, err := v.Verify(context.Background(), "session=tok")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, 3, calls)
}

func TestSessionExpired(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&Session{}).Expired(now), "zero expiry never expires")
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now.Add(-time.Hour)}).Expired(now))
}
