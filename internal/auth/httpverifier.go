package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	verifyPath = "/api/auth/session"

	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = 500 * time.Millisecond
	retryMaxAttempts     = 3
)

// HTTPVerifier verifies sessions against the external auth provider by
// forwarding the caller's cookies. The check is read-only, so transient
// transport failures are retried with backoff before giving up.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPVerifier creates a verifier for the auth provider at baseURL.
// A nil client falls back to a short-timeout default.
func NewHTTPVerifier(baseURL string, client *http.Client) *HTTPVerifier {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		now:     time.Now,
	}
}

// sessionResponse is the auth provider's session payload.
type sessionResponse struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Expires time.Time `json:"expires"`
}

// Verify implements Verifier.
func (v *HTTPVerifier) Verify(ctx context.Context, cookieHeader string) (*Session, error) {
	if cookieHeader == "" {
		return nil, nil
	}

	var session *Session

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+verifyPath, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Cookie", cookieHeader)
		req.Header.Set("Accept", "application/json")

		resp, err := v.client.Do(req)
		if err != nil {
			return err // transient: retried
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var body sessionResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding session response: %w", err))
			}
			if body.User.ID == "" {
				return nil // no session attached
			}
			s := &Session{UserID: body.User.ID, Email: body.User.Email, ExpiresAt: body.Expires}
			if s.Expired(v.now()) {
				return nil
			}
			session = s
			return nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil // definitive: no valid session

		case resp.StatusCode >= 500:
			return fmt.Errorf("auth provider returned %d", resp.StatusCode)

		default:
			return backoff.Permanent(fmt.Errorf("auth provider returned %d", resp.StatusCode))
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts), ctx))
	if err != nil {
		return nil, fmt.Errorf("verifying session: %w", err)
	}
	return session, nil
}
