package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultRefreshSkew = 5 * time.Minute

// Credential is an opaque bearer token with its absolute expiry. It is only
// ever replaced whole, never mutated in place.
type Credential struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
}

// Valid reports whether the credential is usable at least skew past now.
func (c *Credential) Valid(now time.Time, skew time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return c.ExpiresAt.After(now.Add(skew))
}

// AuthError is returned when token acquisition fails. Transport marks a
// network-level failure as opposed to a protocol rejection from the token
// endpoint (e.g. a malformed or revoked grant).
type AuthError struct {
	StatusCode  int
	Code        string
	Description string
	Transport   bool
	Err         error
}

func (e *AuthError) Error() string {
	switch {
	case e == nil:
		return "auth error"
	case e.Transport:
		return fmt.Sprintf("token request failed: %v", e.Err)
	case e.Code != "":
		return fmt.Sprintf("token acquisition rejected: status %d: %s: %s", e.StatusCode, e.Code, e.Description)
	default:
		return fmt.Sprintf("token acquisition rejected: status %d: %s", e.StatusCode, e.Description)
	}
}

func (e *AuthError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Supplier manages the single shared bearer credential for all outbound
// requests: lazy acquisition, expiry tracking with a refresh skew, and forced
// invalidation after an authorization failure. Concurrent callers awaiting an
// acquisition share one in-flight token request.
type Supplier struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// RefreshSkew is how long before expiry a credential is considered stale.
	RefreshSkew time.Duration

	HTTPClient *http.Client
	Clock      func() time.Time

	mu    sync.Mutex
	cred  *Credential
	group singleflight.Group
}

// Token returns a credential valid for at least the refresh skew, acquiring
// one when the cache is empty or stale.
func (s *Supplier) Token(ctx context.Context) (*Credential, error) {
	if s == nil {
		return nil, &AuthError{Transport: true, Err: fmt.Errorf("token supplier is not configured")}
	}

	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()
	if cred.Valid(s.now(), s.skew()) {
		return cred, nil
	}

	return s.acquireShared(ctx)
}

// ForceRefresh discards any cached credential and acquires a fresh one.
// Intended for use after the upstream rejects the current bearer token.
func (s *Supplier) ForceRefresh(ctx context.Context) (*Credential, error) {
	if s == nil {
		return nil, &AuthError{Transport: true, Err: fmt.Errorf("token supplier is not configured")}
	}

	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	s.group.Forget("token")

	return s.acquireShared(ctx)
}

func (s *Supplier) acquireShared(ctx context.Context) (*Credential, error) {
	value, err, _ := s.group.Do("token", func() (any, error) {
		// Another caller may have completed an acquisition while this one
		// was waiting for the flight slot.
		s.mu.Lock()
		if cred := s.cred; cred.Valid(s.now(), s.skew()) {
			s.mu.Unlock()
			return cred, nil
		}
		s.mu.Unlock()

		cred, err := s.acquire(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cred = cred
		s.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*Credential), nil
}

func (s *Supplier) acquire(ctx context.Context) (*Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", s.ClientID)
	form.Set("client_secret", s.ClientSecret)
	form.Set("username", s.Username)
	form.Set("password", s.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &AuthError{Transport: true, Err: fmt.Errorf("build token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &AuthError{Transport: true, Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Transport: true, Err: fmt.Errorf("read token response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var rejection struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &rejection)
		description := strings.TrimSpace(rejection.ErrorDescription)
		if description == "" {
			description = strings.TrimSpace(string(body))
		}
		return nil, &AuthError{
			StatusCode:  resp.StatusCode,
			Code:        rejection.Error,
			Description: description,
		}
	}

	var grant struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Description: fmt.Sprintf("decode token response: %v", err)}
	}
	if grant.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Description: "token endpoint returned no access_token"}
	}

	return &Credential{
		AccessToken:  grant.AccessToken,
		TokenType:    grant.TokenType,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(grant.ExpiresIn) * time.Second),
	}, nil
}

func (s *Supplier) skew() time.Duration {
	if s.RefreshSkew > 0 {
		return s.RefreshSkew
	}
	return defaultRefreshSkew
}

func (s *Supplier) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
