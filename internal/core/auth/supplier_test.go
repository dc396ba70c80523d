package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func tokenEndpoint(t *testing.T, hits *int64, token string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "password", r.PostForm.Get("grant_type"))
		require.Equal(t, "client-id", r.PostForm.Get("client_id"))
		require.Equal(t, "user@example.com", r.PostForm.Get("username"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"` + token + `","token_type":"Bearer","expires_in":` +
			strconv.Itoa(expiresIn) + `,"refresh_token":"rt-1"}`))
	}))
}

func newSupplier(url string) *Supplier {
	return &Supplier{
		TokenURL:     url,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Username:     "user@example.com",
		Password:     "hunter2",
	}
}

func TestTokenAcquiresAndCaches(t *testing.T) {
	var hits int64
	server := tokenEndpoint(t, &hits, "abc", 3600)
	defer server.Close()

	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()

	cred, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", cred.AccessToken)
	require.Equal(t, "Bearer", cred.TokenType)
	require.Equal(t, "rt-1", cred.RefreshToken)

	again, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, cred, again)
	require.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestConcurrentCallersShareOneAcquisition(t *testing.T) {
	var hits int64
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		<-gate
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"shared","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := s.Token(context.Background())
			if err == nil {
				tokens[i] = cred.AccessToken
			}
			errs[i] = err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "shared", tokens[i])
	}
	require.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestStaleCredentialTriggersReacquisition(t *testing.T) {
	var hits int64
	server := tokenEndpoint(t, &hits, "abc", 1)
	defer server.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()
	s.RefreshSkew = 5 * time.Minute
	s.Clock = func() time.Time { return now }

	first, err := s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", first.AccessToken)

	// expires_in of 1s is already inside the refresh skew.
	now = now.Add(2 * time.Second)
	_, err = s.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestForceRefreshDiscardsCache(t *testing.T) {
	var hits int64
	server := tokenEndpoint(t, &hits, "abc", 3600)
	defer server.Close()

	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()

	_, err := s.Token(context.Background())
	require.NoError(t, err)

	_, err = s.ForceRefresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestGrantRejectionCarriesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
	}))
	defer server.Close()

	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()

	_, err := s.Token(context.Background())
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	require.False(t, aerr.Transport)
	require.Equal(t, http.StatusBadRequest, aerr.StatusCode)
	require.Equal(t, "invalid_grant", aerr.Code)
	require.Equal(t, "bad credentials", aerr.Description)
}

func TestTransportFailureIsDistinguished(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	s := newSupplier(server.URL)

	_, err := s.Token(context.Background())
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	require.True(t, aerr.Transport)
	require.Error(t, aerr.Err)
}

func TestMissingAccessTokenIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	s := newSupplier(server.URL)
	s.HTTPClient = server.Client()

	_, err := s.Token(context.Background())
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	require.Contains(t, aerr.Description, "no access_token")
}
