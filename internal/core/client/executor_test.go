package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apilens/apilens/internal/core/auth"
	"github.com/apilens/apilens/internal/core/quota"
)

type fakeUpstream struct {
	mu         sync.Mutex
	tokenHits  int
	apiHits    int
	apiHandler func(hit int, w http.ResponseWriter, r *http.Request)
	server     *httptest.Server
}

func newFakeUpstream(apiHandler func(hit int, w http.ResponseWriter, r *http.Request)) *fakeUpstream {
	f := &fakeUpstream{apiHandler: apiHandler}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.tokenHits++
		hit := f.tokenHits
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if hit == 1 {
			_, _ = w.Write([]byte(`{"access_token":"token-1","token_type":"Bearer","expires_in":3600}`))
		} else {
			_, _ = w.Write([]byte(`{"access_token":"token-2","token_type":"Bearer","expires_in":3600}`))
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.apiHits++
		hit := f.apiHits
		f.mu.Unlock()
		f.apiHandler(hit, w, r)
	})
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeUpstream) counts() (tokenHits, apiHits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenHits, f.apiHits
}

func (f *fakeUpstream) executor() (*Executor, *quota.Controller) {
	limiter := quota.New(60, 5000, 5)
	supplier := &auth.Supplier{
		TokenURL:     f.server.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Username:     "user@example.com",
		Password:     "hunter2",
		HTTPClient:   f.server.Client(),
	}
	return &Executor{
		BaseURL:    f.server.URL,
		HTTPClient: f.server.Client(),
		Tokens:     supplier,
		Limiter:    limiter,
	}, limiter
}

func TestExecuteSuccessDecodesBody(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "1", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"7","type":"projects"}]}`))
	})
	defer upstream.server.Close()

	executor, limiter := upstream.executor()
	result, err := executor.Execute(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/projects",
		Query:  url.Values{"page": {"1"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)

	var decoded struct {
		Data []struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	require.NoError(t, result.Decode(&decoded))
	require.Len(t, decoded.Data, 1)
	require.Equal(t, "7", decoded.Data[0].ID)

	require.Equal(t, 0, limiter.Status().InFlight)
}

func TestExecuteRetriesOnceAfter401(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		if hit == 1 {
			require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"1","type":"people"}}`))
	})
	defer upstream.server.Close()

	executor, limiter := upstream.executor()
	result, err := executor.Execute(context.Background(), Request{Path: "/people/1"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)

	tokenHits, apiHits := upstream.counts()
	require.Equal(t, 2, tokenHits)
	require.Equal(t, 2, apiHits)

	status := limiter.Status()
	require.Equal(t, 0, status.InFlight)
	// The retried attempt reuses the originally held slot.
	require.Equal(t, 59, status.MinuteRemaining)
}

func TestExecuteSecondConsecutive401IsTerminal(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer upstream.server.Close()

	executor, limiter := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindUnauthorized, apiErr.Kind)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	tokenHits, apiHits := upstream.counts()
	require.Equal(t, 2, tokenHits)
	require.Equal(t, 2, apiHits)
	require.Equal(t, 0, limiter.Status().InFlight)
}

func TestExecuteClassifies429(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, apiErr.Kind)
	require.Equal(t, 17, apiErr.RetryAfterSeconds)
}

func TestExecuteDefaultsMalformedRetryAfter(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "soon")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, apiErr.Kind)
	require.Equal(t, 60, apiErr.RetryAfterSeconds)
}

func TestExecuteClassifiesValidationWithDetails(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"status":"422","title":"Invalid attribute","detail":"name can't be blank","source":{"pointer":"/data/attributes/name"}}]}`))
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/projects",
		Body:   map[string]any{"data": map[string]any{"type": "projects"}},
	})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindValidation, apiErr.Kind)
	require.Len(t, apiErr.Details, 1)
	require.Equal(t, "name", apiErr.Details[0].Field)
	require.Equal(t, "name can't be blank", apiErr.Details[0].Detail)
}

func TestExecuteTreats2xxErrorEnvelopeAsValidation(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"errors":[{"title":"Stale revision","detail":"document was modified concurrently"}]}`))
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindValidation, apiErr.Kind)
	require.Contains(t, apiErr.Message, "modified concurrently")
}

func TestExecuteClassifiesRemainingStatuses(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusForbidden, KindForbidden},
		{http.StatusNotFound, KindNotFound},
		{http.StatusBadGateway, KindServerError},
		{http.StatusConflict, KindUnknown},
	}

	for _, tc := range cases {
		upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})

		executor, _ := upstream.executor()
		_, err := executor.Execute(context.Background(), Request{Path: "/projects"})
		upstream.server.Close()

		apiErr, ok := AsAPIError(err)
		require.True(t, ok, "status %d", tc.status)
		require.Equal(t, tc.kind, apiErr.Kind, "status %d", tc.status)
		require.Equal(t, tc.status, apiErr.StatusCode)
	}
}

func TestExecuteEmptyBodyIsSuccess(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	result, err := executor.Execute(context.Background(), Request{Method: http.MethodDelete, Path: "/projects/7"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, result.StatusCode)
	require.Empty(t, result.Body)
	require.NoError(t, result.Decode(&struct{}{}))
}

func TestExecuteTransportFailureIsNetworkFailure(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"token-1","token_type":"Bearer","expires_in":3600}`))
	})

	executor, limiter := upstream.executor()
	// Warm the token cache, then kill the upstream.
	_, err := executor.Tokens.Token(context.Background())
	require.NoError(t, err)
	upstream.server.Close()

	_, err = executor.Execute(context.Background(), Request{Path: "/projects"})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindNetworkFailure, apiErr.Kind)
	require.Equal(t, 0, limiter.Status().InFlight)
}

func TestExecuteLocalQuotaExhaustionSkipsNetwork(t *testing.T) {
	var apiHits int64
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&apiHits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := quota.New(60, 1, 5)
	limiter.Clock = func() time.Time { return now }
	executor.Limiter = limiter

	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), Request{Path: "/projects"})
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, KindRateLimited, apiErr.Kind)
	require.Equal(t, 12*60*60, apiErr.RetryAfterSeconds)
	require.Equal(t, int64(1), atomic.LoadInt64(&apiHits))
}

func TestExecuteSyncsQuotaHintsFromHeaders(t *testing.T) {
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-minute-remaining", "10")
		w.Header().Set("x-ratelimit-day-remaining", "123")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	defer upstream.server.Close()

	executor, limiter := upstream.executor()
	_, err := executor.Execute(context.Background(), Request{Path: "/projects"})
	require.NoError(t, err)

	status := limiter.Status()
	require.Equal(t, 10, status.MinuteRemaining)
	require.Equal(t, 123, status.DayRemaining)
}

func TestExecuteHoldsConcurrencySlots(t *testing.T) {
	release := make(chan struct{})
	upstream := newFakeUpstream(func(hit int, w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	defer upstream.server.Close()

	executor, _ := upstream.executor()
	limiter := quota.New(60, 5000, 2)
	executor.Limiter = limiter

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = executor.Execute(context.Background(), Request{Path: "/projects"})
		}()
	}

	require.Eventually(t, func() bool {
		return limiter.Status().InFlight == 2
	}, time.Second, 10*time.Millisecond)

	// A third call must queue behind the ceiling.
	third := make(chan error, 1)
	go func() {
		_, err := executor.Execute(context.Background(), Request{Path: "/projects"})
		third <- err
	}()

	select {
	case <-third:
		t.Fatal("third call admitted past the concurrency ceiling")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-third)
	wg.Wait()
	require.Equal(t, 0, limiter.Status().InFlight)
}
