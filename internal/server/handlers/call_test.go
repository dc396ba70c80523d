package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apilens/apilens/internal/core/auth"
	"github.com/apilens/apilens/internal/core/client"
	"github.com/apilens/apilens/internal/core/quota"
)

func newCallHandler(t *testing.T, upstream http.HandlerFunc) *CallHandler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"t","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/", upstream)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &CallHandler{
		Executor: &client.Executor{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
			Tokens: &auth.Supplier{
				TokenURL:   server.URL + "/oauth/token",
				ClientID:   "id",
				Username:   "u",
				Password:   "p",
				HTTPClient: server.Client(),
			},
			Limiter: quota.New(60, 5000, 5),
		},
	}
}

func TestCallHandlerProxiesUpstreamResponse(t *testing.T) {
	handler := newCallHandler(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/projects", r.URL.Path)
		require.Equal(t, "7", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"1"}]}`))
	})

	body := `{"method":"GET","path":"/projects","query":{"page":"7"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp CallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"data":[{"id":"1"}]}`, string(resp.Body))
}

func TestCallHandlerRejectsInvalidInput(t *testing.T) {
	handler := newCallHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called")
	})

	cases := []struct {
		name string
		body string
	}{
		{"NotJSON", "not-json"},
		{"MissingPath", `{"method":"GET"}`},
		{"BadMethod", `{"method":"TRACE","path":"/projects"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)

			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.Equal(t, "INVALID_INPUT", resp.Error.Code)
		})
	}
}

func TestCallHandlerTranslatesUpstreamRateLimit(t *testing.T) {
	handler := newCallHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(`{"path":"/projects"}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "30", rec.Header().Get("Retry-After"))

	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "RATE_LIMITED", resp.Error.Code)
}

func TestCallHandlerTranslatesValidationDetails(t *testing.T) {
	handler := newCallHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"detail":"name can't be blank","source":{"pointer":"/data/attributes/name"}}]}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls",
		strings.NewReader(`{"method":"POST","path":"/projects","body":{"data":{}}}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
	require.Contains(t, resp.Error.Details, "validation_details")
}
