package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/apilens/apilens/internal/core/auth"
	"github.com/apilens/apilens/internal/core/quota"
)

const (
	defaultRetryAfterSeconds = 60

	headerMinuteRemaining = "x-ratelimit-minute-remaining"
	headerDayRemaining    = "x-ratelimit-day-remaining"
)

// Request describes one upstream operation.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Result is a successful upstream response. Body is nil for empty (204-style)
// responses.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

// Decode unmarshals the result body into v. An empty body decodes to nothing.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Executor is the single entry point calling logic uses to reach the
// upstream. Every call is gated by the admission controller, authenticated
// via the token supplier, and its failure classified into an *APIError.
type Executor struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     *auth.Supplier
	Limiter    *quota.Controller
	UserAgent  string
	Logger     *logging.Logger
}

// Execute performs one upstream call. A 401 triggers exactly one forced token
// refresh and one re-issue under the originally held concurrency slot; every
// other failure is terminal for the call. The slot is released on all paths.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if e == nil || e.Tokens == nil {
		return nil, errors.New("executor is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if e.Limiter != nil {
		if err := e.Limiter.Acquire(ctx); err != nil {
			var qerr *quota.QuotaError
			if errors.As(err, &qerr) {
				return nil, &APIError{
					Kind:              KindRateLimited,
					Message:           "local request quota exhausted",
					RetryAfterSeconds: ceilSeconds(qerr.RetryAfter),
					Err:               qerr,
				}
			}
			return nil, err
		}
		defer e.Limiter.Release()
	}

	cred, err := e.Tokens.Token(ctx)
	if err != nil {
		return nil, classifyAuthError(err)
	}

	resp, body, err := e.attempt(ctx, req, cred)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if e.Logger != nil {
			e.Logger.Debug("upstream rejected bearer token, refreshing once",
				zap.String("method", req.Method),
				zap.String("path", req.Path))
		}
		cred, err = e.Tokens.ForceRefresh(ctx)
		if err != nil {
			return nil, classifyAuthError(err)
		}
		resp, body, err = e.attempt(ctx, req, cred)
		if err != nil {
			return nil, err
		}
	}

	return e.interpret(resp, body)
}

// attempt issues a single network call with the given credential and feeds
// any rate-limit hints from the response back into the admission controller.
func (e *Executor) attempt(ctx context.Context, req Request, cred *auth.Credential) (*http.Response, []byte, error) {
	target := strings.TrimRight(e.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var payload io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, nil, &APIError{Kind: KindUnknown, Message: fmt.Sprintf("encode request body: %v", err), Err: err}
		}
		payload = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, payload)
	if err != nil {
		return nil, nil, &APIError{Kind: KindUnknown, Message: fmt.Sprintf("build request: %v", err), Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if e.UserAgent != "" {
		httpReq.Header.Set("User-Agent", e.UserAgent)
	}

	client := e.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, &APIError{Kind: KindNetworkFailure, Message: "request failed", Err: err}
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &APIError{Kind: KindNetworkFailure, Message: "read response", Err: err}
	}

	e.syncQuotaHints(resp.Header)

	return resp, body, nil
}

func (e *Executor) syncQuotaHints(header http.Header) {
	if e.Limiter == nil {
		return
	}

	minuteRemaining := headerInt(header, headerMinuteRemaining)
	dayRemaining := headerInt(header, headerDayRemaining)
	if minuteRemaining < 0 && dayRemaining < 0 {
		return
	}
	e.Limiter.SyncFromServer(minuteRemaining, dayRemaining)
}

// interpret maps the terminal response onto a Result or a classified error.
// The single permitted 401 retry has already happened by the time this runs.
func (e *Executor) interpret(resp *http.Response, body []byte) (*Result, error) {
	envelope := decodeErrorEnvelope(body)

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		if envelope != nil {
			return nil, &APIError{
				Kind:       KindValidation,
				StatusCode: resp.StatusCode,
				Message:    envelope.message(),
				Details:    envelope.details(),
			}
		}
		if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
			return &Result{StatusCode: resp.StatusCode, Header: resp.Header}, nil
		}
		return &Result{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	message := envelope.message()
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &APIError{
			Kind:              KindRateLimited,
			StatusCode:        resp.StatusCode,
			Message:           message,
			RetryAfterSeconds: retryAfterSeconds(resp.Header),
		}
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &APIError{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &APIError{Kind: KindForbidden, StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &APIError{Kind: KindNotFound, StatusCode: resp.StatusCode, Message: message}
	case resp.StatusCode == http.StatusUnprocessableEntity || (envelope != nil && resp.StatusCode < http.StatusInternalServerError):
		return nil, &APIError{
			Kind:       KindValidation,
			StatusCode: resp.StatusCode,
			Message:    message,
			Details:    envelope.details(),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &APIError{Kind: KindServerError, StatusCode: resp.StatusCode, Message: message}
	default:
		return nil, &APIError{Kind: KindUnknown, StatusCode: resp.StatusCode, Message: message}
	}
}

func classifyAuthError(err error) *APIError {
	var aerr *auth.AuthError
	if errors.As(err, &aerr) && aerr.Transport {
		return &APIError{Kind: KindNetworkFailure, Message: "token acquisition failed", Err: err}
	}
	return &APIError{Kind: KindUnauthorized, Message: "token acquisition failed", Err: err}
}

// retryAfterSeconds parses Retry-After as integer seconds, defaulting when
// the header is absent or malformed.
func retryAfterSeconds(header http.Header) int {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return defaultRetryAfterSeconds
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return defaultRetryAfterSeconds
	}
	return seconds
}

func headerInt(header http.Header, name string) int {
	value := strings.TrimSpace(header.Get(name))
	if value == "" {
		return -1
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return -1
	}
	return parsed
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
