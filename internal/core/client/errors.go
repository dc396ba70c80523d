package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind tags an APIError with one taxonomy entry. The calling layer keys
// user-facing behavior (messaging, back-off timing) on the kind; only
// Unauthorized is ever retried inside the executor, and only once.
type ErrorKind string

const (
	KindRateLimited    ErrorKind = "rate_limited"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindForbidden      ErrorKind = "forbidden"
	KindNotFound       ErrorKind = "not_found"
	KindValidation     ErrorKind = "validation"
	KindServerError    ErrorKind = "server_error"
	KindNetworkFailure ErrorKind = "network_failure"
	KindUnknown        ErrorKind = "unknown"
)

// ValidationDetail is one field-level problem from an upstream error body.
type ValidationDetail struct {
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

// APIError is the classified failure of one Execute call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string

	// RetryAfterSeconds is set for KindRateLimited only.
	RetryAfterSeconds int

	// Details is set for KindValidation only.
	Details []ValidationDetail

	Err error
}

func (e *APIError) Error() string {
	if e == nil {
		return "api error"
	}

	var b strings.Builder
	b.WriteString("upstream request failed: ")
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Kind == KindRateLimited {
		fmt.Fprintf(&b, " (retry after %ds)", e.RetryAfterSeconds)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr, true
	}
	return nil, false
}
