package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/apilens/apilens/internal/core/client"
	apperrors "github.com/apilens/apilens/internal/errors"
)

// CallRequest is the body accepted by the passthrough endpoint. Query is a
// flat map; repeated parameters are not supported through this surface.
type CallRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query,omitempty"`
	Body   json.RawMessage   `json:"body,omitempty"`
}

// CallResponse wraps the upstream result for the caller.
type CallResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// CallHandler proxies a single upstream request through the executor, so the
// caller inherits admission gating, token handling, and error classification.
type CallHandler struct {
	Executor *client.Executor
}

func (h *CallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Executor == nil {
		respondWithError(w, r, apperrors.NewInternalError("upstream executor not configured"))
		return
	}

	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("request body is not valid JSON"))
		return
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		respondWithError(w, r, apperrors.NewInvalidInputError("method "+method+" is not supported"))
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		respondWithError(w, r, apperrors.NewInvalidInputError("path is required"))
		return
	}

	var query url.Values
	if len(req.Query) > 0 {
		query = url.Values{}
		for key, value := range req.Query {
			query.Set(key, value)
		}
	}

	var body any
	if len(req.Body) > 0 {
		body = req.Body
	}

	result, err := h.Executor.Execute(r.Context(), client.Request{
		Method: method,
		Path:   req.Path,
		Query:  query,
		Body:   body,
	})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	response := CallResponse{
		StatusCode: result.StatusCode,
		Body:       result.Body,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
