package client

import (
	"encoding/json"
	"strings"
)

// errorEnvelope is the JSON:API error document the upstream embeds in failed
// responses, and occasionally in 200-level ones. Its presence in a 2xx body
// marks a service-level failure that must not be surfaced as success.
type errorEnvelope struct {
	Errors []envelopeError `json:"errors"`
}

type envelopeError struct {
	Status string          `json:"status"`
	Title  string          `json:"title"`
	Detail string          `json:"detail"`
	Source *envelopeSource `json:"source,omitempty"`
}

type envelopeSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}

// decodeErrorEnvelope returns the parsed envelope when body is a JSON:API
// error document, nil otherwise.
func decodeErrorEnvelope(body []byte) *errorEnvelope {
	if len(body) == 0 {
		return nil
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	if len(envelope.Errors) == 0 {
		return nil
	}
	return &envelope
}

func (e *errorEnvelope) details() []ValidationDetail {
	if e == nil {
		return nil
	}

	details := make([]ValidationDetail, 0, len(e.Errors))
	for _, item := range e.Errors {
		detail := ValidationDetail{Detail: strings.TrimSpace(item.Detail)}
		if detail.Detail == "" {
			detail.Detail = strings.TrimSpace(item.Title)
		}
		if item.Source != nil {
			detail.Field = fieldFromSource(item.Source)
		}
		details = append(details, detail)
	}
	return details
}

func (e *errorEnvelope) message() string {
	if e == nil || len(e.Errors) == 0 {
		return ""
	}

	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		text := strings.TrimSpace(item.Detail)
		if text == "" {
			text = strings.TrimSpace(item.Title)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "; ")
}

// fieldFromSource maps a JSON pointer like /data/attributes/name to its final
// segment, or falls back to the query parameter name.
func fieldFromSource(source *envelopeSource) string {
	if source == nil {
		return ""
	}
	if pointer := strings.TrimSpace(source.Pointer); pointer != "" {
		segments := strings.Split(strings.Trim(pointer, "/"), "/")
		return segments[len(segments)-1]
	}
	return strings.TrimSpace(source.Parameter)
}
