// Package provider defines the capabilities sleuth consumes from external
// services: document search and text generation. Concrete adapters live in
// subpackages; the engine depends only on these interfaces.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Document is one search hit.
type Document struct {
	URL       string     `json:"url"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Body      string     `json:"body,omitempty"` // may contain markup
	Published *time.Time `json:"published,omitempty"`
}

// SearchFilters narrows a search.
type SearchFilters struct {
	Domains    []string
	Since      *time.Time
	Until      *time.Time
	MaxResults int
}

// Searcher finds documents.
type Searcher interface {
	Search(ctx context.Context, query string, filters SearchFilters) ([]Document, error)
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindRateLimited        ErrorKind = "rate_limited"
	KindUnavailable        ErrorKind = "unavailable"
	KindInvalidCredentials ErrorKind = "invalid_credentials"
)

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindUnavailable
}

// NewError builds a classified error.
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// FromStatus classifies an HTTP status code. It returns nil for 2xx.
func FromStatus(provider string, code int) *Error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("HTTP %d: %s", code, http.StatusText(code))
	switch {
	case code == http.StatusTooManyRequests:
		return NewError(provider, KindRateLimited, err)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return NewError(provider, KindInvalidCredentials, err)
	default:
		return NewError(provider, KindUnavailable, err)
	}
}

// AsError extracts a classified provider error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
