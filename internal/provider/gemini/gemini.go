// Package gemini implements provider.Generator with Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"sleuth/internal/logging"
	"sleuth/internal/provider"
)

const providerName = "gemini"

// Config configures the generator.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Generator calls GenerateContent on a single model.
type Generator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// New creates a Generator.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, provider.NewError(providerName, provider.KindInvalidCredentials, errors.New("API key is required"))
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logging.API("Gemini generator ready (model=%s)", cfg.Model)
	return &Generator{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

// Generate returns the text of the first candidate.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "gemini.Generate")
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", classify(err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", provider.NewError(providerName, provider.KindUnavailable, errors.New("empty response"))
	}
	logging.APIDebug("Gemini returned %d chars", len(text))
	return text, nil
}

// classify maps GenAI API failures onto provider error kinds. Context
// errors pass through untouched.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == 0 {
		return provider.NewError(providerName, provider.KindUnavailable, err)
	}
	if code == http.StatusBadRequest && strings.Contains(strings.ToLower(err.Error()), "api key") {
		code = http.StatusUnauthorized
	}
	pe := provider.FromStatus(providerName, code)
	if pe == nil {
		pe = provider.NewError(providerName, provider.KindUnavailable, nil)
	}
	pe.Err = err
	logging.APIWarn("Gemini call failed: %v", pe)
	return pe
}
