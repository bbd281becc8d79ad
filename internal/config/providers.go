package config

import (
	"time"

	"sleuth/internal/provider/gemini"
	"sleuth/internal/provider/web"
)

// ProvidersSection configures the external collaborators.
type ProvidersSection struct {
	Gemini GeminiSection `yaml:"gemini"`
	Web    WebSection    `yaml:"web"`
}

// GeminiSection configures the generation provider.
type GeminiSection struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// WebSection configures the search provider.
type WebSection struct {
	Endpoint  string `yaml:"endpoint"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

// HasGenerator reports whether a Gemini key is configured.
func (c *Config) HasGenerator() bool {
	return c.Providers.Gemini.APIKey != ""
}

// GetGeminiTimeout returns the per-call generation timeout.
func (c *Config) GetGeminiTimeout() time.Duration {
	return parseDuration(c.Providers.Gemini.Timeout, 60*time.Second)
}

// GetWebTimeout returns the search HTTP timeout.
func (c *Config) GetWebTimeout() time.Duration {
	return parseDuration(c.Providers.Web.Timeout, 30*time.Second)
}

// GeminiConfig converts the gemini section.
func (c *Config) GeminiConfig() gemini.Config {
	return gemini.Config{
		APIKey:  c.Providers.Gemini.APIKey,
		Model:   c.Providers.Gemini.Model,
		Timeout: c.GetGeminiTimeout(),
	}
}

// WebConfig converts the web section.
func (c *Config) WebConfig() web.Config {
	return web.Config{
		Endpoint:  c.Providers.Web.Endpoint,
		UserAgent: c.Providers.Web.UserAgent,
		Timeout:   c.GetWebTimeout(),
	}
}
