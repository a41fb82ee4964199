// Package completion talks to hosted and local language models that rewrite
// text on request. Every failure wraps ErrUnavailable so callers can fall back
// to heuristics without inspecting backend-specific errors.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks any failure to obtain a completion.
var ErrUnavailable = errors.New("completion service unavailable")

// Service returns a completion for a prompt.
type Service interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// UnavailableError carries the backend failure behind ErrUnavailable.
type UnavailableError struct {
	Service string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *UnavailableError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

func unavailable(service string, err error) error {
	return &UnavailableError{Service: service, Err: err}
}

// StatusError is a non-200 reply from an HTTP backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Config selects and configures a backend.
type Config struct {
	Provider string        `mapstructure:"provider" json:"provider"`
	Model    string        `mapstructure:"model" json:"model"`
	BaseURL  string        `mapstructure:"base_url" json:"base_url"`
	APIKey   string        `mapstructure:"api_key" json:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
	Guard    GuardConfig   `mapstructure:"guard" json:"guard"`
}

// New builds the configured backend wrapped in a Guard. An empty provider
// returns nil: units then run on heuristics only.
func New(cfg Config) (Service, error) {
	var svc Service
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "ollama":
		svc = NewOllama(cfg.Model, cfg.BaseURL, cfg.Timeout)
	case "openrouter":
		svc = NewOpenRouter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)
	case "anthropic":
		a, err := NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		svc = a
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	return NewGuard(svc, cfg.Guard), nil
}
