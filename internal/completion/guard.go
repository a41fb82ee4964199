package completion

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/valpere/aclarador/internal/logger"
)

// GuardConfig holds retry, circuit breaker and throttling settings.
type GuardConfig struct {
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff" json:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" json:"backoff_multiplier"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout"`

	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout" json:"open_timeout"`

	MaxConcurrent int     `mapstructure:"max_concurrent" json:"max_concurrent"`
	RatePerSecond float64 `mapstructure:"rate_per_second" json:"rate_per_second"`
	Burst         int     `mapstructure:"burst" json:"burst"`
}

// DefaultGuardConfig returns the settings used for zero fields.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		AttemptTimeout:    60 * time.Second,
		FailureThreshold:  5,
		SuccessThreshold:  2,
		OpenTimeout:       30 * time.Second,
		MaxConcurrent:     3,
		RatePerSecond:     2,
		Burst:             2,
	}
}

func (c GuardConfig) withDefaults() GuardConfig {
	d := DefaultGuardConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	return c
}

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker fails fast after repeated transient failures and lets a
// trial call through after a cool-down.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failures         int
	successes        int
	lastFailure      time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
	}
}

// Allow returns ErrCircuitOpen while the breaker is open and its cool-down
// has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if time.Since(cb.lastFailure) > cb.openTimeout {
		cb.transition(CircuitHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess closes a half-open breaker after enough successes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure opens the breaker at the failure threshold, or at once when
// half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transition(CircuitOpen)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// must be called with cb.mu held
func (cb *CircuitBreaker) transition(to CircuitState) {
	logger.Debug("completion circuit breaker %s -> %s (failures=%d)", cb.state, to, cb.failures)
	cb.state = to
	cb.successes = 0
	if to == CircuitClosed {
		cb.failures = 0
	}
}

// Guard wraps a Service with retries, a circuit breaker, a concurrency bound
// and a token-bucket rate limit.
type Guard struct {
	inner   Service
	cfg     GuardConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewGuard wraps svc. Zero config fields take DefaultGuardConfig values; a
// negative MaxConcurrent or RatePerSecond disables that limit.
func NewGuard(svc Service, cfg GuardConfig) *Guard {
	cfg = cfg.withDefaults()
	g := &Guard{
		inner:   svc,
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout),
		sleep:   sleepCtx,
	}
	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return g
}

// Name is the wrapped service's name, so cache keys stay per backend.
func (g *Guard) Name() string {
	return g.inner.Name()
}

// Breaker exposes the circuit breaker for status reporting.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Complete calls the wrapped service, retrying transient failures with
// exponential backoff.
func (g *Guard) Complete(ctx context.Context, prompt string) (string, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return "", unavailable(g.Name(), err)
		}
		defer g.sem.Release(1)
	}

	var lastErr error
	backoff := g.cfg.InitialBackoff
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if err := g.breaker.Allow(); err != nil {
			return "", unavailable(g.Name(), err)
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", unavailable(g.Name(), err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		text, err := g.inner.Complete(attemptCtx, prompt)
		cancel()
		if err == nil {
			g.breaker.RecordSuccess()
			if attempt > 0 {
				logger.Debug("completion %s succeeded after %d retries", g.Name(), attempt)
			}
			return text, nil
		}

		lastErr = err
		if !isRetriableError(err) {
			logger.Debug("completion %s failed with non-retriable error: %v", g.Name(), err)
			break
		}
		g.breaker.RecordFailure()

		if attempt == g.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		logger.Debug("completion %s failed (attempt %d/%d), retrying in %v: %v",
			g.Name(), attempt+1, g.cfg.MaxRetries+1, backoff, err)
		if err := g.sleep(ctx, backoff); err != nil {
			break
		}
		backoff = min(time.Duration(float64(backoff)*g.cfg.BackoffMultiplier), g.cfg.MaxBackoff)
	}

	if errors.Is(lastErr, ErrUnavailable) {
		return "", lastErr
	}
	return "", unavailable(g.Name(), lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isRetriableError reports whether err is transient: timeouts, network
// failures, rate limits and server errors.
func isRetriableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == 429 || status.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "500", "502", "503", "504", "529", "overloaded",
		"connection refused", "connection reset", "timeout", "temporary failure"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
