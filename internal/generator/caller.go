package generator

import (
	"context"
	"fmt"
	"time"

	"plotform-planner/internal/llm"
	"plotform-planner/internal/shared"
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 1500 * time.Millisecond
)

// RetryObserver is notified before each backoff sleep with the number of the
// attempt that just failed, the computed wait, and the failure reason.
type RetryObserver func(stage string, attempt int, delay time.Duration, reason error)

// Caller wraps one round-trip to the generative service with bounded retry
// and exponential backoff. Transient failures are retried; credential and
// unclassified failures abort immediately.
type Caller struct {
	gen         llm.TextGenerator
	maxAttempts int
	baseDelay   time.Duration
	observer    RetryObserver
	sleep       func(ctx context.Context, d time.Duration) error
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

// WithMaxAttempts overrides the total number of tries.
func WithMaxAttempts(n int) CallerOption {
	return func(c *Caller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides the first backoff delay.
func WithBaseDelay(d time.Duration) CallerOption {
	return func(c *Caller) {
		if d > 0 {
			c.baseDelay = d
		}
	}
}

// WithObserver registers a retry observer.
func WithObserver(obs RetryObserver) CallerOption {
	return func(c *Caller) {
		c.observer = obs
	}
}

// WithSleep replaces the backoff sleep. Tests use this to observe the
// schedule without waiting.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) CallerOption {
	return func(c *Caller) {
		c.sleep = sleep
	}
}

// NewCaller creates a Caller around a text generator.
func NewCaller(gen llm.TextGenerator, opts ...CallerOption) *Caller {
	c := &Caller{
		gen:         gen,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallJSON sends one prompt, extracts the first JSON block from the raw
// response, and unmarshals it into target. The stage name is carried into
// errors and observer notifications.
func (c *Caller) CallJSON(ctx context.Context, stage, prompt string, target any) (shared.TokenUsage, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		resp, err := c.gen.GenerateContent(ctx, prompt)
		if err == nil {
			if parseErr := parseJSONResponse(resp.Content, target); parseErr != nil {
				return resp.Usage, &StageError{
					Stage:   stage,
					Kind:    KindShape,
					Message: fmt.Sprintf("service returned an unparseable response: %v", parseErr),
					Err:     parseErr,
				}
			}
			return resp.Usage, nil
		}

		if ctx.Err() != nil {
			return shared.TokenUsage{}, context.Cause(ctx)
		}

		switch classifyError(err) {
		case KindCredential:
			return shared.TokenUsage{}, &StageError{
				Stage:   stage,
				Kind:    KindCredential,
				Message: "invalid credentials",
				Err:     err,
			}
		case KindTransport:
			lastErr = err
		default:
			return shared.TokenUsage{}, &StageError{
				Stage:   stage,
				Kind:    KindUnknown,
				Message: fmt.Sprintf("unexpected error: %v", err),
				Err:     err,
			}
		}

		if attempt == c.maxAttempts {
			break
		}

		delay := c.baseDelay * (1 << (attempt - 1))
		if c.observer != nil {
			c.observer(stage, attempt, delay, lastErr)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return shared.TokenUsage{}, err
		}
	}

	return shared.TokenUsage{}, &StageError{
		Stage:   stage,
		Kind:    KindTransport,
		Message: fmt.Sprintf("service overloaded after %d attempts", c.maxAttempts),
		Err:     lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
