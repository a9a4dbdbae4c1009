package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrAttemptsExhausted wraps the last error once every attempt failed
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	// ErrContextCanceled is returned when ctx ends between attempts
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Config contains retry configuration
type Config struct {
	// Attempts is the total number of tries including the first one
	Attempts int
	// InitialInterval is the first backoff wait
	InitialInterval time.Duration
	// MaxInterval caps the backoff wait
	MaxInterval time.Duration
	// Multiplier grows the interval after each attempt
	Multiplier float64
	// JitterFactor adds +/- this fraction of randomness to each wait
	JitterFactor float64
	// RetryIf decides whether an error is worth another attempt. Nil retries
	// everything except Permanent errors.
	RetryIf func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns exponential backoff tuned for in-request store calls:
// 5 attempts, 10ms doubling up to 500ms
func DefaultConfig() *Config {
	return &Config{
		Attempts:        5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.2,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError wraps an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks an error as not retryable
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryableError wraps an error that should be retried even when RetryIf
// would reject it
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable marks an error as retryable
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Result describes a finished retry loop
type Result struct {
	Err           error
	Attempts      int
	TotalDuration time.Duration
	LastError     error
}

// Retrier runs operations with exponential backoff
type Retrier struct {
	config Config
}

// New creates a Retrier, filling zero values from DefaultConfig
func New(config *Config) *Retrier {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	c := *config
	if c.Attempts < 1 {
		c.Attempts = def.Attempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	c.JitterFactor = math.Max(0, math.Min(1, c.JitterFactor))
	return &Retrier{config: c}
}

// Do executes op until it succeeds, fails permanently, runs out of attempts
// or ctx ends. On exhaustion Result.Err wraps both ErrAttemptsExhausted and
// the last error.
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	result := &Result{}

	for attempt := 1; attempt <= r.config.Attempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			return r.finish(result, start, fmt.Errorf("%w: %w", ErrContextCanceled, ctx.Err()))
		}

		err := op(ctx)
		if err == nil {
			return r.finish(result, start, nil)
		}
		result.LastError = err

		if !r.shouldRetry(err) {
			var perm *PermanentError
			if errors.As(err, &perm) {
				err = perm.Err
			}
			result.LastError = err
			return r.finish(result, start, err)
		}

		if attempt == r.config.Attempts {
			break
		}

		wait := r.interval(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return r.finish(result, start, fmt.Errorf("%w: %w", ErrContextCanceled, ctx.Err()))
		case <-timer.C:
		}
	}

	return r.finish(result, start, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, result.Attempts, result.LastError))
}

func (r *Retrier) finish(result *Result, start time.Time, err error) *Result {
	result.Err = err
	result.TotalDuration = time.Since(start)
	return result
}

func (r *Retrier) shouldRetry(err error) bool {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return true
}

// interval returns the wait after the given (1-based) attempt
func (r *Retrier) interval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval <= 0 {
		interval = float64(r.config.InitialInterval)
	}
	return time.Duration(interval)
}

// Run is a convenience wrapper returning only the final error
func Run(ctx context.Context, config *Config, op Operation) error {
	return New(config).Do(ctx, op).Err
}
