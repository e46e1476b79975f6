// Package access runs calls against the remote store with bounded retries of
// transient failures and tracks which operations are in flight.
package access

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/servicebook/libs/apperr"
	otelx "github.com/md-rashed-zaman/servicebook/libs/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrDiscarded is returned when the caller stopped caring before the call settled.
// The operation's own result, success or failure, is dropped.
var ErrDiscarded = errors.New("access: caller is gone, result discarded")

type Options struct {
	MaxAttempts int           `env:"STORE_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay   time.Duration `env:"STORE_RETRY_BASE" env-default:"200ms"`
}

type Layer struct {
	logger *slog.Logger
	opts   Options
	tracer trace.Tracer

	mu       sync.Mutex
	inflight map[string]int
}

func New(logger *slog.Logger, opts Options) *Layer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = 0
	}
	return &Layer{
		logger:   logger,
		opts:     opts,
		tracer:   otelx.Tracer("access"),
		inflight: map[string]int{},
	}
}

type callConfig struct {
	maxAttempts int
	alive       func() bool
}

type CallOption func(*callConfig)

func WithMaxAttempts(n int) CallOption {
	return func(c *callConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLiveness adds a caller check on top of ctx; once it reports false the
// result is discarded.
func WithLiveness(alive func() bool) CallOption {
	return func(c *callConfig) { c.alive = alive }
}

func (c callConfig) live(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return c.alive == nil || c.alive()
}

// Do runs op under label. Only apperr.KindTransient failures are retried, after
// BaseDelay*attempt. Exhausting the attempts returns the last error.
func Do[T any](ctx context.Context, l *Layer, label string, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	cfg := callConfig{maxAttempts: l.opts.MaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}

	var zero T
	l.begin(label)
	defer l.end(label)

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		v, err := runAttempt(ctx, l, label, attempt, op)
		if !cfg.live(ctx) {
			l.logger.Debug("store call discarded", "label", label, "attempt", attempt)
			return zero, ErrDiscarded
		}
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !apperr.IsTransient(err) || attempt == cfg.maxAttempts {
			break
		}

		delay := l.opts.BaseDelay * time.Duration(attempt)
		l.logger.Warn("store call failed, retrying", "label", label, "attempt", attempt, "delay", delay, "err", err)
		if !sleep(ctx, delay) || !cfg.live(ctx) {
			return zero, ErrDiscarded
		}
	}
	return zero, lastErr
}

// runAttempt wraps one invocation of op in an access.attempt span.
func runAttempt[T any](ctx context.Context, l *Layer, label string, n int, op func(context.Context) (T, error)) (T, error) {
	ctx, span := l.tracer.Start(ctx, "access.attempt", trace.WithAttributes(
		attribute.String("access.label", label),
		attribute.Int("access.attempt", n),
	))
	defer span.End()

	v, err := op(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	return v, err
}

// sleep waits for d or until ctx is done, reporting whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (l *Layer) begin(label string) {
	l.mu.Lock()
	l.inflight[label]++
	l.mu.Unlock()
}

func (l *Layer) end(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight[label] <= 1 {
		delete(l.inflight, label)
		return
	}
	l.inflight[label]--
}

// InProgress reports whether a call under label has started and not yet settled.
func (l *Layer) InProgress(label string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inflight[label]
	return ok
}

// Active lists the labels currently in flight, sorted.
func (l *Layer) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.inflight))
	for label := range l.inflight {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
