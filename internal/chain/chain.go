// Package chain runs ordered provider attempts for one data kind until one
// of them returns valid data.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"stockpulse/internal/domain"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attempt is one provider in a chain.
type Attempt[T any] struct {
	Provider string
	Priority int
	Call     func(ctx context.Context) (T, error)
}

// Spec describes a chain execution. Valid rejects results that are empty
// or internally inconsistent; a nil Valid accepts everything.
type Spec[T any] struct {
	Kind    domain.DataKind
	Timeout time.Duration
	Valid   func(T) error
}

// Result is the accepted value plus the failures that preceded it.
type Result[T any] struct {
	Value    T
	Provider string
	Failures []domain.AttemptFailure
}

// Observer is told the outcome of every attempt.
type Observer interface {
	FetchAttempt(kind, provider, outcome string)
}

// Runner carries the logging and tracing shared by all chains.
type Runner struct {
	tracer   trace.Tracer
	log      zerolog.Logger
	observer Observer
}

func NewRunner(tracer trace.Tracer, log zerolog.Logger, observer Observer) *Runner {
	return &Runner{
		tracer:   tracer,
		log:      log.With().Str("component", "chain").Logger(),
		observer: observer,
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// Execute tries attempts in priority order. It returns the first valid
// result, a *domain.ExhaustedError when every attempt failed, or the
// caller's context error when ctx ends first.
func Execute[T any](ctx context.Context, r *Runner, spec Spec[T], attempts []Attempt[T]) (Result[T], error) {
	ctx, span := r.tracer.Start(ctx, "chain.execute")
	defer span.End()
	span.SetAttributes(attribute.String("chain.kind", string(spec.Kind)))

	ordered := make([]Attempt[T], len(attempts))
	copy(ordered, attempts)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	var res Result[T]
	for _, a := range ordered {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return res, err
		}

		v, err := runAttempt(ctx, spec, a)
		if err == nil && spec.Valid != nil {
			if verr := spec.Valid(v); verr != nil {
				err = fmt.Errorf("invalid result: %w", verr)
			}
		}
		if err == nil {
			r.observe(spec.Kind, a.Provider, "success")
			span.SetAttributes(attribute.String("chain.provider", a.Provider))
			res.Value = v
			res.Provider = a.Provider
			return res, nil
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, ctx.Err().Error())
			return res, ctx.Err()
		}

		status := "error"
		if errors.Is(err, domain.ErrCapabilityTimeout) {
			status = "timeout"
		}
		r.observe(spec.Kind, a.Provider, status)
		r.log.Warn().
			Str("kind", string(spec.Kind)).
			Str("provider", a.Provider).
			Int("priority", a.Priority).
			Err(err).
			Msg("fetch attempt failed")
		res.Failures = append(res.Failures, domain.AttemptFailure{
			Provider: a.Provider,
			Priority: a.Priority,
			Reason:   err.Error(),
			Err:      &domain.ProviderError{Provider: a.Provider, Kind: spec.Kind, Err: err},
		})
	}

	exhausted := &domain.ExhaustedError{Kind: spec.Kind, Failures: res.Failures}
	span.SetStatus(codes.Error, exhausted.Error())
	return res, exhausted
}

// runAttempt runs one call under the chain timeout. The call runs in its own
// goroutine so that a capability ignoring ctx cannot hold the chain; its
// late result is discarded.
func runAttempt[T any](ctx context.Context, spec Spec[T], a Attempt[T]) (T, error) {
	var zero T
	actx := ctx
	cancel := context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{err: fmt.Errorf("provider panic: %v", p)}
			}
		}()
		v, err := a.Call(actx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %v", domain.ErrCapabilityTimeout, spec.Timeout, out.err)
		}
		return out.value, out.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", domain.ErrCapabilityTimeout, spec.Timeout)
	}
}

func (r *Runner) observe(kind domain.DataKind, provider, outcome string) {
	if r.observer != nil {
		r.observer.FetchAttempt(string(kind), provider, outcome)
	}
}
