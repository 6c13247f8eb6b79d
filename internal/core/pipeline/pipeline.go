// Package pipeline runs submitted events through the rule engine and
// dispatches the resulting actions on a pool of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solatis/cascade/internal/dispatch"
	"github.com/solatis/cascade/internal/metrics"
	"github.com/solatis/cascade/internal/rules"
	"github.com/solatis/cascade/internal/tracing"
	"github.com/solatis/cascade/internal/types"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("event queue full")

	// ErrClosed is returned after Shutdown has started.
	ErrClosed = errors.New("pipeline closed")
)

// Config holds worker pool settings.
type Config struct {
	Workers   int
	QueueSize int
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 1024}
}

// Options controls a synchronous run.
type Options struct {
	// SkipActions evaluates rules but does not dispatch.
	SkipActions bool
}

// Result is the outcome of a synchronous run.
type Result struct {
	Processed *rules.ProcessedEvent
	// DispatchErr joins one *dispatch.DispatchError per failed action.
	DispatchErr error
}

// Pipeline owns the worker pool.
type Pipeline struct {
	engine     *rules.Engine
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan types.Event
	wg     sync.WaitGroup
}

// New starts cfg.Workers workers. m may be nil.
func New(cfg Config, engine *rules.Engine, dispatcher *dispatch.Dispatcher, m *metrics.Metrics, logger *slog.Logger) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 0 {
		return nil, fmt.Errorf("queue_size must not be negative, got %d", cfg.QueueSize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		engine:     engine,
		dispatcher: dispatcher,
		metrics:    m,
		tracer:     tracing.Tracer(),
		logger:     logger,
		queue:      make(chan types.Event, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("pipeline started", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return p, nil
}

// Engine returns the rule engine the pipeline runs.
func (p *Pipeline) Engine() *rules.Engine { return p.engine }

// Submit queues event for asynchronous processing. It never blocks.
func (p *Pipeline) Submit(event types.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped()
		return ErrClosed
	}
	select {
	case p.queue <- event:
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.queue))
		}
		return nil
	default:
		p.dropped()
		return ErrQueueFull
	}
}

// Process runs event inline on the caller's goroutine.
func (p *Pipeline) Process(ctx context.Context, event types.Event, opts Options) (*Result, error) {
	if err := validateEvent(event); err != nil {
		return nil, err
	}
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return p.run(ctx, event, opts), nil
}

func validateEvent(event types.Event) error {
	if event.Payload.Kind() != types.KindObject {
		return types.ErrPayloadNotObject
	}
	return nil
}

func (p *Pipeline) dropped() {
	if p.metrics != nil {
		p.metrics.IncDropped()
	}
}

func (p *Pipeline) worker(n int) {
	defer p.wg.Done()
	for event := range p.queue {
		if p.metrics != nil {
			p.metrics.SetQueueDepth(len(p.queue))
		}
		p.run(context.Background(), event, Options{})
	}
	p.logger.Debug("worker stopped", "worker", n)
}

func (p *Pipeline) run(ctx context.Context, event types.Event, opts Options) *Result {
	ctx, span := p.tracer.Start(ctx, "cascade.process", trace.WithAttributes(
		attribute.String("event.id", string(event.ID)),
		attribute.String("event.type", event.Type),
	))
	defer span.End()

	start := time.Now()
	processed := p.engine.Process(event)
	span.SetAttributes(
		attribute.Int64("ruleset.generation", int64(processed.Generation)),
		attribute.StringSlice("rules.matched", processed.Matched()),
		attribute.Int("dispatch.requests", len(processed.Requests)),
	)

	result := &Result{Processed: processed}
	if !opts.SkipActions && len(processed.Requests) > 0 {
		result.DispatchErr = p.dispatcher.Dispatch(ctx, processed.Requests)
		if result.DispatchErr != nil {
			span.RecordError(result.DispatchErr)
			span.SetStatus(codes.Error, "dispatch failed")
			p.logger.Warn("event dispatch incomplete",
				"event_id", event.ID, "failures", len(dispatch.Errors(result.DispatchErr)))
		}
	}

	if p.metrics != nil {
		p.metrics.ObserveProcessed(processed, time.Since(start))
	}
	p.logger.Debug("event processed",
		"event_id", event.ID, "type", event.Type, "generation", processed.Generation,
		"matched", processed.Matched(), "requests", len(processed.Requests))
	return result
}

// Shutdown stops accepting events, drains the queue, waits for the workers
// and then closes every executor. If ctx ends first, executors are still
// closed and ctx's error is returned.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var waitErr error
	select {
	case <-done:
		p.logger.Info("pipeline drained")
	case <-ctx.Done():
		waitErr = fmt.Errorf("pipeline drain: %w", ctx.Err())
		p.logger.Warn("pipeline drain interrupted", "error", ctx.Err())
	}

	closeErr := p.dispatcher.Registry().Close()
	return errors.Join(waitErr, closeErr)
}
