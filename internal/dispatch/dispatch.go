// Package dispatch routes resolved actions to executors.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/solatis/cascade/internal/types"
)

var (
	ErrUnknownExecutor   = errors.New("unknown executor")
	ErrDuplicateExecutor = errors.New("executor already registered")
	ErrInvalidExecutorID = errors.New("invalid executor id")
)

// Executor performs the side effect of an action. Implementations must be
// safe for concurrent use; the pipeline calls Execute from every worker.
type Executor interface {
	Execute(ctx context.Context, payload types.Value) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, payload types.Value) error

func (f ExecutorFunc) Execute(ctx context.Context, payload types.Value) error {
	return f(ctx, payload)
}

// DispatchError reports a failed action.
type DispatchError struct {
	Rule        string
	ActionIndex int
	ExecutorID  string
	Err         error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("rule %q action %d (%s): %v", e.Rule, e.ActionIndex, e.ExecutorID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Registry maps executor ids to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under id.
func (r *Registry) Register(id string, ex Executor) error {
	if id == "" || ex == nil {
		return fmt.Errorf("%w: %q", ErrInvalidExecutorID, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.executors[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateExecutor, id)
	}
	r.executors[id] = ex
	return nil
}

// Lookup returns the executor registered under id.
func (r *Registry) Lookup(id string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, id)
	}
	return ex, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.executors))
	for id := range r.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every executor that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, id := range sortedKeys(r.executors) {
		if c, ok := r.executors[id].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close executor %q: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

func sortedKeys(m map[string]Executor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Observer receives the outcome of every executor call.
type Observer interface {
	ObserveDispatch(executorID string, err error, d time.Duration)
}

// Dispatcher runs dispatch requests against a registry.
type Dispatcher struct {
	registry *Registry
	observer Observer
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. observer may be nil.
func NewDispatcher(registry *Registry, observer Observer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, observer: observer, logger: logger}
}

// Registry returns the executor registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs requests in order. A failed action does not stop its
// siblings; the returned error joins one *DispatchError per failure.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []types.DispatchRequest) error {
	var errs []error
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			errs = append(errs, d.wrap(req, err))
			continue
		}
		if err := d.dispatchOne(ctx, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) dispatchOne(ctx context.Context, req types.DispatchRequest) error {
	ex, err := d.registry.Lookup(req.ExecutorID)
	if err != nil {
		d.logger.Error("dispatch failed", "rule", req.Rule, "action_index", req.ActionIndex,
			"executor", req.ExecutorID, "error", err)
		return d.wrap(req, err)
	}

	start := time.Now()
	err = ex.Execute(ctx, req.Payload)
	if d.observer != nil {
		d.observer.ObserveDispatch(req.ExecutorID, err, time.Since(start))
	}
	if err != nil {
		d.logger.Error("dispatch failed", "rule", req.Rule, "action_index", req.ActionIndex,
			"executor", req.ExecutorID, "error", err)
		return d.wrap(req, err)
	}
	return nil
}

func (d *Dispatcher) wrap(req types.DispatchRequest, err error) *DispatchError {
	return &DispatchError{
		Rule:        req.Rule,
		ActionIndex: req.ActionIndex,
		ExecutorID:  req.ExecutorID,
		Err:         err,
	}
}

// Errors flattens the result of Dispatch into its individual failures.
func Errors(err error) []*DispatchError {
	if err == nil {
		return nil
	}
	var out []*DispatchError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Errors(e)...)
		}
		return out
	}
	var de *DispatchError
	if errors.As(err, &de) {
		out = append(out, de)
	}
	return out
}
