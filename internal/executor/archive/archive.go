// Package archive implements the archive executor: it appends action
// payloads to files whose paths are rendered from payload fields, keeping
// a bounded, expiring cache of open handles.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solatis/cascade/internal/logging"
	"github.com/solatis/cascade/internal/types"
)

// ID is the executor id rules use to reach the archive executor.
const ID = "archive"

// Option configures an Executor.
type Option func(*Executor)

// WithClock replaces time.Now for ttl bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithObserver reports cache activity, typically to *metrics.Metrics.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// Executor writes payload records to files below a base path.
type Executor struct {
	cfg      Config
	resolver *pathResolver
	cache    *handleCache

	now      func() time.Time
	observer Observer
	logger   *slog.Logger

	stop      chan struct{}
	sweeping  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and starts the background sweeper when
// cfg.SweepInterval is positive.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	resolver, err := newPathResolver(cfg)
	if err != nil {
		return nil, err
	}

	e := &Executor{
		cfg:      cfg,
		resolver: resolver,
		now:      time.Now,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithExecutor(e.logger, ID)
	e.cache = newHandleCache(cfg.CacheCapacity, cfg.CacheTTL, e.now, e.observer, e.logger)

	if cfg.SweepInterval > 0 {
		e.sweeping.Add(1)
		go e.sweepLoop(cfg.SweepInterval)
	}
	return e, nil
}

// Execute appends one record for payload.
func (e *Executor) Execute(ctx context.Context, payload types.Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if payload.Kind() != types.KindObject {
		return fmt.Errorf("archive: %w", types.ErrPayloadNotObject)
	}

	path, err := e.ResolvePath(payload)
	if err != nil {
		return err
	}

	record, err := e.record(payload)
	if err != nil {
		return err
	}

	h, err := e.cache.acquire(path)
	if err != nil {
		return err
	}
	defer e.cache.release(h)
	return h.write(record)
}

// ResolvePath returns the absolute file path payload would be written to.
func (e *Executor) ResolvePath(payload types.Value) (string, error) {
	path, missing, err := e.resolver.resolve(payload)
	if len(missing) > 0 {
		e.logger.Warn("archive path placeholder unresolved, using default path", "gaps", missing)
	}
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return path, nil
}

func (e *Executor) record(payload types.Value) ([]byte, error) {
	v := payload
	if e.cfg.EventKey != "" {
		field, ok := payload.Get(e.cfg.EventKey)
		if !ok {
			return nil, fmt.Errorf("archive: %w: %q", ErrMissingEvent, e.cfg.EventKey)
		}
		v = field
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("archive: serialize record: %w", err)
	}
	return append(data, e.cfg.Separator...), nil
}

// Sweep closes idle handles whose ttl has elapsed and returns how many
// were closed.
func (e *Executor) Sweep() int {
	return e.cache.sweep()
}

// OpenHandles returns the number of cached handles.
func (e *Executor) OpenHandles() int {
	return e.cache.len()
}

func (e *Executor) sweepLoop(interval time.Duration) {
	defer e.sweeping.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.cache.sweep(); n > 0 {
				e.logger.Debug("expired archive handles closed", "count", n)
			}
		}
	}
}

// Close stops the sweeper, waits for in-flight writes and closes every
// handle. Writes after Close fail with ErrExecutorClosed.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.stop)
		e.sweeping.Wait()
		e.closeErr = e.cache.close()
		e.logger.Info("archive executor closed")
	})
	return e.closeErr
}
