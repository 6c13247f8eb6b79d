// Package logger implements an executor that writes action payloads to a
// structured logger.
package logger

import (
	"context"
	"log/slog"

	"github.com/solatis/cascade/internal/logging"
	"github.com/solatis/cascade/internal/types"
)

// ID is the executor id rules use to reach the logging executor.
const ID = "logger"

// Executor logs every payload at a fixed level.
type Executor struct {
	logger *slog.Logger
	level  slog.Level
}

// New creates a logging executor. A nil logger uses slog.Default.
func New(logger *slog.Logger, level slog.Level) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logging.WithExecutor(logger, ID), level: level}
}

// Execute logs payload. Object fields become attributes; any other value is
// logged under "payload".
func (e *Executor) Execute(ctx context.Context, payload types.Value) error {
	if payload.Kind() != types.KindObject {
		e.logger.Log(ctx, e.level, "action", "payload", payload.ToAny())
		return nil
	}
	keys := payload.Keys()
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		v, _ := payload.Get(k)
		attrs = append(attrs, slog.Any(k, v.ToAny()))
	}
	e.logger.Log(ctx, e.level, "action", attrs...)
	return nil
}
