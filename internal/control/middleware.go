package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// ErrPanicRecovered indicates a Handler panicked and was recovered.
var ErrPanicRecovered = errors.New("panic recovered in control handler")

// WithLogging wraps handler to log every call with its operation,
// duration, and error (if any): Info on success, Warn on error — the
// re-expression of the teacher's LoggingInterceptor for a plain
// Handler instead of a ConnectRPC interceptor.
func WithLogging(logger *slog.Logger, op Operation, handler Handler) Handler {
	return func(body []byte) ([]byte, error) {
		start := time.Now()
		resp, err := handler(body)
		duration := time.Since(start)

		attrs := []slog.Attr{
			slog.Int("operation", int(op)),
			slog.Duration("duration", duration),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			logger.LogAttrs(context.Background(), slog.LevelWarn, "control request completed with error", attrs...)
		} else {
			logger.LogAttrs(context.Background(), slog.LevelInfo, "control request completed", attrs...)
		}

		return resp, err
	}
}

// WithRecovery wraps handler to recover from panics, logging the panic
// value and stack trace at Error level and surfacing ErrPanicRecovered
// to the caller instead of crashing the dispatch loop — the
// re-expression of the teacher's RecoveryInterceptor for a plain
// Handler.
func WithRecovery(logger *slog.Logger, op Operation, handler Handler) Handler {
	return func(body []byte) (resp []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)

				logger.Error("panic recovered in control handler",
					slog.Int("operation", int(op)),
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])),
				)

				retErr = fmt.Errorf("operation %d: %w", op, ErrPanicRecovered)
			}
		}()

		return handler(body)
	}
}
