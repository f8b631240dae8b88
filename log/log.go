package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

var level atomic.Int32

func init() {
	level.Store(int32(log.InfoLevel))
}

// SetLevel changes the level used by every logger created afterwards.
// Unknown names leave the current level untouched and return an error.
func SetLevel(name string) error {
	l, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	level.Store(int32(l))
	return nil
}

func NewHandler(name string) slog.Handler {
	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           log.Level(level.Load()),
	})
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

func NewContext(ctx context.Context, name string) context.Context {
	return IntoContext(ctx, New(name))
}

type ctxKey struct{}

// IntoContext adds a logger to a context. Use FromContext to
// pull the logger out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns a logger from a context.Context;
// if the passed context is nil or carries no logger, we return
// the default slog logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}

	return slog.Default()
}

// SubLogger derives a new logger from an existing one by appending a suffix to its prefix.
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	if base == nil {
		return New(suffix)
	}

	// try to get the underlying charmbracelet logger
	if cl, ok := base.Handler().(*log.Logger); ok {
		prefix := cl.GetPrefix()
		if prefix != "" {
			prefix = prefix + "/" + suffix
		} else {
			prefix = suffix
		}
		return slog.New(NewHandler(prefix))
	}

	// unknown handler (tests, discard loggers): keep it and tag the component
	return base.With("component", suffix)
}
