package log

import (
	"context"
	"log/slog"
	"net/http"
	"os"
)

var (
	defaultLogLevel slog.LevelVar
	defaultLogger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     &defaultLogLevel,
	})).With(slog.String("service", "pvforecast"))
)

func init() {
	defaultLogLevel.Set(slog.LevelInfo)
}

type contextKey struct{}

var loggerKey = contextKey{}

// Ctx returns the logger stored in ctx, or the process-wide default.
func Ctx(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

// With returns a new context with the given logger.
func With(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Component tags every record logged through the returned context with the
// name of the forecast component producing it.
func Component(ctx context.Context, name string) context.Context {
	return With(ctx, Ctx(ctx).With(slog.String("component", name)))
}

// Request tags the logger with the method and path of r.
func Request(ctx context.Context, r *http.Request) context.Context {
	return With(ctx, Ctx(ctx).With(
		slog.String("reqMethod", r.Method),
		slog.String("reqPath", r.URL.Path),
	))
}

// SetDefaultLogLevel changes the level of the default logger at runtime.
func SetDefaultLogLevel(level slog.Level) {
	defaultLogLevel.Set(level)
}
