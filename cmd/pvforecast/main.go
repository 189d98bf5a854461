package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/metrics"
	"github.com/raterudder/pvforecast/pkg/ml"
	"github.com/raterudder/pvforecast/pkg/sensors"
	"github.com/raterudder/pvforecast/pkg/server"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/weather"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	w := weather.Configured()
	src := sensors.Configured()
	p := ml.Configured()

	mc, err := metrics.NewCollector()
	if err != nil {
		panic(fmt.Errorf("failed to create metrics collector: %w", err))
	}
	eh := errorhandler.New(errorhandler.WithRecorder(mc))

	// init server
	srv := server.Configured(s, w, src, p, eh, mc)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
