package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/pvforecast/pkg/errorhandler"
	"github.com/raterudder/pvforecast/pkg/log"
	"github.com/raterudder/pvforecast/pkg/metrics"
	"github.com/raterudder/pvforecast/pkg/ml"
	"github.com/raterudder/pvforecast/pkg/sensors"
	"github.com/raterudder/pvforecast/pkg/storage"
	"github.com/raterudder/pvforecast/pkg/weather"
)

// DefaultTrainingWindow is how far back training samples are read.
const DefaultTrainingWindow = 60 * 24 * time.Hour

type contextKey string

const emailContextKey contextKey = "email"

// tokenVerifier validates an ID token and returns its email claim.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server handles the HTTP API of the forecast service. It ties together the
// weather provider, the live sensors, the model and storage.
type Server struct {
	storage   storage.Database
	weather   weather.Provider
	sensors   sensors.Source
	predictor *ml.Predictor
	errors    *errorhandler.Service
	metrics   *metrics.Collector
	now       func() time.Time

	listenAddr string
	httpServer *http.Server

	allowedEmails  []string
	verifyToken    tokenVerifier
	bypassAuth     bool
	trainingWindow time.Duration
	release        string
	serverName     string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(
	db storage.Database,
	wp weather.Provider,
	src sensors.Source,
	predictor *ml.Predictor,
	eh *errorhandler.Service,
	mc *metrics.Collector,
) *Server {
	srv := &Server{
		storage:    db,
		weather:    wp,
		sensors:    src,
		predictor:  predictor,
		errors:     eh,
		metrics:    mc,
		now:        time.Now,
		serverName: "pvforecast",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateAudience := lflag.String("update-audience", "", "audience to validate in ID tokens sent to write endpoints")
	updateEmails := lflag.String("update-email", "", "comma-delimited list of token emails allowed to call write endpoints")
	bypassAuth := lflag.Bool("bypass-auth", false, "Disable authentication of write endpoints (local development only)")
	trainingWindow := lflag.Duration("training-window", DefaultTrainingWindow, "How far back hourly samples are used for training")
	release := lflag.String("release", "production", "Release environment (production or staging)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.bypassAuth = *bypassAuth
		srv.trainingWindow = *trainingWindow
		srv.release = *release
		for _, email := range strings.Split(*updateEmails, ",") {
			if email = strings.TrimSpace(email); email != "" {
				srv.allowedEmails = append(srv.allowedEmails, email)
			}
		}

		if *updateAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifyToken = oidcEmailVerifier(provider.Verifier(&oidc.Config{ClientID: *updateAudience}))
		} else if !srv.bypassAuth {
			log.Ctx(context.Background()).Warn("update-audience not set, write endpoints will reject every request")
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/update", s.handleUpdate)
	apiMux.HandleFunc("POST /api/verify", s.handleVerify)
	apiMux.HandleFunc("POST /api/train", s.handleTrain)
	apiMux.HandleFunc("POST /api/samples", s.handleSamples)
	apiMux.HandleFunc("GET /api/forecast", s.handleForecast)
	apiMux.HandleFunc("GET /api/forecast/nexthour", s.handleNextHour)
	apiMux.HandleFunc("GET /api/history/forecasts", s.handleHistoryForecasts)
	apiMux.HandleFunc("GET /api/history/production", s.handleHistoryProduction)
	apiMux.HandleFunc("GET /api/settings", s.handleGetSettings)
	apiMux.HandleFunc("POST /api/settings", s.handleUpdateSettings)
	apiMux.HandleFunc("GET /api/errors", s.handleErrors)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)

	var h http.Handler = gziphandler.GzipHandler(securityHeadersMiddleware(mux))
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(h)
	}
	return s.revisionMiddleware(h)
}

// Run loads the persisted model, then starts the HTTP server and blocks until
// the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.LoadModel(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load model state", slog.Any("error", err))
	}

	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr), slog.String("release", s.release))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.errors.Recent())
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
