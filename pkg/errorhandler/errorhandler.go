// Package errorhandler classifies failures from the forecast pipeline and
// keeps a bounded record of the recent ones.
package errorhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raterudder/pvforecast/pkg/common"
	"github.com/raterudder/pvforecast/pkg/forecast"
	"github.com/raterudder/pvforecast/pkg/log"
)

// DefaultCapacity is the number of records Recent can return.
const DefaultCapacity = 100

// Category groups errors by the part of the system that failed.
type Category string

const (
	CategoryConfiguration      Category = "configuration"
	CategoryDependency         Category = "dependency"
	CategoryWeatherAPI         Category = "weather_api"
	CategoryDataIntegrity      Category = "data_integrity"
	CategoryDataValidation     Category = "data_validation"
	CategoryMLModel            Category = "ml_model"
	CategoryCircuitBreakerOpen Category = "circuit_breaker_open"
	CategoryUnknown            Category = "unknown"
)

// Severity decides the log level of a handled error.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DefaultSeverity returns the severity used when an error is wrapped without
// an explicit one.
func (c Category) DefaultSeverity() Severity {
	switch c {
	case CategoryDependency:
		return SeverityCritical
	case CategoryConfiguration, CategoryWeatherAPI, CategoryDataIntegrity:
		return SeverityHigh
	case CategoryCircuitBreakerOpen, CategoryDataValidation, CategoryMLModel:
		return SeverityMedium
	default:
		return SeverityMedium
	}
}

func (s Severity) level() slog.Level {
	switch s {
	case SeverityLow:
		return slog.LevelInfo
	case SeverityMedium:
		return slog.LevelWarn
	case SeverityCritical:
		return slog.LevelError + 4
	default:
		return slog.LevelError
	}
}

// Error attaches a category and severity to an underlying error.
type Error struct {
	Category Category
	Severity Severity
	Err      error
}

// Wrap tags err with category and its default severity. A nil err stays nil.
func Wrap(category Category, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Category: category, Severity: category.DefaultSeverity(), Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Classify determines the category and severity of err. Explicitly wrapped
// errors win over anything inferred from the chain.
func Classify(err error) (Category, Severity) {
	var tagged *Error
	if errors.As(err, &tagged) {
		sev := tagged.Severity
		if sev == "" {
			sev = tagged.Category.DefaultSeverity()
		}
		return tagged.Category, sev
	}

	var (
		validationErrs validator.ValidationErrors
		statusErr      *common.StatusError
		modelErr       *forecast.ModelError
	)
	switch {
	case errors.Is(err, common.ErrCircuitOpen):
		return CategoryCircuitBreakerOpen, SeverityMedium
	case errors.Is(err, forecast.ErrModelUnavailable):
		return CategoryMLModel, SeverityLow
	case errors.As(err, &modelErr):
		return CategoryMLModel, SeverityMedium
	case errors.As(err, &validationErrs):
		return CategoryDataValidation, SeverityMedium
	case errors.As(err, &statusErr):
		if statusErr.StatusCode >= 500 {
			return CategoryDependency, SeverityHigh
		}
		return CategoryDependency, SeverityMedium
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryDependency, SeverityMedium
	}
	return CategoryUnknown, SeverityMedium
}

// Record is a handled error.
type Record struct {
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Category Category  `json:"category"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Recorder counts handled errors, usually in Prometheus.
type Recorder interface {
	ObserveError(category, severity string)
}

// Service logs classified errors and retains the most recent ones.
type Service struct {
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	records []Record
	next    int
	full    bool
}

var _ forecast.ErrorReporter = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithRecorder counts every handled error.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCapacity changes how many records are retained.
func WithCapacity(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.records = make([]Record, n)
		}
	}
}

// New returns a Service retaining DefaultCapacity records.
func New(opts ...Option) *Service {
	s := &Service{
		now:     time.Now,
		records: make([]Record, DefaultCapacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleError classifies, logs and records err. Nil errors are ignored.
func (s *Service) HandleError(ctx context.Context, err error, source string) {
	if err == nil {
		return
	}
	category, severity := Classify(err)
	log.Ctx(ctx).Log(
		ctx,
		severity.level(),
		"handled error",
		slog.String("source", source),
		slog.String("category", string(category)),
		slog.String("severity", string(severity)),
		slog.Any("error", err),
	)

	rec := Record{
		Time:     s.now(),
		Source:   source,
		Category: category,
		Severity: severity,
		Message:  err.Error(),
	}
	s.mu.Lock()
	s.records[s.next] = rec
	s.next = (s.next + 1) % len(s.records)
	if s.next == 0 {
		s.full = true
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.ObserveError(string(category), string(severity))
	}
}

// Recent returns the retained records, newest first.
func (s *Service) Recent() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.full {
		n = len(s.records)
	}
	out := make([]Record, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.records)) % len(s.records)
		out = append(out, s.records[idx])
	}
	return out
}
