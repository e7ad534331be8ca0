package gann

import (
	"log/slog"

	"gannportal/internal/model"
)

// Analysis is the complete engine output for one invocation: the per-point
// transform, the aggregate statistics, and the full level table.
type Analysis struct {
	Returns []ReturnPoint `json:"returns"`
	Stats   *Stats        `json:"stats"`
	Levels  []Level       `json:"levels"`
}

// Engine runs the four-stage pipeline. It holds no per-invocation state;
// the logger and clamp hook are diagnostics only and do not affect output.
type Engine struct {
	log     *slog.Logger
	onClamp func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger; stage boundaries are logged at
// debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClampHook registers a callback fired whenever a negative variance is
// floored to zero, so callers can count the condition.
func WithClampHook(fn func()) Option {
	return func(e *Engine) { e.onClamp = fn }
}

// NewEngine creates an analysis engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze runs the full pipeline: normalize, log-return transform,
// volatility estimation, level projection. Either the whole result is
// returned or an error; there is no partial output. The input series must
// be chronologically ascending; override, when non-nil, replaces the last
// close as the current market price.
func (e *Engine) Analyze(series []model.PricePoint, duration int, override *float64) (*Analysis, error) {
	norm, err := Normalize(series, override)
	if err != nil {
		return nil, err
	}
	e.log.Debug("series normalized",
		"points", len(norm.Series),
		"multiplier", norm.Multiplier,
		"reference_price", norm.ReferencePrice,
	)

	returns, err := Returns(norm.Series)
	if err != nil {
		return nil, err
	}
	e.log.Debug("log returns computed", "points", len(returns))

	stats, err := Estimate(returns, duration, norm.Multiplier)
	if err != nil {
		return nil, err
	}
	if stats.VarianceClamped {
		e.log.Warn("negative variance clamped to zero",
			"mean_log_return", stats.MeanLogReturn,
			"mean_log_return_squared", stats.MeanLogReturnSquared,
		)
		if e.onClamp != nil {
			e.onClamp()
		}
	}
	e.log.Debug("volatility estimated",
		"daily_volatility", stats.DailyVolatility,
		"period_volatility", stats.PeriodVolatility,
		"range", stats.Range,
	)

	return &Analysis{
		Returns: returns,
		Stats:   stats,
		Levels:  Project(stats.Range, stats.ReferencePrice, stats.Multiplier),
	}, nil
}
