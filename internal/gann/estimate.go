package gann

import "math"

// Stats aggregates a return sequence into volatility figures and the
// projected trading range. ReferencePrice and Range stay in scaled units
// (the projector consumes them there); UpperLimit, LowerLimit, and
// CurrentPrice are de-scaled back to original price units for display.
type Stats struct {
	MeanLogReturn        float64 `json:"mean_log_return"`
	MeanLogReturnSquared float64 `json:"mean_log_return_squared"`
	Variance             float64 `json:"variance"`
	DailyVolatility      float64 `json:"daily_volatility"`
	PeriodVolatility     float64 `json:"period_volatility"`
	PeriodVolatilityPct  float64 `json:"period_volatility_pct"`
	Range                float64 `json:"range"`
	UpperLimit           float64 `json:"upper_limit"`
	LowerLimit           float64 `json:"lower_limit"`
	ReferencePrice       float64 `json:"reference_price"`
	CurrentPrice         float64 `json:"current_price"`
	Multiplier           float64 `json:"multiplier"`
	Duration             int     `json:"duration"`

	// VarianceClamped marks the degenerate case where floating-point
	// cancellation on a near-constant series produced a slightly negative
	// second-moment variance. The value is floored at zero rather than
	// letting NaN escape into the volatility; callers should surface the
	// flag for diagnosis.
	VarianceClamped bool `json:"variance_clamped,omitempty"`
}

// Estimate reduces the return sequence to volatility statistics for the
// given projection duration in trading days.
//
// Variance is the population-style second moment E[r²]−E[r]², not sample
// variance. Range is rounded to four decimals at the scaled magnitude,
// matching the system this engine replaces.
func Estimate(returns []ReturnPoint, duration int, multiplier float64) (*Stats, error) {
	if len(returns) < 2 {
		return nil, ErrInsufficientData
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	var sum, sumSq float64
	n := 0
	for _, rp := range returns {
		if rp.LogReturn == nil {
			continue
		}
		sum += *rp.LogReturn
		sumSq += *rp.LogReturnSquared
		n++
	}

	mean := sum / float64(n)
	meanSq := sumSq / float64(n)
	variance := meanSq - mean*mean

	clamped := false
	if variance < 0 {
		variance = 0
		clamped = true
	}

	daily := math.Sqrt(variance)
	period := daily * math.Sqrt(float64(duration))
	ref := returns[len(returns)-1].ScaledClose
	rng := math.Round(ref*period*10000) / 10000

	return &Stats{
		MeanLogReturn:        mean,
		MeanLogReturnSquared: meanSq,
		Variance:             variance,
		DailyVolatility:      daily,
		PeriodVolatility:     period,
		PeriodVolatilityPct:  period * 100,
		Range:                rng,
		UpperLimit:           (ref + rng) / multiplier,
		LowerLimit:           (ref - rng) / multiplier,
		ReferencePrice:       ref,
		CurrentPrice:         ref / multiplier,
		Multiplier:           multiplier,
		Duration:             duration,
		VarianceClamped:      clamped,
	}, nil
}
