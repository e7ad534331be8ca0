// Package gann implements the volatility and Gann-level analysis engine.
//
// The engine is a four-stage pure pipeline over an ordered daily price
// series: normalize (power-of-ten scaling), log-return transform,
// volatility estimation, and square-root level projection. Every call
// recomputes from scratch; there is no shared state between invocations,
// so the engine is safe for concurrent use.
package gann

import (
	"errors"
	"fmt"
	"math"
)

// Degrees is the fixed, ordered set of Gann angles the projector emits.
// Output levels preserve this ordering.
var Degrees = []int{15, 30, 45, 60, 75, 90, 135, 150, 180, 225, 270, 315, 360, 405, 450, 495, 540, 720, 1080}

// KeyDegrees is the curated subset shown in compact level views.
var KeyDegrees = []int{45, 90, 135, 180, 225, 270, 360}

// Level importance classes, in display precedence order.
const (
	ImportanceCritical = "Critical" // degree divisible by 90
	ImportanceMajor    = "Major"    // degree divisible by 45, not by 90
	ImportanceCycle    = "Cycle"    // degree exactly 360 (already Critical; kept for the 360 row label)
	ImportanceMinor    = "Minor"
)

// ErrInsufficientData is returned when the series has fewer than two
// points: one log return needs two prices.
var ErrInsufficientData = errors.New("not enough data to analyze: need at least 2 price points")

// ErrInvalidDuration is returned for a non-positive projection duration.
var ErrInvalidDuration = errors.New("duration must be a positive number of trading days")

// InvalidPriceError reports a price that cannot enter the log-return
// transform: zero, negative, or non-finite. Index and datetime point the
// caller at the offending row so the upload or fetch can be corrected.
type InvalidPriceError struct {
	Index    int
	Datetime string
	Value    float64
}

func (e *InvalidPriceError) Error() string {
	if e.Datetime != "" {
		return fmt.Sprintf("invalid price %g at index %d (%s)", e.Value, e.Index, e.Datetime)
	}
	return fmt.Sprintf("invalid price %g at index %d", e.Value, e.Index)
}

// Importance classifies a degree for display. Not part of the numeric
// contract, but the mapping must be stable: multiples of 90 are Critical,
// remaining multiples of 45 are Major, 360 would be Cycle if it were not
// already a multiple of 90, everything else is Minor.
func Importance(degree int) string {
	switch {
	case degree%90 == 0:
		return ImportanceCritical
	case degree%45 == 0:
		return ImportanceMajor
	case degree == 360:
		return ImportanceCycle
	default:
		return ImportanceMinor
	}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
