package gann

import (
	"math"

	"gannportal/internal/model"
)

// ReturnPoint is one row of the log-return transform. LogReturn and
// LogReturnSquared are nil for the first element only (no prior
// observation) and non-nil finite for every later element.
type ReturnPoint struct {
	Datetime         string   `json:"datetime"`
	ScaledClose      float64  `json:"scaled_close"`
	LogReturn        *float64 `json:"log_return"`
	LogReturnSquared *float64 `json:"log_return_squared"`
}

// Returns computes consecutive log returns over a scaled series. The output
// is index-aligned with the input. Any zero, negative, or non-finite scaled
// close makes the logarithm undefined and fails with the offending index.
func Returns(scaled []model.PricePoint) ([]ReturnPoint, error) {
	if len(scaled) < 2 {
		return nil, ErrInsufficientData
	}

	out := make([]ReturnPoint, len(scaled))
	for i, p := range scaled {
		if p.Close <= 0 || !finite(p.Close) {
			return nil, &InvalidPriceError{Index: i, Datetime: p.Datetime, Value: p.Close}
		}
		out[i] = ReturnPoint{Datetime: p.Datetime, ScaledClose: p.Close}
		if i == 0 {
			continue
		}
		r := math.Log(p.Close / scaled[i-1].Close)
		r2 := r * r
		out[i].LogReturn = &r
		out[i].LogReturnSquared = &r2
	}
	return out, nil
}
