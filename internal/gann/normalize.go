package gann

import (
	"math"
	"strconv"

	"gannportal/internal/model"
)

// Normalized is the output of the series normalizer: the input series with
// every close scaled by Multiplier, plus the (scaled) reference price the
// later stages project around.
type Normalized struct {
	Series         []model.PricePoint
	Multiplier     float64
	ReferencePrice float64 // scaled units
}

// Multiplier returns the power-of-ten scale factor for a reference price:
// 1 once floor(price) already has at least four digits, otherwise
// 10^(4-digits). A sub-1 price has a single integer digit (the zero), so
// it scales by 10^3; the original system behaved the same way.
func Multiplier(price float64) float64 {
	digits := len(strconv.FormatInt(int64(math.Floor(price)), 10))
	if digits >= 4 {
		return 1
	}
	return math.Pow(10, float64(4-digits))
}

// Normalize validates the series, applies the optional current-price
// override to a copy of the last point, and scales every close by the
// multiplier derived from the reference price. The caller's slice is never
// mutated.
func Normalize(series []model.PricePoint, override *float64) (*Normalized, error) {
	if len(series) < 2 {
		return nil, ErrInsufficientData
	}

	scaled := make([]model.PricePoint, len(series))
	copy(scaled, series)
	if override != nil {
		scaled[len(scaled)-1].Close = *override
	}

	ref := scaled[len(scaled)-1].Close
	if ref <= 0 || !finite(ref) {
		return nil, &InvalidPriceError{
			Index:    len(scaled) - 1,
			Datetime: scaled[len(scaled)-1].Datetime,
			Value:    ref,
		}
	}

	mult := Multiplier(ref)
	for i := range scaled {
		scaled[i].Close *= mult
	}

	return &Normalized{
		Series:         scaled,
		Multiplier:     mult,
		ReferencePrice: ref * mult,
	}, nil
}
