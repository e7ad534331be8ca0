package gann

import "math"

// Level is a single support/resistance projection at one Gann degree.
// Prices are de-scaled to original units; ResistanceMagnitude stays in the
// scaled domain the formula works in.
type Level struct {
	Degree              int     `json:"degree"`
	Factor              float64 `json:"factor"`
	ResistanceMagnitude float64 `json:"resistance_magnitude"`
	SupportPrice        float64 `json:"support_price"`
	ResistancePrice     float64 `json:"resistance_price"`
	Importance          string  `json:"importance"`
}

// Project computes one level per configured degree from the volatility
// range and scaled reference price. The formula is a deterministic
// geometric transform — the classic Gann square-root projection — not a
// statistical confidence bound. Output order follows Degrees exactly.
func Project(rng, referencePrice, multiplier float64) []Level {
	levels := make([]Level, 0, len(Degrees))
	sqrtRange := math.Sqrt(rng)
	for _, d := range Degrees {
		factor := float64(d) / 180
		magnitude := (sqrtRange + factor) * (sqrtRange + factor)
		levels = append(levels, Level{
			Degree:              d,
			Factor:              factor,
			ResistanceMagnitude: magnitude,
			SupportPrice:        (referencePrice - factor*magnitude) / multiplier,
			ResistancePrice:     (referencePrice + factor*magnitude) / multiplier,
			Importance:          Importance(d),
		})
	}
	return levels
}

// KeyLevels filters a full projection down to the curated display subset,
// preserving order.
func KeyLevels(levels []Level) []Level {
	key := make(map[int]bool, len(KeyDegrees))
	for _, d := range KeyDegrees {
		key[d] = true
	}
	out := make([]Level, 0, len(KeyDegrees))
	for _, l := range levels {
		if key[l.Degree] {
			out = append(out, l)
		}
	}
	return out
}
