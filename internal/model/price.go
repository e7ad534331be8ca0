package model

import (
	"encoding/json"
	"strconv"
)

// PricePoint is one bar of daily price history. Open/high/low/volume are
// carried through for display; the analysis engine only reads Datetime and
// Close. The sequence handed to the engine must be sorted ascending by time.
type PricePoint struct {
	Datetime string  `json:"datetime"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume,omitempty"`
}

// UnmarshalJSON accepts numeric fields either as JSON numbers or as quoted
// strings. Upstream providers (and the XLSX upload path) are inconsistent
// about which they emit.
func (p *PricePoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Datetime string      `json:"datetime"`
		Open     json.Number `json:"open"`
		High     json.Number `json:"high"`
		Low      json.Number `json:"low"`
		Close    json.Number `json:"close"`
		Volume   json.Number `json:"volume"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Datetime = raw.Datetime
	p.Open = numToFloat(raw.Open)
	p.High = numToFloat(raw.High)
	p.Low = numToFloat(raw.Low)
	p.Close = numToFloat(raw.Close)
	p.Volume = numToFloat(raw.Volume)
	return nil
}

func numToFloat(n json.Number) float64 {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

// SeriesMeta describes where a price series came from.
type SeriesMeta struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Exchange string `json:"exchange"`
}

// PriceHistory is a fetched or uploaded series plus its provenance.
type PriceHistory struct {
	Meta   SeriesMeta   `json:"meta"`
	Values []PricePoint `json:"values"`
	Status string       `json:"status"`
}
