// Package quotes pushes current market prices to dashboard clients over
// WebSocket. A hub polls the market data provider for every symbol at
// least one client watches and fans updates out to the watchers.
package quotes

import (
	"context"
	"time"

	"gannportal/internal/marketdata"
)

// Quote is one price update pushed to clients.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Price    float64   `json:"price"`
	Datetime string    `json:"datetime"`
	At       time.Time `json:"at"`
}

// Provider fetches the latest price for a symbol.
type Provider interface {
	Latest(ctx context.Context, symbol string) (Quote, error)
}

// EODProvider adapts the Marketstack client to the Provider interface
// using the newest end-of-day bar as the current price.
type EODProvider struct {
	Client *marketdata.Client
}

func (p *EODProvider) Latest(ctx context.Context, symbol string) (Quote, error) {
	hist, err := p.Client.EOD(ctx, symbol, 1)
	if err != nil {
		return Quote{}, err
	}
	bar := hist.Values[0]
	return Quote{
		Symbol:   symbol,
		Price:    bar.Close,
		Datetime: bar.Datetime,
		At:       time.Now().UTC(),
	}, nil
}
