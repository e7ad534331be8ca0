// Package marketdata fetches end-of-day price history and ticker search
// results from the Marketstack REST API.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gannportal/internal/model"
)

const (
	defaultBaseURL = "https://api.marketstack.com"

	// Window of calendar days fetched for an EOD request. Wide enough to
	// cover ~10 trading days across weekends and holidays.
	eodLookbackDays = 20
)

// ErrSymbolNotFound is returned when the provider has no data for the
// requested symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// StatusError reports a non-OK upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketstack: unexpected status %d", e.Code)
}

// Client is a Marketstack API client.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewClient creates a Marketstack client. baseURL may be empty to use
// the production endpoint.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// eodResponse is the raw /v2/eod payload, trimmed to the fields we keep.
type eodResponse struct {
	Data []struct {
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		Volume   float64 `json:"volume"`
		Exchange string  `json:"exchange"`
		Date     string  `json:"date"`
	} `json:"data"`
}

// EOD fetches daily bars for the symbol over the lookback window,
// newest first. Returns ErrSymbolNotFound when the provider rejects the
// symbol or the window holds no data.
func (c *Client) EOD(ctx context.Context, symbol string, limit int) (*model.PriceHistory, error) {
	if limit <= 0 {
		limit = 10
	}
	end := c.now().UTC()
	start := end.AddDate(0, 0, -eodLookbackDays)

	q := url.Values{}
	q.Set("access_key", c.apiKey)
	q.Set("symbols", symbol)
	q.Set("date_from", start.Format("2006-01-02"))
	q.Set("date_to", end.Format("2006-01-02"))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "DESC")

	var raw eodResponse
	if err := c.get(ctx, "/v2/eod", q, &raw); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusUnprocessableEntity {
			return nil, ErrSymbolNotFound
		}
		return nil, err
	}
	if len(raw.Data) == 0 {
		return nil, ErrSymbolNotFound
	}

	hist := &model.PriceHistory{
		Meta: model.SeriesMeta{
			Symbol:   symbol,
			Interval: "1day",
			Exchange: raw.Data[0].Exchange,
		},
		Values: make([]model.PricePoint, 0, len(raw.Data)),
		Status: "ok",
	}
	if hist.Meta.Exchange == "" {
		hist.Meta.Exchange = "UNKNOWN"
	}
	for _, d := range raw.Data {
		hist.Values = append(hist.Values, model.PricePoint{
			Datetime: d.Date,
			Open:     d.Open,
			High:     d.High,
			Low:      d.Low,
			Close:    d.Close,
			Volume:   d.Volume,
		})
	}
	return hist, nil
}

// Ticker is one search hit from the tickers endpoint.
type Ticker struct {
	Name          string   `json:"name"`
	Ticker        string   `json:"ticker"`
	HasIntraday   bool     `json:"has_intraday"`
	HasEOD        bool     `json:"has_eod"`
	StockExchange Exchange `json:"stock_exchange"`
}

// Exchange identifies the listing venue of a ticker.
type Exchange struct {
	Name    string `json:"name"`
	Acronym string `json:"acronym"`
	MIC     string `json:"mic"`
}

// Pagination mirrors Marketstack's pagination block.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
	Total  int `json:"total"`
}

// SearchResult is a page of ticker search hits.
type SearchResult struct {
	Pagination Pagination `json:"pagination"`
	Data       []Ticker   `json:"data"`
}

type tickersResponse struct {
	Pagination Pagination `json:"pagination"`
	Data       []struct {
		Name          string `json:"name"`
		Symbol        string `json:"symbol"`
		HasIntraday   bool   `json:"has_intraday"`
		HasEOD        bool   `json:"has_eod"`
		StockExchange struct {
			Name    string `json:"name"`
			Acronym string `json:"acronym"`
			MIC     string `json:"mic"`
		} `json:"stock_exchange"`
	} `json:"data"`
}

// Search looks up tickers matching the query string.
func (c *Client) Search(ctx context.Context, query string, limit, offset int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	q := url.Values{}
	q.Set("access_key", c.apiKey)
	q.Set("search", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var raw tickersResponse
	if err := c.get(ctx, "/v1/tickers", q, &raw); err != nil {
		return nil, err
	}

	out := &SearchResult{
		Pagination: raw.Pagination,
		Data:       make([]Ticker, 0, len(raw.Data)),
	}
	for _, t := range raw.Data {
		out.Data = append(out.Data, Ticker{
			Name:        t.Name,
			Ticker:      t.Symbol,
			HasIntraday: t.HasIntraday,
			HasEOD:      t.HasEOD,
			StockExchange: Exchange{
				Name:    t.StockExchange.Name,
				Acronym: t.StockExchange.Acronym,
				MIC:     t.StockExchange.MIC,
			},
		})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("marketstack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("marketstack: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		log.Printf("[marketdata] %s returned %d: %s", path, resp.StatusCode, body)
		return &StatusError{Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marketstack: decode %s: %w", path, err)
	}
	return nil
}
