// Package market fetches live quote data from an Alpha Vantage
// compatible endpoint. The client is a thin transport; freshness caching
// is the caller's concern.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable reports that quote data could not be fetched, whether
// from a missing API key, a transport failure, or a malformed payload.
var ErrUnavailable = errors.New("market: quote data unavailable")

const (
	// DefaultBaseURL is the public Alpha Vantage endpoint.
	DefaultBaseURL = "https://www.alphavantage.co"

	callTimeout = 10 * time.Second
)

// indexSymbols are the benchmark indexes included in a market overview.
var indexSymbols = []struct {
	symbol string
	name   string
}{
	{"^BSESN", "SENSEX"},
	{"^NSEI", "NIFTY 50"},
}

// Quote is a single symbol snapshot.
type Quote struct {
	Symbol        string
	Price         float64
	Change        float64
	ChangePercent float64
	Volume        int64
	AsOf          time.Time
}

// Index is a benchmark index snapshot for the market overview.
type Index struct {
	Name          string
	Value         float64
	ChangePercent float64
}

// Client talks to the quote API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a market Client. An empty apiKey leaves the client in a
// permanently unavailable state rather than failing construction.
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

// Configured reports whether the client has credentials to make calls.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

// GetQuote fetches the latest quote for symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if !c.Configured() {
		return Quote{}, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	q := url.Values{}
	q.Set("function", "GLOBAL_QUOTE")
	q.Set("symbol", symbol)
	q.Set("apikey", c.apiKey)

	endpoint := c.baseURL + "/query?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: quote API returned %d", ErrUnavailable, resp.StatusCode)
	}

	var payload globalQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if payload.GlobalQuote.Symbol == "" {
		return Quote{}, fmt.Errorf("%w: no quote for %q", ErrUnavailable, symbol)
	}

	quote := Quote{Symbol: payload.GlobalQuote.Symbol, AsOf: time.Now()}
	if quote.Price, err = strconv.ParseFloat(payload.GlobalQuote.Price, 64); err != nil {
		return Quote{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, payload.GlobalQuote.Price)
	}
	quote.Change, _ = strconv.ParseFloat(payload.GlobalQuote.Change, 64)
	quote.ChangePercent, _ = strconv.ParseFloat(strings.TrimSuffix(payload.GlobalQuote.ChangePercent, "%"), 64)
	quote.Volume, _ = strconv.ParseInt(payload.GlobalQuote.Volume, 10, 64)

	return quote, nil
}

// GetMarketOverview fetches the benchmark index snapshots. Indexes whose
// lookups fail are skipped; the overview is unavailable only when every
// lookup fails.
func (c *Client) GetMarketOverview(ctx context.Context) ([]Index, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}

	var (
		out     []Index
		lastErr error
	)
	for _, idx := range indexSymbols {
		quote, err := c.GetQuote(ctx, idx.symbol)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, Index{
			Name:          idx.name,
			Value:         quote.Price,
			ChangePercent: quote.ChangePercent,
		})
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, ErrUnavailable
	}
	return out, nil
}

// FormatQuote renders a quote in the compact inline form used in
// assembled context, e.g. "TCS: ₹3456.70 (+1.25%)".
func FormatQuote(q Quote) string {
	sign := "+"
	if q.ChangePercent < 0 {
		sign = ""
	}
	return fmt.Sprintf("%s: ₹%.2f (%s%.2f%%)", q.Symbol, q.Price, sign, q.ChangePercent)
}
