package market

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func quoteHandler(t *testing.T, prices map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") != "GLOBAL_QUOTE" {
			t.Errorf("unexpected function %q", r.URL.Query().Get("function"))
		}
		symbol := r.URL.Query().Get("symbol")
		price, ok := prices[symbol]
		if !ok {
			fmt.Fprint(w, `{"Global Quote": {}}`)
			return
		}
		fmt.Fprintf(w, `{"Global Quote": {
			"01. symbol": %q,
			"05. price": %q,
			"06. volume": "125000",
			"09. change": "12.50",
			"10. change percent": "1.2500%%"
		}}`, symbol, price)
	}
}

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, map[string]string{"TCS": "3456.70"}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	quote, err := c.GetQuote(context.Background(), "TCS")
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if quote.Symbol != "TCS" {
		t.Errorf("Symbol = %q, want TCS", quote.Symbol)
	}
	if quote.Price != 3456.70 {
		t.Errorf("Price = %v, want 3456.70", quote.Price)
	}
	if quote.ChangePercent != 1.25 {
		t.Errorf("ChangePercent = %v, want 1.25", quote.ChangePercent)
	}
	if quote.Volume != 125000 {
		t.Errorf("Volume = %v, want 125000", quote.Volume)
	}
	if quote.AsOf.IsZero() {
		t.Error("AsOf is zero, want a timestamp")
	}
}

func TestGetQuoteUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, nil))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	if _, err := c.GetQuote(context.Background(), "NOSUCH"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetQuoteNotConfigured(t *testing.T) {
	c := New("http://localhost:1", "")
	if c.Configured() {
		t.Fatal("Configured() = true without an API key")
	}
	if _, err := c.GetQuote(context.Background(), "TCS"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetQuoteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	if _, err := c.GetQuote(context.Background(), "TCS"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestGetMarketOverviewPartialFailure(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, map[string]string{"^BSESN": "81500.25"}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	indexes, err := c.GetMarketOverview(context.Background())
	if err != nil {
		t.Fatalf("GetMarketOverview: %v", err)
	}
	if len(indexes) != 1 {
		t.Fatalf("got %d indexes, want 1", len(indexes))
	}
	if indexes[0].Name != "SENSEX" {
		t.Errorf("Name = %q, want SENSEX", indexes[0].Name)
	}
	if indexes[0].Value != 81500.25 {
		t.Errorf("Value = %v, want 81500.25", indexes[0].Value)
	}
}

func TestGetMarketOverviewAllFail(t *testing.T) {
	srv := httptest.NewServer(quoteHandler(t, nil))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	if _, err := c.GetMarketOverview(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestFormatQuote(t *testing.T) {
	up := FormatQuote(Quote{Symbol: "TCS", Price: 3456.7, ChangePercent: 1.25})
	if up != "TCS: ₹3456.70 (+1.25%)" {
		t.Errorf("FormatQuote up = %q", up)
	}
	down := FormatQuote(Quote{Symbol: "INFY", Price: 1500, ChangePercent: -0.5})
	if down != "INFY: ₹1500.00 (-0.50%)" {
		t.Errorf("FormatQuote down = %q", down)
	}
}
