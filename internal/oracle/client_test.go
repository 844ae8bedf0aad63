package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func feedServer(t *testing.T, payload any, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}))
}

func testClient(baseURL string, now time.Time) *Client {
	c := NewClient(Options{
		BaseURL:         baseURL,
		BaseAsset:       "KALE",
		QuoteAsset:      "USD",
		StalenessWindow: 90 * time.Second,
		Timeout:         time.Second,
		UserAgent:       "test",
	}, noopLogger())
	c.now = func() time.Time { return now }
	return c
}

func TestFetchPriceSuccess(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	srv := feedServer(t, map[string]string{
		"pair":      "KALE/USD",
		"price":     "1.0625",
		"timestamp": now.Add(-10 * time.Second).Format(time.RFC3339),
		"source":    "reflector",
	}, http.StatusOK)
	defer srv.Close()

	sample, err := testClient(srv.URL, now).FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if sample.Pair != "KALE/USD" {
		t.Fatalf("unexpected pair %s", sample.Pair)
	}
	if !sample.Price.Equal(decimal.RequireFromString("1.0625")) {
		t.Fatalf("unexpected price %s", sample.Price)
	}
	if sample.Source != "reflector" {
		t.Fatalf("unexpected source %s", sample.Source)
	}
}

func TestFetchPriceStale(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	srv := feedServer(t, map[string]string{
		"pair":      "KALE/USD",
		"price":     "1.0625",
		"timestamp": now.Add(-5 * time.Minute).Format(time.RFC3339),
	}, http.StatusOK)
	defer srv.Close()

	_, err := testClient(srv.URL, now).FetchPrice(context.Background())
	if !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price error, got %v", err)
	}
}

func TestFetchPriceWithinStalenessWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	srv := feedServer(t, map[string]string{
		"pair":      "KALE/USD",
		"price":     "1.0625",
		"timestamp": now.Add(-90 * time.Second).Format(time.RFC3339),
	}, http.StatusOK)
	defer srv.Close()

	// Age equal to the window is still acceptable.
	if _, err := testClient(srv.URL, now).FetchPrice(context.Background()); err != nil {
		t.Fatalf("sample at the window boundary should pass, got %v", err)
	}
}

func TestFetchPriceMalformed(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]string
	}{
		{"unparseable price", map[string]string{"pair": "KALE/USD", "price": "not-a-number", "timestamp": "2026-02-01T12:00:00Z"}},
		{"non-positive price", map[string]string{"pair": "KALE/USD", "price": "0", "timestamp": "2026-02-01T12:00:00Z"}},
		{"negative price", map[string]string{"pair": "KALE/USD", "price": "-1.05", "timestamp": "2026-02-01T12:00:00Z"}},
		{"bad timestamp", map[string]string{"pair": "KALE/USD", "price": "1.05", "timestamp": "yesterday"}},
		{"pair mismatch", map[string]string{"pair": "XLM/USD", "price": "1.05", "timestamp": "2026-02-01T12:00:00Z"}},
	}

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := feedServer(t, tc.payload, http.StatusOK)
			defer srv.Close()

			_, err := testClient(srv.URL, now).FetchPrice(context.Background())
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("expected malformed response error, got %v", err)
			}
		})
	}
}

func TestFetchPriceHTTPError(t *testing.T) {
	srv := feedServer(t, map[string]string{"message": "upstream down"}, http.StatusBadGateway)
	defer srv.Close()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err := testClient(srv.URL, now).FetchPrice(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestFetchPriceUnconfigured(t *testing.T) {
	c := NewClient(Options{}, noopLogger())
	if _, err := c.FetchPrice(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("missing base url should report unavailable, got %v", err)
	}
}
