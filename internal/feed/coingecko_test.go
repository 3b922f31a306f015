package feed

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "gasless-agent/internal/errors"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *CoinGecko {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	src, err := NewCoinGecko(CoinGeckoConfig{
		BaseURL:           srv.URL,
		Asset:             "Ethereum",
		Quote:             "USD",
		APIKey:            "demo-key",
		Timeout:           timeout,
		RequestsPerMinute: 60000,
	})
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	return src
}

func TestFetchSuccess(t *testing.T) {
	var gotKey, gotQuery string
	observed := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	src := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-cg-demo-api-key")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2500}}`))
	}, time.Second)
	src.now = func() time.Time { return observed }

	signal, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if signal.Value != 2500 || signal.Asset != "ethereum" || signal.Quote != "usd" {
		t.Fatalf("unexpected signal %+v", signal)
	}
	if !signal.ObservedAt.Equal(observed) {
		t.Fatalf("unexpected timestamp %v", signal.ObservedAt)
	}
	if signal.String() != "price=2500" {
		t.Fatalf("unexpected rendering %q", signal.String())
	}
	if gotKey != "demo-key" {
		t.Fatalf("api key header missing: %q", gotKey)
	}
	if gotQuery != "ids=ethereum&vs_currencies=usd" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestFetchFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		},
		"missing asset": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"bitcoin":{"usd":60000}}`))
		},
		"zero price": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ethereum":{"usd":0}}`))
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			src := newTestFeed(t, handler, time.Second)
			_, err := src.Fetch(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeSignalFailure {
				t.Fatalf("expected signal failure, got %v", err)
			}
		})
	}
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	src := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 20*time.Millisecond)
	defer close(release)

	start := time.Now()
	_, err := src.Fetch(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeSignalFailure {
		t.Fatalf("expected signal failure, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("fetch was not bounded by the timeout")
	}
}

func TestSignalValidate(t *testing.T) {
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := (Signal{Value: v}).Validate(); err == nil {
			t.Fatalf("expected %v to be rejected", v)
		}
	}
	if got := (Signal{Value: 2500.5}).String(); got != "price=2500.5" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestNewCoinGeckoValidation(t *testing.T) {
	if _, err := NewCoinGecko(CoinGeckoConfig{Asset: "ethereum"}); err == nil {
		t.Fatal("expected error without quote")
	}
}
