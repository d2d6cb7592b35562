package binance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestStringFloatUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		json string
		want float64
	}{
		{"quoted number", `"0.00012345"`, 0.00012345},
		{"bare number", `1.5`, 1.5},
		{"empty string", `""`, 0},
		{"negative", `"-0.003"`, -0.003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f stringFloat
			if err := json.Unmarshal([]byte(tt.json), &f); err != nil {
				t.Fatal(err)
			}
			if f.Float() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, f.Float())
			}
		})
	}

	var f stringFloat
	if err := json.Unmarshal([]byte(`"not-a-number"`), &f); err == nil {
		t.Error("expected error on garbage input")
	}
}

func TestGetRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"openInterest":"12345.6","symbol":"BTCUSDT"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	oi, err := c.OpenInterestFor(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if oi == nil || oi.OpenInterest.Float() != 12345.6 {
		t.Fatalf("expected OI after retry, got %+v", oi)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestGetBannedIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.OpenInterestFor(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
}

func TestAbsentSymbolYieldsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	oi, err := c.OpenInterestFor(context.Background(), "GONEUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if oi != nil {
		t.Errorf("expected nil for an absent symbol, got %+v", oi)
	}
}

func TestExchangeInfoFiltersContracts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","contractType":"PERPETUAL","status":"TRADING"},
			{"symbol":"BTCUSDT_240927","baseAsset":"BTC","quoteAsset":"USDT","contractType":"CURRENT_QUARTER","status":"TRADING"},
			{"symbol":"ETHBTC","baseAsset":"ETH","quoteAsset":"BTC","contractType":"PERPETUAL","status":"TRADING"},
			{"symbol":"OLDUSDT","baseAsset":"OLD","quoteAsset":"USDT","contractType":"PERPETUAL","status":"SETTLING"}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	symbols, err := c.ExchangeInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(symbols) != 1 || symbols[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT, got %+v", symbols)
	}
}

func TestLongShortRatioEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ls, err := c.TopLongShortRatio(context.Background(), "NEWUSDT")
	if err != nil {
		t.Fatal(err)
	}
	if ls != nil {
		t.Errorf("expected nil on empty response, got %+v", ls)
	}
}
