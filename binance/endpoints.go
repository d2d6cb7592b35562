package binance

import (
	"context"
	"errors"
	"fmt"
)

// SymbolInfo is one tradable perpetual from exchange info
type SymbolInfo struct {
	Symbol    string
	BaseAsset string
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
		Status       string `json:"status"`
	} `json:"symbols"`
}

// ExchangeInfo returns all TRADING USDT-margined perpetual contracts
func (c *Client) ExchangeInfo(ctx context.Context) ([]SymbolInfo, error) {
	var resp exchangeInfoResponse
	if err := c.get(ctx, "/fapi/v1/exchangeInfo", &resp); err != nil {
		return nil, err
	}
	var out []SymbolInfo
	for _, s := range resp.Symbols {
		if s.ContractType != "PERPETUAL" || s.QuoteAsset != "USDT" || s.Status != "TRADING" {
			continue
		}
		out = append(out, SymbolInfo{Symbol: s.Symbol, BaseAsset: s.BaseAsset})
	}
	return out, nil
}

// Ticker24h is one 24-hour rolling ticker
type Ticker24h struct {
	Symbol      string      `json:"symbol"`
	QuoteVolume stringFloat `json:"quoteVolume"`
}

// Tickers24h returns 24h rolling stats for every contract in one call
func (c *Client) Tickers24h(ctx context.Context) ([]Ticker24h, error) {
	var out []Ticker24h
	if err := c.get(ctx, "/fapi/v1/ticker/24hr", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PremiumIndex is one symbol's funding snapshot
type PremiumIndex struct {
	Symbol          string      `json:"symbol"`
	MarkPrice       stringFloat `json:"markPrice"`
	LastFundingRate stringFloat `json:"lastFundingRate"`
	NextFundingTime int64       `json:"nextFundingTime"`
}

// PremiumIndexAll returns funding rate and mark price for every contract
// in a single call.
func (c *Client) PremiumIndexAll(ctx context.Context) ([]PremiumIndex, error) {
	var out []PremiumIndex
	if err := c.get(ctx, "/fapi/v1/premiumIndex", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenInterest is one symbol's current open interest in contracts
type OpenInterest struct {
	Symbol       string      `json:"symbol"`
	OpenInterest stringFloat `json:"openInterest"`
}

// OpenInterestFor returns the current OI for one symbol, or nil when the
// exchange has no OI for it (newly listed or delisting contracts).
func (c *Client) OpenInterestFor(ctx context.Context, symbol string) (*OpenInterest, error) {
	var out OpenInterest
	err := c.get(ctx, "/fapi/v1/openInterest?symbol="+symbol, &out)
	if err != nil {
		if errors.Is(err, errAbsent) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// LongShortRatio is one top-trader position ratio sample
type LongShortRatio struct {
	Symbol   string      `json:"symbol"`
	Ratio    stringFloat `json:"longShortRatio"`
	LongPct  stringFloat `json:"longAccount"`
	ShortPct stringFloat `json:"shortAccount"`
}

// TopLongShortRatio returns the latest top-trader position long/short ratio
// for one symbol, or nil when the endpoint has no data for it.
func (c *Client) TopLongShortRatio(ctx context.Context, symbol string) (*LongShortRatio, error) {
	var out []LongShortRatio
	path := fmt.Sprintf("/futures/data/topLongShortPositionRatio?symbol=%s&period=5m&limit=1", symbol)
	err := c.get(ctx, path, &out)
	if err != nil {
		if errors.Is(err, errAbsent) {
			return nil, nil
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// TakerRatio is one aggressive-taker buy/sell volume ratio sample
type TakerRatio struct {
	BuySellRatio stringFloat `json:"buySellRatio"`
	BuyVol       stringFloat `json:"buyVol"`
	SellVol      stringFloat `json:"sellVol"`
}

// TakerBuySellRatio returns the latest taker buy/sell volume ratio for one
// symbol, or nil when the endpoint has no data for it.
func (c *Client) TakerBuySellRatio(ctx context.Context, symbol string) (*TakerRatio, error) {
	var out []TakerRatio
	path := fmt.Sprintf("/futures/data/takerlongshortRatio?symbol=%s&period=5m&limit=1", symbol)
	err := c.get(ctx, path, &out)
	if err != nil {
		if errors.Is(err, errAbsent) {
			return nil, nil
		}
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// Float converts the exchange's string-encoded number
func (f stringFloat) Float() float64 { return float64(f) }
