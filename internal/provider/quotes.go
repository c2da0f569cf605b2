package provider

import (
	"context"
	"fmt"
	"net/url"

	"github.com/finverse/feedrelay/internal/model"
)

type quoteResponse struct {
	Status string                 `json:"status"`
	Data   map[string]model.Quote `json:"data"`
}

type candlesResponse struct {
	Status string `json:"status"`
	Data   struct {
		Candles [][]any `json:"candles"`
	} `json:"data"`
}

// GetQuote fetches a point-in-time quote for one instrument key.
// The provider keys its response map by the colon form of the instrument
// key regardless of what was asked, so the first (only) entry is taken.
func (c *Client) GetQuote(ctx context.Context, token, key string) (*model.Quote, error) {
	query := url.Values{}
	query.Set("instrument_key", key)

	var resp quoteResponse
	if err := c.get(ctx, "/v2/market-quote/quotes", token, query, &resp); err != nil {
		return nil, fmt.Errorf("get quote %s: %w", key, err)
	}

	for _, q := range resp.Data {
		q.InstrumentKey = key
		return &q, nil
	}
	return nil, fmt.Errorf("get quote %s: instrument not found", key)
}

// GetCandles fetches historical bars for an instrument. from and to are
// provider-format dates (YYYY-MM-DD); interval is e.g. "day" or "1minute".
func (c *Client) GetCandles(ctx context.Context, token, key, interval, from, to string) ([]model.Candle, error) {
	path := fmt.Sprintf("/v2/historical-candle/%s/%s/%s/%s",
		url.PathEscape(key), url.PathEscape(interval), url.PathEscape(to), url.PathEscape(from))

	var resp candlesResponse
	if err := c.get(ctx, path, token, nil, &resp); err != nil {
		return nil, fmt.Errorf("get candles %s: %w", key, err)
	}

	candles := make([]model.Candle, 0, len(resp.Data.Candles))
	for i, raw := range resp.Data.Candles {
		candle, err := convertCandle(raw)
		if err != nil {
			return nil, fmt.Errorf("get candles %s: bar %d: %w", key, i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
