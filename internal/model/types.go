package model

// OHLC holds the session open/high/low/close for an instrument.
type OHLC struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// DepthLevel is one level of market depth.
type DepthLevel struct {
	BidPrice float64 `json:"bid_price"`
	BidQty   uint32  `json:"bid_qty"`
	AskPrice float64 `json:"ask_price"`
	AskQty   uint32  `json:"ask_qty"`
}

// FeedRecord is one decoded quote update for a single instrument.
// A single upstream frame may carry records for many instruments; each
// record is distributed to downstream clients independently.
type FeedRecord struct {
	Key       string       `json:"key"`
	LTP       float64      `json:"last_price"`
	NetChange float64      `json:"net_change"`
	OHLC      OHLC         `json:"ohlc"`
	Depth     []DepthLevel `json:"depth,omitempty"`
	Timestamp int64        `json:"timestamp"` // ms since epoch
}

// Candle is one historical OHLCV bar from the provider's history API.
type Candle struct {
	Timestamp    string  `json:"timestamp"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
}

// Quote is a point-in-time quote from the provider's REST API.
type Quote struct {
	InstrumentKey string  `json:"instrument_key"`
	LastPrice     float64 `json:"last_price"`
	NetChange     float64 `json:"net_change"`
	OHLC          OHLC    `json:"ohlc"`
	Timestamp     string  `json:"timestamp"`
}

// Profile is the provider-side account profile of the authenticated user.
type Profile struct {
	UserID    string   `json:"user_id"`
	UserName  string   `json:"user_name"`
	Email     string   `json:"email"`
	Broker    string   `json:"broker"`
	Exchanges []string `json:"exchanges"`
	Active    bool     `json:"is_active"`
}
