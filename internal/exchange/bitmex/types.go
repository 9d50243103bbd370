package bitmex

import "time"

// marginResponse is the subset of GET /user/margin we consume. Amounts are
// reported in satoshis (XBt).
type marginResponse struct {
	WalletBalance   int64 `json:"walletBalance"`
	AvailableMargin int64 `json:"availableMargin"`
	MarginBalance   int64 `json:"marginBalance"`
	InitMargin      int64 `json:"initMargin"`
	MaintMargin     int64 `json:"maintMargin"`
}

// positionResponse is the subset of GET /position we consume.
type positionResponse struct {
	Symbol           string  `json:"symbol"`
	CurrentQty       float64 `json:"currentQty"`
	AvgEntryPrice    float64 `json:"avgEntryPrice"`
	MarkPrice        float64 `json:"markPrice"`
	LiquidationPrice float64 `json:"liquidationPrice"`
	Leverage         float64 `json:"leverage"`
	UnrealisedPnl    int64   `json:"unrealisedPnl"` // satoshis
}

// bucketedTrade is one row of GET /trade/bucketed.
type bucketedTrade struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// orderResponse is the subset of POST /order we consume.
type orderResponse struct {
	OrderID   string    `json:"orderID"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	OrderQty  float64   `json:"orderQty"`
	Price     float64   `json:"price"`
	StopPx    float64   `json:"stopPx"`
	AvgPx     float64   `json:"avgPx"`
	OrdType   string    `json:"ordType"`
	OrdStatus string    `json:"ordStatus"`
	Timestamp time.Time `json:"timestamp"`
}

// apiError is the error envelope BitMEX returns on non-2xx responses.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Name    string `json:"name"`
	} `json:"error"`
}

const satoshisPerBTC = 1e8
