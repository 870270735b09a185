package game

import "context"

// Quote is one instrument's price at the current day.
type Quote struct {
	InstrumentID string  `json:"id"`
	Name         string  `json:"name"`
	Tag          string  `json:"tag"`
	Price        float64 `json:"price"`
	ChangePct    float64 `json:"changePct"`
	ChangeAmount float64 `json:"changeAmount"`
}

type StockDetail struct {
	Quote
	Volatility float64   `json:"volatility"`
	History    []float64 `json:"history"`
}

type Position struct {
	InstrumentID string  `json:"instrumentId"`
	Name         string  `json:"name"`
	Tag          string  `json:"tag"`
	Quantity     int64   `json:"quantity"`
	AvgCost      float64 `json:"avgCost"`
	Value        float64 `json:"value"`
	ChangePct    float64 `json:"changePct"`
}

type Progress struct {
	Day      int  `json:"day"`
	MaxDay   int  `json:"maxDay"`
	GameOver bool `json:"gameOver"`
}

// Portfolio is the player-facing view of a game, whichever side owns it.
type Portfolio struct {
	Progress
	Valuation    Valuation     `json:"valuation"`
	Positions    []Position    `json:"positions"`
	Transactions []Transaction `json:"transactions"`
	Watchlist    []string      `json:"watchlist"`
	Events       []Event       `json:"events"`
}

// MarketSource serves the instrument roster and prices.
type MarketSource interface {
	Quotes(ctx context.Context) ([]Quote, error)
	Detail(ctx context.Context, instrumentID string) (StockDetail, error)
}

// GameBackend owns the authoritative game. LocalBackend simulates it in
// process; the remote package drives a server over HTTP.
type GameBackend interface {
	MarketSource
	Start(ctx context.Context) (Progress, error)
	PlaceOrder(ctx context.Context, instrumentID string, side Side, quantity int64) error
	AdvanceDay(ctx context.Context) (Progress, error)
	Finish(ctx context.Context) (Progress, error)
	Result(ctx context.Context) (Result, error)
	// Portfolio loads player state. roster is the last fetched quote list and
	// is used to resolve instrument identity.
	Portfolio(ctx context.Context, roster []Quote) (Portfolio, error)
	SetWatch(ctx context.Context, instrumentID string, watch bool) error
}
