package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"stocksim/internal/game"
)

// Requester is the authenticated transport. *session.Client satisfies it.
type Requester interface {
	Request(ctx context.Context, method, path string, in, out any) error
}

type OrderInfo struct {
	Quantity   int64   `json:"quantity"`
	AvgCost    float64 `json:"avgCost"`
	Cash       float64 `json:"cash"`
	MaxBuyable int64   `json:"maxBuyable"`
}

type Company struct {
	StockName  string  `json:"stockName"`
	StockTag   string  `json:"stockTag"`
	BasePrice  float64 `json:"basePrice"`
	Volatility float64 `json:"volatility"`
}

type Post struct {
	Persona string `json:"persona"`
	Comment string `json:"comment"`
}

type Total struct {
	ChangeRate float64 `json:"changeRate"`
	Opinion    string  `json:"opinion"`
}

type Macro struct {
	Day              int     `json:"day"`
	MaxDay           int     `json:"maxDay"`
	MarketChangeRate float64 `json:"marketChangeRate"`
	Headline         string  `json:"headline"`
}

type Fill struct {
	Cash     float64 `json:"cash"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

type WireProgress struct {
	CurrentDay int  `json:"currentDay"`
	MaxDay     int  `json:"maxDay"`
	GameOver   bool `json:"gameOver"`
}

type Asset struct {
	Cash           float64 `json:"cash"`
	StockValuation float64 `json:"stockValuation"`
	Total          float64 `json:"total"`
	Profit         float64 `json:"profit"`
	ProfitRate     float64 `json:"profitRate"`
	CurrentDay     int     `json:"currentDay"`
	MaxDay         int     `json:"maxDay"`
	GameOver       bool    `json:"gameOver"`
}

// API is the typed surface of the remote game server.
type API struct {
	r Requester
}

func NewAPI(r Requester) *API {
	return &API{r: r}
}

func stockPath(id, suffix string) string {
	return "/stocks/" + url.PathEscape(id) + suffix
}

func (a *API) Stocks(ctx context.Context) ([]game.Quote, error) {
	var out struct {
		DashBoard []WireStock `json:"dashBoard"`
	}
	if err := a.r.Request(ctx, http.MethodGet, "/stocks", nil, &out); err != nil {
		return nil, err
	}
	quotes := make([]game.Quote, 0, len(out.DashBoard))
	for _, w := range out.DashBoard {
		q, err := ParseStockSummary(w)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, malformed("empty stock roster")
	}
	return quotes, nil
}

func (a *API) Stock(ctx context.Context, id string) (game.StockDetail, error) {
	var out WireStockDetail
	if err := a.r.Request(ctx, http.MethodGet, stockPath(id, ""), nil, &out); err != nil {
		return game.StockDetail{}, err
	}
	return parseStockDetail(out)
}

func (a *API) OrderInfo(ctx context.Context, id string) (OrderInfo, error) {
	var out OrderInfo
	err := a.r.Request(ctx, http.MethodGet, stockPath(id, "/order"), nil, &out)
	return out, err
}

func (a *API) Company(ctx context.Context, id string) (Company, error) {
	var out Company
	err := a.r.Request(ctx, http.MethodGet, stockPath(id, "/company"), nil, &out)
	return out, err
}

func (a *API) News(ctx context.Context, id string) ([]game.Event, error) {
	var out struct {
		News []game.Event `json:"news"`
	}
	err := a.r.Request(ctx, http.MethodGet, stockPath(id, "/news"), nil, &out)
	return out.News, err
}

func (a *API) Reddit(ctx context.Context, id string) ([]Post, error) {
	var out struct {
		Posts []Post `json:"posts"`
	}
	err := a.r.Request(ctx, http.MethodGet, stockPath(id, "/reddit"), nil, &out)
	return out.Posts, err
}

func (a *API) Total(ctx context.Context, id string) (Total, error) {
	var out Total
	err := a.r.Request(ctx, http.MethodGet, stockPath(id, "/total"), nil, &out)
	return out, err
}

func (a *API) Macro(ctx context.Context) (Macro, error) {
	var out Macro
	err := a.r.Request(ctx, http.MethodGet, "/stocks/macro", nil, &out)
	return out, err
}

func (a *API) Order(ctx context.Context, id string, side game.Side, quantity int64) (Fill, error) {
	var suffix string
	switch side {
	case game.Buy:
		suffix = "/orders/buy"
	case game.Sell:
		suffix = "/orders/sell"
	default:
		return Fill{}, fmt.Errorf("%w: %q", game.ErrInvalidSide, side)
	}
	var out Fill
	err := a.r.Request(ctx, http.MethodPost, stockPath(id, suffix), map[string]int64{"quantity": quantity}, &out)
	return out, err
}

func (a *API) Start(ctx context.Context) (game.Progress, error) {
	return a.progress(ctx, "/stocks/start")
}

func (a *API) Next(ctx context.Context) (game.Progress, error) {
	return a.progress(ctx, "/stocks/next")
}

func (a *API) Finish(ctx context.Context) (game.Progress, error) {
	return a.progress(ctx, "/stocks/finish")
}

func (a *API) progress(ctx context.Context, path string) (game.Progress, error) {
	var out WireProgress
	if err := a.r.Request(ctx, http.MethodPost, path, nil, &out); err != nil {
		return game.Progress{}, err
	}
	if out.MaxDay < 1 || out.CurrentDay < 0 || out.CurrentDay > out.MaxDay {
		return game.Progress{}, malformed("day %d of %d", out.CurrentDay, out.MaxDay)
	}
	return game.Progress{Day: out.CurrentDay, MaxDay: out.MaxDay, GameOver: out.GameOver}, nil
}

func (a *API) Result(ctx context.Context) (game.Result, error) {
	var out game.Result
	err := a.r.Request(ctx, http.MethodGet, "/stocks/result", nil, &out)
	return out, err
}

func (a *API) Asset(ctx context.Context) (Asset, error) {
	var out Asset
	err := a.r.Request(ctx, http.MethodGet, "/users/asset", nil, &out)
	return out, err
}

func (a *API) Holdings(ctx context.Context, r *Roster) ([]game.Position, error) {
	var out struct {
		Holdings []WireHolding `json:"holdings"`
	}
	if err := a.r.Request(ctx, http.MethodGet, "/users/holdings", nil, &out); err != nil {
		return nil, err
	}
	positions := make([]game.Position, 0, len(out.Holdings))
	for _, w := range out.Holdings {
		p, err := ParseHolding(w, r)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (a *API) Transactions(ctx context.Context, r *Roster) ([]game.Transaction, error) {
	var out struct {
		Transactions []WireTransaction `json:"transactions"`
	}
	if err := a.r.Request(ctx, http.MethodGet, "/users/transaction", nil, &out); err != nil {
		return nil, err
	}
	txs := make([]game.Transaction, 0, len(out.Transactions))
	for _, w := range out.Transactions {
		tx, err := ParseTransaction(w, r)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (a *API) Interests(ctx context.Context, r *Roster) ([]string, error) {
	var out struct {
		Interests []WireInterest `json:"interests"`
	}
	if err := a.r.Request(ctx, http.MethodGet, "/users/interest", nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Interests))
	for _, w := range out.Interests {
		id, err := ParseInterest(w, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *API) Like(ctx context.Context, id string) error {
	return a.r.Request(ctx, http.MethodPost, "/users/interest/"+url.PathEscape(id)+"/like", nil, nil)
}

func (a *API) Dislike(ctx context.Context, id string) error {
	return a.r.Request(ctx, http.MethodPost, "/users/interest/"+url.PathEscape(id)+"/dislike", nil, nil)
}
