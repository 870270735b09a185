package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocksim/internal/game"
	"stocksim/internal/session"
)

type call struct {
	method, path string
	body         any
}

// fakeRequester answers from canned JSON keyed by "METHOD path".
type fakeRequester struct {
	responses map[string]string
	errs      map[string]error
	calls     []call
}

func (f *fakeRequester) Request(_ context.Context, method, path string, in, out any) error {
	key := method + " " + path
	f.calls = append(f.calls, call{method: method, path: path, body: in})
	if err := f.errs[key]; err != nil {
		return err
	}
	raw, ok := f.responses[key]
	if !ok {
		return &session.RequestError{StatusCode: http.StatusNotFound, Message: "no route " + key}
	}
	if out == nil || raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

const dashboard = `{"dashBoard":[
	{"id":"S1","stockName":"NVIDIA","stockTag":"NVDA","currentPrice":130500,"marketPrice":130000,"changeRate":0.38,"changeAmount":500},
	{"id":"S2","stockName":"Apple","stockTag":"AAPL","currentPrice":181000}
]}`

func newFake() *fakeRequester {
	return &fakeRequester{
		responses: map[string]string{
			"GET /stocks":            dashboard,
			"GET /users/asset":       `{"cash":9000,"stockValuation":1305000,"total":1314000,"currentDay":3,"maxDay":20,"gameOver":false}`,
			"GET /users/holdings":    `{"holdings":[{"stockTag":"NVDA","stockName":"NVIDIA","quantity":10,"avgCost":129000,"stockValuation":1305000,"changeRate":0.38}]}`,
			"GET /users/transaction": `{"transactions":[{"date":"2026-01-02T03:04:05Z","stockName":"NVIDIA","stockTag":"NVDA","type":"BUY","quantity":10,"price":129000,"totalAmount":1290000,"day":1}]}`,
			"GET /users/interest":    `{"interests":[{"stockId":"S2","stockName":"Apple","stockTag":"AAPL"}]}`,
			"GET /stocks/macro":      `{"day":3,"maxDay":20,"marketChangeRate":0.5,"headline":"NVIDIA (NVDA) climbs 0.38% and leads the market"}`,
		},
		errs: map[string]error{},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseStockSummary(t *testing.T) {
	price := 100.0
	zero := 0.0
	tests := []struct {
		name string
		in   WireStock
		ok   bool
	}{
		{name: "complete", in: WireStock{ID: "S1", StockTag: "NVDA", CurrentPrice: &price}, ok: true},
		{name: "no id", in: WireStock{StockTag: "NVDA", CurrentPrice: &price}},
		{name: "no tag", in: WireStock{ID: "S1", CurrentPrice: &price}},
		{name: "no price", in: WireStock{ID: "S1", StockTag: "NVDA"}},
		{name: "zero price", in: WireStock{ID: "S1", StockTag: "NVDA", CurrentPrice: &zero}},
	}
	for _, tc := range tests {
		_, err := ParseStockSummary(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.name)
		} else {
			assert.ErrorIs(t, err, ErrMalformed, tc.name)
		}
	}
}

func TestRosterResolve(t *testing.T) {
	r, err := NewRoster([]game.Quote{{InstrumentID: "S1", Tag: "NVDA"}, {InstrumentID: "S2", Tag: "AAPL"}})
	require.NoError(t, err)

	q, err := r.Resolve("", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "S2", q.InstrumentID)

	q, err = r.Resolve("S1", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", q.Tag)

	_, err = r.Resolve("S9", "")
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = r.Resolve("", "TSLA")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = NewRoster([]game.Quote{{InstrumentID: "S1", Tag: "A"}, {InstrumentID: "S1", Tag: "B"}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestParseTransactionRejectsBadEntries(t *testing.T) {
	r, err := NewRoster([]game.Quote{{InstrumentID: "S1", Tag: "NVDA"}})
	require.NoError(t, err)

	_, err = ParseTransaction(WireTransaction{StockTag: "NVDA", Type: "HOLD", Quantity: 1, Price: 1}, r)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseTransaction(WireTransaction{StockTag: "NVDA", Type: "SELL", Quantity: 0, Price: 1}, r)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = ParseTransaction(WireTransaction{StockTag: "NVDA", Type: "SELL", Quantity: 1, Price: 1, Date: "yesterday"}, r)
	assert.ErrorIs(t, err, ErrMalformed)

	tx, err := ParseTransaction(WireTransaction{StockTag: "NVDA", Type: "sell", Quantity: 2, Price: 5, Day: 4}, r)
	require.NoError(t, err)
	assert.Equal(t, game.Sell, tx.Side)
	assert.Equal(t, "S1", tx.InstrumentID)
	assert.Equal(t, 4, tx.DayOffset)
}

func TestBackendPortfolio(t *testing.T) {
	f := newFake()
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()

	quotes, err := b.Quotes(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, 130500.0, quotes[0].Price)
	assert.Zero(t, quotes[1].ChangePct)

	p, err := b.Portfolio(ctx, quotes)
	require.NoError(t, err)
	assert.Equal(t, game.Progress{Day: 3, MaxDay: 20}, p.Progress)
	assert.Equal(t, 1314000.0, p.Valuation.Total)
	require.Len(t, p.Positions, 1)
	assert.Equal(t, "S1", p.Positions[0].InstrumentID)
	require.Len(t, p.Transactions, 1)
	assert.Equal(t, game.Buy, p.Transactions[0].Side)
	assert.Equal(t, []string{"S2"}, p.Watchlist)
	require.Len(t, p.Events, 1)
	assert.Equal(t, 3, p.Events[0].Day)
}

func TestBackendPortfolioFailsOnUnknownHolding(t *testing.T) {
	f := newFake()
	f.responses["GET /users/holdings"] = `{"holdings":[{"stockTag":"TSLA","quantity":1}]}`
	b := NewBackend(NewAPI(f), quiet())
	quotes, err := b.Quotes(context.Background())
	require.NoError(t, err)

	_, err = b.Portfolio(context.Background(), quotes)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBackendOrderMapsDomainErrors(t *testing.T) {
	f := newFake()
	f.errs["POST /stocks/S1/orders/buy"] = &session.RequestError{StatusCode: http.StatusBadRequest, Message: "insufficient funds: need 10 have 5"}
	f.errs["POST /stocks/S1/orders/sell"] = &session.RequestError{StatusCode: http.StatusConflict, Message: "game is over"}
	f.errs["POST /stocks/S9/orders/buy"] = &session.RequestError{StatusCode: http.StatusNotFound, Message: "unknown instrument: S9"}
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()

	assert.ErrorIs(t, b.PlaceOrder(ctx, "S1", game.Buy, 1), game.ErrInsufficientFunds)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S1", game.Sell, 1), game.ErrGameOver)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S9", game.Buy, 1), game.ErrUnknownInstrument)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S1", game.Buy, 0), game.ErrInvalidQuantity)

	other := &session.RequestError{StatusCode: http.StatusInternalServerError, Message: "boom"}
	f.errs["POST /stocks/S2/orders/buy"] = other
	err := b.PlaceOrder(ctx, "S2", game.Buy, 1)
	var reqErr *session.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
}

func TestBackendOrderSendsQuantityAndReloadsWatchlist(t *testing.T) {
	f := newFake()
	f.responses["POST /stocks/S1/orders/buy"] = `{"cash":1,"quantity":3,"price":100}`
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()
	quotes, err := b.Quotes(ctx)
	require.NoError(t, err)
	_, err = b.Portfolio(ctx, quotes)
	require.NoError(t, err)
	f.calls = nil

	require.NoError(t, b.PlaceOrder(ctx, "S1", game.Buy, 3))
	var sawOrder, sawReload bool
	for _, c := range f.calls {
		if c.path == "/stocks/S1/orders/buy" {
			sawOrder = true
			assert.Equal(t, map[string]int64{"quantity": 3}, c.body)
		}
		if c.path == "/users/interest" {
			sawReload = true
		}
	}
	assert.True(t, sawOrder)
	assert.True(t, sawReload)
	assert.Equal(t, []string{"S2"}, b.Watchlist())
}

func TestSetWatchSucceedsWhenReloadFails(t *testing.T) {
	f := newFake()
	f.responses["POST /users/interest/S1/like"] = ""
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()
	quotes, err := b.Quotes(ctx)
	require.NoError(t, err)
	_, err = b.Portfolio(ctx, quotes)
	require.NoError(t, err)

	f.errs["GET /users/interest"] = &session.RequestError{StatusCode: http.StatusServiceUnavailable, Message: "warming up"}
	require.NoError(t, b.SetWatch(ctx, "S1", true))
	assert.Equal(t, []string{"S2"}, b.Watchlist())
}

func TestFailedPortfolioKeepsNoRoster(t *testing.T) {
	f := newFake()
	f.errs["GET /users/asset"] = &session.RequestError{StatusCode: http.StatusServiceUnavailable, Message: "warming up"}
	f.responses["POST /users/interest/S1/like"] = ""
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()

	quotes, err := b.Quotes(ctx)
	require.NoError(t, err)
	_, err = b.Portfolio(ctx, quotes)
	require.Error(t, err)

	f.calls = nil
	require.NoError(t, b.SetWatch(ctx, "S1", true))
	for _, c := range f.calls {
		assert.NotEqual(t, "/users/interest", c.path, "watchlist reloaded from a roster of a failed load")
	}
	assert.Empty(t, b.Watchlist())
}

func TestNotFoundWithoutInstrumentMessageIsNotMapped(t *testing.T) {
	f := newFake()
	b := NewBackend(NewAPI(f), quiet())
	ctx := context.Background()

	_, err := b.Detail(ctx, "S1")
	assert.NotErrorIs(t, err, game.ErrUnknownInstrument)
	var reqErr *session.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)

	f.errs["GET /stocks/S7"] = &session.RequestError{StatusCode: http.StatusNotFound, Message: "unknown instrument: S7"}
	_, err = b.Detail(ctx, "S7")
	assert.ErrorIs(t, err, game.ErrUnknownInstrument)
}

func TestProgressValidation(t *testing.T) {
	f := newFake()
	f.responses["POST /stocks/next"] = `{"currentDay":21,"maxDay":20,"gameOver":true}`
	f.responses["POST /stocks/start"] = `{"currentDay":0,"maxDay":20,"gameOver":false}`
	b := NewBackend(NewAPI(f), quiet())

	p, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, game.Progress{Day: 0, MaxDay: 20}, p)

	_, err = b.AdvanceDay(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}
