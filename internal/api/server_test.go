package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"stocksim/internal/auth"
	"stocksim/internal/bootstrap"
	"stocksim/internal/game"
	"stocksim/internal/kv"
	"stocksim/internal/market"
	"stocksim/internal/remote"
	"stocksim/internal/session"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	srv    *Server
	http   *httptest.Server
	clock  *testClock
	issuer *auth.Issuer
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	series, err := market.Generate(game.MarketSeed, market.DefaultRoster, game.HorizonDays)
	require.NoError(t, err)
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemory()
	issuer := auth.NewIssuer(store,
		auth.WithBcryptCost(bcrypt.MinCost),
		auth.WithTTLs(time.Minute, time.Hour),
		auth.WithClock(clock.Now),
	)
	srv := New(cfg, quiet(), issuer, store, series, WithClock(clock.Now))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &harness{srv: srv, http: hs, clock: clock, issuer: issuer}
}

func (h *harness) client(t *testing.T, account string) *session.Client {
	t.Helper()
	ctx := context.Background()
	c := session.NewClient(h.http.URL+"/api", kv.NewMemory(), session.WithLogger(quiet()))
	require.NoError(t, c.Signup(ctx, session.SignupRequest{
		UserAccount:  account,
		UserPassword: "password1",
		UserName:     "Test " + account,
		UserNickName: account,
	}))
	require.NoError(t, c.Login(ctx, account, "password1"))
	return c
}

func TestRemotePlaythrough(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	c := h.client(t, "alice")
	b := remote.NewBackend(remote.NewAPI(c), quiet())

	prog, err := b.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, game.Progress{Day: 0, MaxDay: game.MaxGameDays}, prog)

	orch := bootstrap.New()
	orch.Log = quiet()
	snap, err := orch.Run(ctx, b)
	require.NoError(t, err)
	require.Len(t, snap.Roster, len(market.DefaultRoster))
	assert.Equal(t, game.StartingCash, snap.Portfolio.Valuation.Cash)

	require.NoError(t, b.PlaceOrder(ctx, "S1", game.Buy, 10))
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S1", game.Sell, 11), game.ErrInsufficientHoldings)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S9", game.Buy, 1_000_000), game.ErrInsufficientFunds)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "NOPE", game.Buy, 1), game.ErrUnknownInstrument)
	require.NoError(t, b.SetWatch(ctx, "S2", true))
	assert.Equal(t, []string{"S2"}, b.Watchlist())

	prog, err = b.AdvanceDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, prog.Day)

	quotes, err := b.Quotes(ctx)
	require.NoError(t, err)
	pf, err := b.Portfolio(ctx, quotes)
	require.NoError(t, err)
	require.Len(t, pf.Positions, 1)
	assert.Equal(t, "S1", pf.Positions[0].InstrumentID, "holding resolved through the roster by tag")
	assert.Equal(t, int64(10), pf.Positions[0].Quantity)
	require.Len(t, pf.Transactions, 1)
	assert.Equal(t, game.Buy, pf.Transactions[0].Side)
	assert.Equal(t, []string{"S2"}, pf.Watchlist)
	assert.InDelta(t, pf.Valuation.Cash+pf.Valuation.StockValuation, pf.Valuation.Total, 1e-6)

	detail, err := b.Detail(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, detail.History, game.PastDays+2)
	assert.Equal(t, detail.Price, detail.History[len(detail.History)-1])

	api := b.API()
	info, err := api.OrderInfo(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Quantity)
	assert.Equal(t, game.MaxBuyable(info.Cash, detail.Price), info.MaxBuyable)

	posts, err := api.Reddit(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, posts, len(game.Personas))
	company, err := api.Company(ctx, "S1")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", company.StockTag)
	total, err := api.Total(ctx, "S1")
	require.NoError(t, err)
	assert.Contains(t, []string{"bullish", "bearish", "neutral"}, total.Opinion)
	macro, err := api.Macro(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, macro.Day)
	assert.NotEmpty(t, macro.Headline)
	news, err := api.News(ctx, "S1")
	require.NoError(t, err)
	for _, e := range news {
		assert.Equal(t, "S1", e.InstrumentID)
	}

	prog, err = b.Finish(ctx)
	require.NoError(t, err)
	assert.True(t, prog.GameOver)
	assert.ErrorIs(t, b.PlaceOrder(ctx, "S1", game.Buy, 1), game.ErrGameOver)
	_, err = b.AdvanceDay(ctx)
	assert.ErrorIs(t, err, game.ErrGameOver)

	res, err := b.Result(ctx)
	require.NoError(t, err)
	assert.Equal(t, game.StartingCash, res.InitialCash)
	assert.Equal(t, 1, res.Day)
	assert.InDelta(t, res.Total-res.InitialCash, res.Profit, 1e-6)
}

func TestAdvanceToEnd(t *testing.T) {
	h := newHarness(t, Config{MaxDays: 3})
	ctx := context.Background()
	b := remote.NewBackend(remote.NewAPI(h.client(t, "dave")), quiet())
	_, err := b.Start(ctx)
	require.NoError(t, err)

	var prog game.Progress
	for i := 0; i < 3; i++ {
		prog, err = b.AdvanceDay(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, game.Progress{Day: 2, MaxDay: 3, GameOver: true}, prog)
	_, err = b.AdvanceDay(ctx)
	assert.ErrorIs(t, err, game.ErrGameOver)
}

func TestExpiredAccessTokenIsRefreshed(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	c := h.client(t, "bob")
	before, _, err := c.Credentials(ctx)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	quotes, err := remote.NewAPI(c).Stocks(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, quotes)

	after, _, err := c.Credentials(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.Equal(t, before.RefreshToken, after.RefreshToken)

	h.clock.Advance(2 * time.Hour)
	_, err = remote.NewAPI(c).Stocks(ctx)
	require.ErrorIs(t, err, session.ErrUnauthenticated)
	_, has, err := c.Credentials(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWarmupIsRetriedByBootstrap(t *testing.T) {
	h := newHarness(t, Config{Warmup: 5 * time.Second})
	ctx := context.Background()
	b := remote.NewBackend(remote.NewAPI(h.client(t, "carol")), quiet())
	_, err := b.Start(ctx)
	require.NoError(t, err)

	var sleeps int
	orch := bootstrap.New()
	orch.Log = quiet()
	orch.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		h.clock.Advance(d)
		return nil
	}
	snap, err := orch.Run(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, sleeps)
	assert.Equal(t, 0, snap.Portfolio.Day)
}

func TestWarmupExhaustsBootstrap(t *testing.T) {
	h := newHarness(t, Config{Warmup: time.Hour})
	ctx := context.Background()
	b := remote.NewBackend(remote.NewAPI(h.client(t, "erin")), quiet())
	_, err := b.Start(ctx)
	require.NoError(t, err)

	orch := bootstrap.New()
	orch.Log = quiet()
	orch.Sleep = func(context.Context, time.Duration) error { return nil }
	_, err = orch.Run(ctx, b)
	require.ErrorIs(t, err, bootstrap.ErrExhausted)
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
}

func TestAuthErrors(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	resp, err := http.Get(h.http.URL + "/api/stocks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := h.client(t, "frank")
	err = c.Signup(ctx, session.SignupRequest{UserAccount: "frank", UserPassword: "password1"})
	var reqErr *session.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusConflict, reqErr.StatusCode)

	other := session.NewClient(h.http.URL+"/api", kv.NewMemory(), session.WithLogger(quiet()))
	err = other.Login(ctx, "frank", "nope")
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)

	resp, err = http.Post(h.http.URL+"/api/auth/refresh", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOrderValidation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	c := h.client(t, "gina")

	var reqErr *session.RequestError
	err := c.Request(ctx, http.MethodPost, "/stocks/S1/orders/buy", map[string]int64{"quantity": 0}, nil)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Contains(t, reqErr.Message, game.ErrInvalidQuantity.Error())

	err = c.Request(ctx, http.MethodPost, "/stocks/S1/orders/short", map[string]int64{"quantity": 1}, nil)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)

	err = c.Request(ctx, http.MethodPost, "/stocks/S1/orders/buy", map[string]any{"quantity": 1, "price": 1}, nil)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)

	err = c.Request(ctx, http.MethodPost, "/users/interest/S1/poke", nil, nil)
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
}

func TestEventStream(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	c := h.client(t, "hank")
	creds, _, err := c.Credentials(ctx)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/api/events"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.AccessToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello streamEvent
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	require.NotNil(t, hello.Progress)

	_, err = remote.NewAPI(c).Next(ctx)
	require.NoError(t, err)
	var ev streamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "day", ev.Type)
	require.NotNil(t, ev.Progress)
	assert.Equal(t, 1, ev.Progress.Day)

	_, _, err = websocket.DefaultDialer.Dial(wsURL, nil)
	assert.Error(t, err, "unauthenticated stream must be rejected")
}
