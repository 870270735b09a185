package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"stocksim/internal/game"
	"stocksim/internal/session"
)

// Backend drives a server-authoritative game. It keeps the last roster so
// that user-state entries can be resolved and the watchlist reloaded.
type Backend struct {
	api       *API
	log       *slog.Logger
	roster    *Roster
	watchlist []string
}

var _ game.GameBackend = (*Backend)(nil)

func NewBackend(api *API, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{api: api, log: log}
}

func (b *Backend) API() *API { return b.api }

// Watchlist is the last known watchlist, refreshed after trades and toggles.
func (b *Backend) Watchlist() []string {
	return append([]string(nil), b.watchlist...)
}

func (b *Backend) Quotes(ctx context.Context) ([]game.Quote, error) {
	quotes, err := b.api.Stocks(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := NewRoster(quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

func (b *Backend) Detail(ctx context.Context, instrumentID string) (game.StockDetail, error) {
	d, err := b.api.Stock(ctx, instrumentID)
	return d, domainError(err)
}

func (b *Backend) Start(ctx context.Context) (game.Progress, error) {
	p, err := b.api.Start(ctx)
	if err == nil {
		b.watchlist = nil
	}
	return p, domainError(err)
}

func (b *Backend) PlaceOrder(ctx context.Context, instrumentID string, side game.Side, quantity int64) error {
	if quantity <= 0 {
		return game.ErrInvalidQuantity
	}
	if _, err := b.api.Order(ctx, instrumentID, side, quantity); err != nil {
		return domainError(err)
	}
	b.reloadWatchlist(ctx)
	return nil
}

func (b *Backend) AdvanceDay(ctx context.Context) (game.Progress, error) {
	p, err := b.api.Next(ctx)
	return p, domainError(err)
}

func (b *Backend) Finish(ctx context.Context) (game.Progress, error) {
	p, err := b.api.Finish(ctx)
	return p, domainError(err)
}

func (b *Backend) Result(ctx context.Context) (game.Result, error) {
	r, err := b.api.Result(ctx)
	return r, domainError(err)
}

// Portfolio loads the user-state bundle. roster must come from a preceding
// Quotes call; its identities resolve the entries.
func (b *Backend) Portfolio(ctx context.Context, roster []game.Quote) (game.Portfolio, error) {
	r, err := NewRoster(roster)
	if err != nil {
		return game.Portfolio{}, err
	}
	asset, err := b.api.Asset(ctx)
	if err != nil {
		return game.Portfolio{}, domainError(err)
	}
	positions, err := b.api.Holdings(ctx, r)
	if err != nil {
		return game.Portfolio{}, err
	}
	txs, err := b.api.Transactions(ctx, r)
	if err != nil {
		return game.Portfolio{}, err
	}
	watch, err := b.api.Interests(ctx, r)
	if err != nil {
		return game.Portfolio{}, err
	}
	macro, err := b.api.Macro(ctx)
	if err != nil {
		return game.Portfolio{}, err
	}
	var events []game.Event
	if macro.Headline != "" {
		events = append(events, game.Event{Day: macro.Day, Headline: macro.Headline, ChangePct: macro.MarketChangeRate})
	}

	b.roster = r
	b.watchlist = watch
	return game.Portfolio{
		Progress: game.Progress{Day: asset.CurrentDay, MaxDay: asset.MaxDay, GameOver: asset.GameOver},
		Valuation: game.Valuation{
			Cash:           asset.Cash,
			StockValuation: asset.StockValuation,
			Total:          asset.Total,
		},
		Positions:    positions,
		Transactions: txs,
		Watchlist:    append([]string(nil), watch...),
		Events:       events,
	}, nil
}

func (b *Backend) SetWatch(ctx context.Context, instrumentID string, watch bool) error {
	var err error
	if watch {
		err = b.api.Like(ctx, instrumentID)
	} else {
		err = b.api.Dislike(ctx, instrumentID)
	}
	if err != nil {
		return domainError(err)
	}
	b.reloadWatchlist(ctx)
	return nil
}

// reloadWatchlist is best effort: the mutation that preceded it already
// succeeded server side.
func (b *Backend) reloadWatchlist(ctx context.Context) {
	if b.roster == nil {
		return
	}
	watch, err := b.api.Interests(ctx, b.roster)
	if err != nil {
		b.log.Warn("watchlist reload failed", "err", err)
		return
	}
	b.watchlist = watch
}

var domainErrors = []error{
	game.ErrInvalidQuantity,
	game.ErrInvalidPrice,
	game.ErrInvalidSide,
	game.ErrInsufficientFunds,
	game.ErrInsufficientHoldings,
	game.ErrGameOver,
	game.ErrUnknownInstrument,
}

// domainError maps server rejections back onto the game sentinels so both
// backends fail the same way.
func domainError(err error) error {
	var reqErr *session.RequestError
	if !errors.As(err, &reqErr) {
		return err
	}
	switch reqErr.StatusCode {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", game.ErrGameOver, reqErr.Message)
	case http.StatusNotFound:
		if strings.Contains(reqErr.Message, game.ErrUnknownInstrument.Error()) {
			return fmt.Errorf("%w (%s)", game.ErrUnknownInstrument, reqErr.Message)
		}
	case http.StatusBadRequest:
		for _, target := range domainErrors {
			if strings.Contains(reqErr.Message, target.Error()) {
				return fmt.Errorf("%w (%s)", target, reqErr.Message)
			}
		}
	}
	return err
}
