package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"stocksim/internal/kv"
	"stocksim/internal/market"
)

const (
	StateKey = "stocksim_game_state"
	AuthKey  = "stocksim_auth"
)

// LocalBackend runs the whole game in process over a generated series and
// persists a snapshot after every transition. It is not safe for concurrent
// use; callers serialize mutating operations.
type LocalBackend struct {
	series   *market.Series
	store    kv.Store
	key      string
	cash     float64
	maxDays  int
	pastDays int
	rng      *rand.Rand
	now      func() time.Time
	log      *slog.Logger
	state    *State
}

type LocalOption func(*LocalBackend)

func WithStateKey(key string) LocalOption { return func(b *LocalBackend) { b.key = key } }
func WithStartingCash(c float64) LocalOption { return func(b *LocalBackend) { b.cash = c } }
func WithMaxDays(n int) LocalOption { return func(b *LocalBackend) { b.maxDays = n } }
func WithPastDays(n int) LocalOption { return func(b *LocalBackend) { b.pastDays = n } }
func WithRand(r *rand.Rand) LocalOption { return func(b *LocalBackend) { b.rng = r } }
func WithClock(now func() time.Time) LocalOption { return func(b *LocalBackend) { b.now = now } }
func WithLogger(l *slog.Logger) LocalOption { return func(b *LocalBackend) { b.log = l } }

func NewLocalBackend(series *market.Series, store kv.Store, opts ...LocalOption) *LocalBackend {
	b := &LocalBackend{
		series:   series,
		store:    store,
		key:      StateKey,
		cash:     StartingCash,
		maxDays:  MaxGameDays,
		pastDays: PastDays,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current game, loading or creating it on first use.
func (b *LocalBackend) State(ctx context.Context) (State, error) {
	if b.state != nil {
		return *b.state, nil
	}
	var st State
	ok, err := kv.GetJSON(ctx, b.store, b.key, &st)
	if err != nil {
		b.log.Warn("discarding unreadable game snapshot", "key", b.key, "err", err)
		ok = false
	}
	if ok {
		st = normalize(st)
		if err := b.validate(st); err != nil {
			b.log.Warn("discarding stale game snapshot", "key", b.key, "err", err)
			ok = false
		}
	}
	if !ok {
		st, err = b.fresh()
		if err != nil {
			return State{}, err
		}
		if err := b.save(ctx, st); err != nil {
			return State{}, err
		}
		return st, nil
	}
	b.state = &st
	return st, nil
}

func (b *LocalBackend) Start(ctx context.Context) (Progress, error) {
	st, err := b.fresh()
	if err != nil {
		return Progress{}, err
	}
	if err := b.save(ctx, st); err != nil {
		return Progress{}, err
	}
	b.log.Info("game started", "key", b.key, "start_day_index", st.StartDayIndex)
	return progressOf(st), nil
}

func (b *LocalBackend) PlaceOrder(ctx context.Context, instrumentID string, side Side, quantity int64) error {
	st, err := b.State(ctx)
	if err != nil {
		return err
	}
	if st.IsGameOver {
		return ErrGameOver
	}
	price, err := b.series.Price(instrumentID, st.Day())
	if err != nil {
		return err
	}
	next, err := ApplyOrder(st, Order{InstrumentID: instrumentID, Side: side, Quantity: quantity, Price: price}, b.now())
	if err != nil {
		return err
	}
	return b.save(ctx, next)
}

func (b *LocalBackend) AdvanceDay(ctx context.Context) (Progress, error) {
	st, err := b.State(ctx)
	if err != nil {
		return Progress{}, err
	}
	next, err := AdvanceDay(st, b.series)
	if err != nil {
		return progressOf(st), err
	}
	if err := b.save(ctx, next); err != nil {
		return progressOf(st), err
	}
	return progressOf(next), nil
}

func (b *LocalBackend) Finish(ctx context.Context) (Progress, error) {
	st, err := b.State(ctx)
	if err != nil {
		return Progress{}, err
	}
	next, err := Quit(st)
	if err != nil {
		return progressOf(st), err
	}
	if err := b.save(ctx, next); err != nil {
		return progressOf(st), err
	}
	return progressOf(next), nil
}

func (b *LocalBackend) Result(ctx context.Context) (Result, error) {
	st, err := b.State(ctx)
	if err != nil {
		return Result{}, err
	}
	return Summarize(st, b.lookup(st.Day()))
}

func (b *LocalBackend) SetWatch(ctx context.Context, instrumentID string, watch bool) error {
	if _, ok := b.series.Instrument(instrumentID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	st, err := b.State(ctx)
	if err != nil {
		return err
	}
	return b.save(ctx, SetWatch(st, instrumentID, watch))
}

func (b *LocalBackend) Quotes(ctx context.Context) ([]Quote, error) {
	st, err := b.State(ctx)
	if err != nil {
		return nil, err
	}
	insts := b.series.Instruments()
	out := make([]Quote, 0, len(insts))
	for _, inst := range insts {
		q, err := b.quote(inst, st.Day())
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (b *LocalBackend) Detail(ctx context.Context, instrumentID string) (StockDetail, error) {
	inst, ok := b.series.Instrument(instrumentID)
	if !ok {
		return StockDetail{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, instrumentID)
	}
	st, err := b.State(ctx)
	if err != nil {
		return StockDetail{}, err
	}
	q, err := b.quote(inst, st.Day())
	if err != nil {
		return StockDetail{}, err
	}
	history, err := b.series.Window(instrumentID, st.StartDayIndex-b.pastDays, st.Day())
	if err != nil {
		return StockDetail{}, err
	}
	return StockDetail{Quote: q, Volatility: inst.Volatility, History: history}, nil
}

// Portfolio ignores roster: the local series is its own identity source.
func (b *LocalBackend) Portfolio(ctx context.Context, _ []Quote) (Portfolio, error) {
	st, err := b.State(ctx)
	if err != nil {
		return Portfolio{}, err
	}
	day := st.Day()
	val, err := Valuate(st, b.lookup(day))
	if err != nil {
		return Portfolio{}, err
	}
	p := Portfolio{
		Progress:     progressOf(st),
		Valuation:    val,
		Positions:    make([]Position, 0, len(st.Holdings)),
		Transactions: append([]Transaction(nil), st.Transactions...),
		Watchlist:    make([]string, 0, len(st.Watchlist)),
		Events:       append([]Event(nil), st.EventLog...),
	}
	for _, inst := range b.series.Instruments() {
		h, held := st.Holdings[inst.ID]
		if held {
			q, err := b.quote(inst, day)
			if err != nil {
				return Portfolio{}, err
			}
			p.Positions = append(p.Positions, Position{
				InstrumentID: inst.ID,
				Name:         inst.DisplayName,
				Tag:          inst.TickerTag,
				Quantity:     h.Quantity,
				AvgCost:      h.AvgCost,
				Value:        float64(h.Quantity) * q.Price,
				ChangePct:    q.ChangePct,
			})
		}
		if st.Watching(inst.ID) {
			p.Watchlist = append(p.Watchlist, inst.ID)
		}
	}
	return p, nil
}

func (b *LocalBackend) Series() *market.Series {
	return b.series
}

func (b *LocalBackend) fresh() (State, error) {
	start, err := RandomStartIndex(b.rng, b.series.Horizon(), b.pastDays, b.maxDays)
	if err != nil {
		return State{}, err
	}
	return Reset(start, b.maxDays, b.cash)
}

func (b *LocalBackend) save(ctx context.Context, st State) error {
	if err := kv.SetJSON(ctx, b.store, b.key, st); err != nil {
		return fmt.Errorf("save game: %w", err)
	}
	b.state = &st
	return nil
}

func (b *LocalBackend) validate(st State) error {
	if st.MaxDayOffset < 1 || st.CurrentDayOffset < 0 || st.CurrentDayOffset > st.MaxDayOffset {
		return fmt.Errorf("day cursor %d/%d out of range", st.CurrentDayOffset, st.MaxDayOffset)
	}
	if st.StartDayIndex < 0 || st.StartDayIndex+st.MaxDayOffset > b.series.Horizon() {
		return fmt.Errorf("start index %d does not fit horizon %d", st.StartDayIndex, b.series.Horizon())
	}
	if st.Cash < 0 {
		return fmt.Errorf("negative cash")
	}
	for id, h := range st.Holdings {
		if _, ok := b.series.Instrument(id); !ok || h.Quantity <= 0 {
			return fmt.Errorf("invalid holding %s", id)
		}
	}
	return nil
}

func (b *LocalBackend) lookup(day int) PriceLookup {
	return func(id string) (float64, error) {
		return b.series.Price(id, day)
	}
}

func (b *LocalBackend) quote(inst market.Instrument, day int) (Quote, error) {
	price, err := b.series.Price(inst.ID, day)
	if err != nil {
		return Quote{}, err
	}
	pct, err := b.series.DailyChange(inst.ID, day)
	if err != nil {
		return Quote{}, err
	}
	amount := 0.0
	if day > 0 {
		prev, _ := b.series.Price(inst.ID, day-1)
		amount = price - prev
	}
	return Quote{
		InstrumentID: inst.ID,
		Name:         inst.DisplayName,
		Tag:          inst.TickerTag,
		Price:        price,
		ChangePct:    pct,
		ChangeAmount: amount,
	}, nil
}

func progressOf(st State) Progress {
	return Progress{Day: st.CurrentDayOffset, MaxDay: st.MaxDayOffset, GameOver: st.IsGameOver}
}

func normalize(st State) State {
	if st.Holdings == nil {
		st.Holdings = map[string]Holding{}
	}
	if st.Transactions == nil {
		st.Transactions = []Transaction{}
	}
	if st.Watchlist == nil {
		st.Watchlist = map[string]struct{}{}
	}
	if st.EventLog == nil {
		st.EventLog = []Event{}
	}
	sort.SliceStable(st.EventLog, func(i, j int) bool { return st.EventLog[i].Day > st.EventLog[j].Day })
	if len(st.EventLog) > EventLogLimit {
		st.EventLog = st.EventLog[:EventLogLimit]
	}
	return st
}
