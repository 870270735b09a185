package game

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stocksim/internal/market"
)

const (
	StartingCash  = 10_000_000.0
	MaxGameDays   = 20
	PastDays      = 10
	HorizonDays   = 365
	MarketSeed    = int64(12345)
	EventLogLimit = 5
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be a positive integer")
	ErrInvalidPrice         = errors.New("price must be > 0")
	ErrInvalidSide          = errors.New("side must be BUY or SELL")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrGameOver             = errors.New("game is over")
	ErrUnknownInstrument    = market.ErrUnknownInstrument
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

type Phase string

const (
	Active Phase = "ACTIVE"
	Over   Phase = "OVER"
)

type Holding struct {
	Quantity int64   `json:"quantity"`
	AvgCost  float64 `json:"avgCost"`
}

// Order is consumed immediately by ApplyOrder and never stored.
type Order struct {
	InstrumentID string
	Side         Side
	Quantity     int64
	Price        float64
}

type Transaction struct {
	ID           string    `json:"id"`
	Side         Side      `json:"side"`
	InstrumentID string    `json:"instrumentId"`
	Price        float64   `json:"price"`
	Quantity     int64     `json:"quantity"`
	DayOffset    int       `json:"dayOffset"`
	Timestamp    time.Time `json:"timestamp"`
}

// Event is one news-feed headline.
type Event struct {
	Day          int     `json:"day"`
	InstrumentID string  `json:"instrumentId"`
	ChangePct    float64 `json:"changePct"`
	Headline     string  `json:"headline"`
}

// State is one playthrough. It is treated as a value: every transition
// returns a new State and leaves its input untouched.
type State struct {
	StartDayIndex    int                 `json:"startDayIndex"`
	CurrentDayOffset int                 `json:"currentDayOffset"`
	MaxDayOffset     int                 `json:"maxDayOffset"`
	IsGameOver       bool                `json:"isGameOver"`
	InitialCash      float64             `json:"initialCash"`
	Cash             float64             `json:"cash"`
	Holdings         map[string]Holding  `json:"holdings"`
	Transactions     []Transaction       `json:"transactions"`
	Watchlist        map[string]struct{} `json:"watchlist"`
	EventLog         []Event             `json:"eventLog"`
}

func NewState(startDayIndex, maxDayOffset int, cash float64) (State, error) {
	if maxDayOffset < 1 {
		return State{}, fmt.Errorf("max day offset must be >= 1, got %d", maxDayOffset)
	}
	if startDayIndex < 0 {
		return State{}, fmt.Errorf("start day index must be >= 0, got %d", startDayIndex)
	}
	if cash < 0 {
		return State{}, fmt.Errorf("starting cash must be >= 0")
	}
	return State{
		StartDayIndex: startDayIndex,
		MaxDayOffset:  maxDayOffset,
		InitialCash:   cash,
		Cash:          cash,
		Holdings:      map[string]Holding{},
		Transactions:  []Transaction{},
		Watchlist:     map[string]struct{}{},
		EventLog:      []Event{},
	}, nil
}

func (s State) Phase() Phase {
	if s.IsGameOver {
		return Over
	}
	return Active
}

// Day is the absolute series index of the current day.
func (s State) Day() int {
	return s.StartDayIndex + s.CurrentDayOffset
}

func (s State) Watching(id string) bool {
	_, ok := s.Watchlist[id]
	return ok
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Holdings = make(map[string]Holding, len(s.Holdings))
	for k, v := range s.Holdings {
		out.Holdings[k] = v
	}
	out.Transactions = append(make([]Transaction, 0, len(s.Transactions)), s.Transactions...)
	out.Watchlist = make(map[string]struct{}, len(s.Watchlist))
	for k := range s.Watchlist {
		out.Watchlist[k] = struct{}{}
	}
	out.EventLog = append(make([]Event, 0, len(s.EventLog)), s.EventLog...)
	return out
}
