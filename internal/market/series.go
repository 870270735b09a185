package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// FloorPrice is the lowest price a generated series may reach.
	FloorPrice = 100.0

	minVolatility    = 0.015
	volatilitySpread = 0.035
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrDayOutOfRange     = errors.New("day out of range")
)

// Listing is a roster entry before generation.
type Listing struct {
	ID          string
	DisplayName string
	TickerTag   string
	BasePrice   float64
}

// Instrument is a generated, immutable roster entry.
type Instrument struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	TickerTag   string  `json:"tickerTag"`
	BasePrice   float64 `json:"basePrice"`
	Volatility  float64 `json:"volatility"`
}

// DefaultRoster is the fixed basket of the game. Order matters: it decides how
// many sequence values each instrument consumes before the next one.
var DefaultRoster = []Listing{
	{ID: "S1", DisplayName: "NVIDIA", TickerTag: "NVDA", BasePrice: 130000},
	{ID: "S2", DisplayName: "Apple", TickerTag: "AAPL", BasePrice: 180000},
	{ID: "S3", DisplayName: "Microsoft", TickerTag: "MSFT", BasePrice: 400000},
	{ID: "S4", DisplayName: "Alphabet", TickerTag: "GOOGL", BasePrice: 170000},
	{ID: "S5", DisplayName: "Amazon", TickerTag: "AMZN", BasePrice: 180000},
	{ID: "S6", DisplayName: "Meta Platforms", TickerTag: "META", BasePrice: 470000},
	{ID: "S7", DisplayName: "Broadcom", TickerTag: "AVGO", BasePrice: 160000},
	{ID: "S8", DisplayName: "Tesla", TickerTag: "TSLA", BasePrice: 220000},
	{ID: "S9", DisplayName: "Berkshire Hathaway", TickerTag: "BRK.B", BasePrice: 600000},
	{ID: "S10", DisplayName: "Walmart", TickerTag: "WMT", BasePrice: 60000},
}

// Series holds the full price history of every instrument in a roster.
type Series struct {
	seed        int64
	horizon     int
	instruments []Instrument
	index       map[string]int
	prices      [][]float64
}

// Mover is one instrument's single-day percentage change.
type Mover struct {
	InstrumentID string
	ChangePct    float64
}

// Generate builds the price history for roster over horizon days. The result
// depends only on (seed, roster, horizon).
func Generate(seed int64, roster []Listing, horizon int) (*Series, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("horizon must be >= 1, got %d", horizon)
	}
	if len(roster) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}
	s := &Series{
		seed:        seed,
		horizon:     horizon,
		instruments: make([]Instrument, 0, len(roster)),
		index:       make(map[string]int, len(roster)),
		prices:      make([][]float64, 0, len(roster)),
	}
	rng := NewSeededRandom(seed)
	for _, l := range roster {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			return nil, fmt.Errorf("roster entry %q has no id", l.TickerTag)
		}
		if _, dup := s.index[id]; dup {
			return nil, fmt.Errorf("duplicate instrument id %q", id)
		}
		if l.BasePrice <= 0 {
			return nil, fmt.Errorf("instrument %s: base price must be > 0", id)
		}

		volatility := minVolatility + rng.Next()*volatilitySpread
		prices := make([]float64, horizon)
		prices[0] = l.BasePrice
		for day := 1; day < horizon; day++ {
			delta := (rng.Next() - 0.5) * 2 * volatility
			next := math.Floor(prices[day-1] * (1 + delta))
			if next < FloorPrice {
				next = FloorPrice
			}
			prices[day] = next
		}

		s.index[id] = len(s.instruments)
		s.instruments = append(s.instruments, Instrument{
			ID:          id,
			DisplayName: l.DisplayName,
			TickerTag:   l.TickerTag,
			BasePrice:   l.BasePrice,
			Volatility:  volatility,
		})
		s.prices = append(s.prices, prices)
	}
	return s, nil
}

func (s *Series) Seed() int64  { return s.seed }
func (s *Series) Horizon() int { return s.horizon }

// Instruments returns the roster in generation order.
func (s *Series) Instruments() []Instrument {
	out := make([]Instrument, len(s.instruments))
	copy(out, s.instruments)
	return out
}

func (s *Series) Instrument(id string) (Instrument, bool) {
	i, ok := s.index[id]
	if !ok {
		return Instrument{}, false
	}
	return s.instruments[i], true
}

// Price returns the price of id at absolute day.
func (s *Series) Price(id string, day int) (float64, error) {
	i, ok := s.index[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownInstrument, id)
	}
	if day < 0 || day >= s.horizon {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrDayOutOfRange, day, s.horizon)
	}
	return s.prices[i][day], nil
}

// Window returns a copy of prices for days [from, to] inclusive, clipped to the horizon.
func (s *Series) Window(id string, from, to int) ([]float64, error) {
	i, ok := s.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstrument, id)
	}
	if from < 0 {
		from = 0
	}
	if to >= s.horizon {
		to = s.horizon - 1
	}
	if from > to {
		return []float64{}, nil
	}
	out := make([]float64, to-from+1)
	copy(out, s.prices[i][from:to+1])
	return out, nil
}

// DailyChange is the percentage move of id from day-1 to day. Day 0 has no move.
func (s *Series) DailyChange(id string, day int) (float64, error) {
	cur, err := s.Price(id, day)
	if err != nil {
		return 0, err
	}
	if day == 0 {
		return 0, nil
	}
	prev, err := s.Price(id, day-1)
	if err != nil {
		return 0, err
	}
	return (cur - prev) / prev * 100, nil
}

// LargestMover returns the instrument with the largest absolute single-day
// move at day. Ties keep the earlier roster entry.
func (s *Series) LargestMover(day int) (Mover, error) {
	var best Mover
	found := false
	for _, inst := range s.instruments {
		pct, err := s.DailyChange(inst.ID, day)
		if err != nil {
			return Mover{}, err
		}
		if !found || math.Abs(pct) > math.Abs(best.ChangePct) {
			best = Mover{InstrumentID: inst.ID, ChangePct: pct}
			found = true
		}
	}
	return best, nil
}
