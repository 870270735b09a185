package game

import (
	"fmt"
	"math/rand"

	"stocksim/internal/market"
)

// Market is the read side of a generated price series.
type Market interface {
	Price(id string, day int) (float64, error)
	LargestMover(day int) (market.Mover, error)
	Instrument(id string) (market.Instrument, bool)
}

// AdvanceDay moves the day cursor forward by one. Reaching maxDayOffset clamps
// the cursor to the last playable day and ends the game. Headlines are only
// recorded while the game continues.
func AdvanceDay(st State, m Market) (State, error) {
	if st.IsGameOver {
		return st, ErrGameOver
	}
	next := st.CurrentDayOffset + 1
	over := false
	if next >= st.MaxDayOffset {
		next = st.MaxDayOffset - 1
		over = true
	}
	if next < st.CurrentDayOffset {
		next = st.CurrentDayOffset
	}

	mover, err := m.LargestMover(st.StartDayIndex + next)
	if err != nil {
		return st, fmt.Errorf("largest mover: %w", err)
	}

	out := st.Clone()
	out.CurrentDayOffset = next
	out.IsGameOver = over
	if !over {
		inst, _ := m.Instrument(mover.InstrumentID)
		out.EventLog = PushEvent(out.EventLog, Event{
			Day:          next,
			InstrumentID: mover.InstrumentID,
			ChangePct:    mover.ChangePct,
			Headline:     Headline(inst, mover.ChangePct),
		})
	}
	return out, nil
}

// Quit ends the game at the current day.
func Quit(st State) (State, error) {
	if st.IsGameOver {
		return st, ErrGameOver
	}
	out := st.Clone()
	out.IsGameOver = true
	return out, nil
}

// Reset discards any previous state and starts a fresh playthrough.
func Reset(startDayIndex, maxDayOffset int, cash float64) (State, error) {
	return NewState(startDayIndex, maxDayOffset, cash)
}

// PushEvent prepends e and keeps the newest EventLogLimit entries.
func PushEvent(log []Event, e Event) []Event {
	out := make([]Event, 0, EventLogLimit)
	out = append(out, e)
	for _, old := range log {
		if len(out) == EventLogLimit {
			break
		}
		out = append(out, old)
	}
	return out
}

// RandomStartIndex picks a start index that leaves pastDays of visible history
// before day 0 and maxDays of series after it.
func RandomStartIndex(rng *rand.Rand, horizon, pastDays, maxDays int) (int, error) {
	lo := pastDays
	hi := horizon - maxDays
	if hi < lo {
		return 0, fmt.Errorf("horizon %d too short for %d past days and %d game days", horizon, pastDays, maxDays)
	}
	return lo + rng.Intn(hi-lo+1), nil
}

type Result struct {
	InitialCash    float64 `json:"initialCash"`
	Cash           float64 `json:"cash"`
	StockValuation float64 `json:"stockValuation"`
	Total          float64 `json:"total"`
	Profit         float64 `json:"profit"`
	ProfitRate     float64 `json:"profitRate"`
	Day            int     `json:"day"`
	GameOver       bool    `json:"gameOver"`
}

// Summarize values st at its current day.
func Summarize(st State, lookup PriceLookup) (Result, error) {
	v, err := Valuate(st, lookup)
	if err != nil {
		return Result{}, err
	}
	r := Result{
		InitialCash:    st.InitialCash,
		Cash:           v.Cash,
		StockValuation: v.StockValuation,
		Total:          v.Total,
		Profit:         v.Total - st.InitialCash,
		Day:            st.CurrentDayOffset,
		GameOver:       st.IsGameOver,
	}
	if st.InitialCash > 0 {
		r.ProfitRate = r.Profit / st.InitialCash * 100
	}
	return r, nil
}
