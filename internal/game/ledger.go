package game

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PriceLookup resolves the current price of an instrument.
type PriceLookup func(instrumentID string) (float64, error)

type Valuation struct {
	Cash           float64 `json:"cash"`
	StockValuation float64 `json:"stockValuation"`
	Total          float64 `json:"total"`
}

// ApplyOrder executes o against st at o.Price. A rejected order returns st
// unchanged together with the error.
func ApplyOrder(st State, o Order, at time.Time) (State, error) {
	if st.IsGameOver {
		return st, ErrGameOver
	}
	if o.Quantity <= 0 {
		return st, fmt.Errorf("%w: got %d", ErrInvalidQuantity, o.Quantity)
	}
	if o.Price <= 0 {
		return st, fmt.Errorf("%w: got %v", ErrInvalidPrice, o.Price)
	}
	notional := float64(o.Quantity) * o.Price

	switch o.Side {
	case Buy:
		if st.Cash < notional {
			return st, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, notional, st.Cash)
		}
		out := st.Clone()
		out.Cash -= notional
		h, held := out.Holdings[o.InstrumentID]
		if held {
			qty := h.Quantity + o.Quantity
			h.AvgCost = (float64(h.Quantity)*h.AvgCost + notional) / float64(qty)
			h.Quantity = qty
		} else {
			h = Holding{Quantity: o.Quantity, AvgCost: o.Price}
		}
		out.Holdings[o.InstrumentID] = h
		out.Transactions = append(out.Transactions, newTransaction(out, o, at))
		return out, nil

	case Sell:
		h := st.Holdings[o.InstrumentID]
		if h.Quantity < o.Quantity {
			return st, fmt.Errorf("%w: want %d, hold %d", ErrInsufficientHoldings, o.Quantity, h.Quantity)
		}
		out := st.Clone()
		out.Cash += notional
		h.Quantity -= o.Quantity
		if h.Quantity == 0 {
			delete(out.Holdings, o.InstrumentID)
		} else {
			out.Holdings[o.InstrumentID] = h
		}
		out.Transactions = append(out.Transactions, newTransaction(out, o, at))
		return out, nil
	}
	return st, fmt.Errorf("%w: %q", ErrInvalidSide, o.Side)
}

func newTransaction(st State, o Order, at time.Time) Transaction {
	return Transaction{
		ID:           uuid.NewString(),
		Side:         o.Side,
		InstrumentID: o.InstrumentID,
		Price:        o.Price,
		Quantity:     o.Quantity,
		DayOffset:    st.CurrentDayOffset,
		Timestamp:    at.UTC(),
	}
}

// Valuate sums quantity*price over all holdings. It does not modify st.
func Valuate(st State, lookup PriceLookup) (Valuation, error) {
	ids := make([]string, 0, len(st.Holdings))
	for id := range st.Holdings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	v := Valuation{Cash: st.Cash}
	for _, id := range ids {
		price, err := lookup(id)
		if err != nil {
			return Valuation{}, fmt.Errorf("price %s: %w", id, err)
		}
		v.StockValuation += float64(st.Holdings[id].Quantity) * price
	}
	v.Total = v.Cash + v.StockValuation
	return v, nil
}

// MaxBuyable is the largest quantity of an instrument at price that cash covers.
func MaxBuyable(cash, price float64) int64 {
	if price <= 0 || cash <= 0 {
		return 0
	}
	return int64(cash / price)
}

// SetWatch adds or removes id from the watchlist.
func SetWatch(st State, id string, watch bool) State {
	out := st.Clone()
	if watch {
		out.Watchlist[id] = struct{}{}
	} else {
		delete(out.Watchlist, id)
	}
	return out
}
