package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stocksim/internal/game"
)

// ErrMalformed marks a response that does not fit the strict model.
var ErrMalformed = errors.New("malformed response")

// Wire types are the JSON shapes of the remote API. The server encodes them
// and the client decodes them before parsing into game types.
type WireStock struct {
	ID           string   `json:"id"`
	StockName    string   `json:"stockName"`
	StockTag     string   `json:"stockTag"`
	CurrentPrice *float64 `json:"currentPrice"`
	MarketPrice  float64  `json:"marketPrice"`
	ChangeRate   float64  `json:"changeRate"`
	ChangeAmount float64  `json:"changeAmount"`
}

type WireStockDetail struct {
	ID           string    `json:"id"`
	StockName    string    `json:"stockName"`
	StockTag     string    `json:"stockTag"`
	CurrentPrice *float64  `json:"currentPrice"`
	ChangeRate   float64   `json:"changeRate"`
	Volatility   float64   `json:"volatility"`
	MarketPrice  []float64 `json:"marketPrice"`
}

type WireHolding struct {
	StockID        string  `json:"stockId,omitempty"`
	StockName      string  `json:"stockName"`
	StockTag       string  `json:"stockTag"`
	Quantity       int64   `json:"quantity"`
	AvgCost        float64 `json:"avgCost"`
	StockValuation float64 `json:"stockValuation"`
	ChangeRate     float64 `json:"changeRate"`
}

type WireInterest struct {
	StockID      string  `json:"stockId"`
	StockName    string  `json:"stockName"`
	StockTag     string  `json:"stockTag"`
	CurrentPrice float64 `json:"currentPrice"`
	ChangeRate   float64 `json:"changeRate"`
}

type WireTransaction struct {
	Date        string  `json:"date"`
	StockName   string  `json:"stockName"`
	StockTag    string  `json:"stockTag"`
	Type        string  `json:"type"`
	Quantity    int64   `json:"quantity"`
	Price       float64 `json:"price"`
	TotalAmount float64 `json:"totalAmount"`
	Day         int     `json:"day"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ParseStockSummary maps one dashboard entry. id, stockTag and a positive
// currentPrice are required; change fields default to zero.
func ParseStockSummary(w WireStock) (game.Quote, error) {
	id := strings.TrimSpace(w.ID)
	tag := strings.TrimSpace(w.StockTag)
	if id == "" || tag == "" {
		return game.Quote{}, malformed("stock summary %q missing id or stockTag", w.StockName)
	}
	if w.CurrentPrice == nil || *w.CurrentPrice <= 0 {
		return game.Quote{}, malformed("stock %s has no current price", id)
	}
	return game.Quote{
		InstrumentID: id,
		Name:         w.StockName,
		Tag:          tag,
		Price:        *w.CurrentPrice,
		ChangePct:    w.ChangeRate,
		ChangeAmount: w.ChangeAmount,
	}, nil
}

func parseStockDetail(w WireStockDetail) (game.StockDetail, error) {
	q, err := ParseStockSummary(WireStock{
		ID:           w.ID,
		StockName:    w.StockName,
		StockTag:     w.StockTag,
		CurrentPrice: w.CurrentPrice,
		ChangeRate:   w.ChangeRate,
	})
	if err != nil {
		return game.StockDetail{}, err
	}
	history := append([]float64(nil), w.MarketPrice...)
	if len(history) == 0 {
		history = []float64{q.Price}
	}
	return game.StockDetail{Quote: q, Volatility: w.Volatility, History: history}, nil
}

// Roster resolves instrument identity for user-state entries.
type Roster struct {
	quotes []game.Quote
	byID   map[string]int
	byTag  map[string]int
}

func NewRoster(quotes []game.Quote) (*Roster, error) {
	r := &Roster{
		quotes: append([]game.Quote(nil), quotes...),
		byID:   make(map[string]int, len(quotes)),
		byTag:  make(map[string]int, len(quotes)),
	}
	for i, q := range r.quotes {
		if _, dup := r.byID[q.InstrumentID]; dup {
			return nil, malformed("duplicate instrument id %s", q.InstrumentID)
		}
		if _, dup := r.byTag[q.Tag]; dup {
			return nil, malformed("duplicate stock tag %s", q.Tag)
		}
		r.byID[q.InstrumentID] = i
		r.byTag[q.Tag] = i
	}
	return r, nil
}

func (r *Roster) Quotes() []game.Quote {
	return append([]game.Quote(nil), r.quotes...)
}

// Resolve finds the instrument by id, falling back to tag when id is empty.
func (r *Roster) Resolve(id, tag string) (game.Quote, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		if i, ok := r.byID[id]; ok {
			return r.quotes[i], nil
		}
		return game.Quote{}, malformed("stock id %s is not in the roster", id)
	}
	if i, ok := r.byTag[strings.TrimSpace(tag)]; ok {
		return r.quotes[i], nil
	}
	return game.Quote{}, malformed("stock tag %q is not in the roster", tag)
}

func ParseHolding(w WireHolding, r *Roster) (game.Position, error) {
	q, err := r.Resolve(w.StockID, w.StockTag)
	if err != nil {
		return game.Position{}, err
	}
	if w.Quantity <= 0 {
		return game.Position{}, malformed("holding %s has quantity %d", q.InstrumentID, w.Quantity)
	}
	return game.Position{
		InstrumentID: q.InstrumentID,
		Name:         q.Name,
		Tag:          q.Tag,
		Quantity:     w.Quantity,
		AvgCost:      w.AvgCost,
		Value:        w.StockValuation,
		ChangePct:    w.ChangeRate,
	}, nil
}

func ParseInterest(w WireInterest, r *Roster) (string, error) {
	q, err := r.Resolve(w.StockID, w.StockTag)
	if err != nil {
		return "", err
	}
	return q.InstrumentID, nil
}

func ParseTransaction(w WireTransaction, r *Roster) (game.Transaction, error) {
	q, err := r.Resolve("", w.StockTag)
	if err != nil {
		return game.Transaction{}, err
	}
	side, err := game.ParseSide(w.Type)
	if err != nil {
		return game.Transaction{}, malformed("transaction type %q", w.Type)
	}
	if w.Quantity <= 0 || w.Price <= 0 {
		return game.Transaction{}, malformed("transaction of %s has quantity %d price %v", q.Tag, w.Quantity, w.Price)
	}
	var at time.Time
	if w.Date != "" {
		at, err = time.Parse(time.RFC3339, w.Date)
		if err != nil {
			return game.Transaction{}, malformed("transaction date %q", w.Date)
		}
	}
	return game.Transaction{
		Side:         side,
		InstrumentID: q.InstrumentID,
		Price:        w.Price,
		Quantity:     w.Quantity,
		DayOffset:    w.Day,
		Timestamp:    at,
	}, nil
}
