package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stocksim/internal/game"
	"stocksim/internal/remote"
)

// gameHandler resolves the caller and runs fn under their game lock. fn
// returns the response payload.
func (s *Server) gameHandler(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, p *player) (any, error)) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var out any
	err = s.withPlayer(r.Context(), userID, func(p *player) error {
		var err error
		out, err = fn(r.Context(), p)
		return err
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) requireInstrument(id string) error {
	if _, ok := s.series.Instrument(id); !ok {
		return fmt.Errorf("%w: %s", game.ErrUnknownInstrument, id)
	}
	return nil
}

func wireStock(q game.Quote) remote.WireStock {
	price := q.Price
	return remote.WireStock{
		ID:           q.InstrumentID,
		StockName:    q.Name,
		StockTag:     q.Tag,
		CurrentPrice: &price,
		MarketPrice:  q.Price - q.ChangeAmount,
		ChangeRate:   q.ChangePct,
		ChangeAmount: q.ChangeAmount,
	}
}

func progressWire(p game.Progress) remote.WireProgress {
	return remote.WireProgress{CurrentDay: p.Day, MaxDay: p.MaxDay, GameOver: p.GameOver}
}

func (s *Server) handleStocks(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		quotes, err := p.backend.Quotes(ctx)
		if err != nil {
			return nil, err
		}
		board := make([]remote.WireStock, 0, len(quotes))
		for _, q := range quotes {
			board = append(board, wireStock(q))
		}
		return map[string]any{"dashBoard": board}, nil
	})
}

func (s *Server) handleStockDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		d, err := p.backend.Detail(ctx, id)
		if err != nil {
			return nil, err
		}
		price := d.Price
		return remote.WireStockDetail{
			ID:           d.InstrumentID,
			StockName:    d.Name,
			StockTag:     d.Tag,
			CurrentPrice: &price,
			ChangeRate:   d.ChangePct,
			Volatility:   d.Volatility,
			MarketPrice:  d.History,
		}, nil
	})
}

func (s *Server) handleOrderInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		if err := s.requireInstrument(id); err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		price, err := s.series.Price(id, st.Day())
		if err != nil {
			return nil, err
		}
		h := st.Holdings[id]
		return remote.OrderInfo{
			Quantity:   h.Quantity,
			AvgCost:    h.AvgCost,
			Cash:       st.Cash,
			MaxBuyable: game.MaxBuyable(st.Cash, price),
		}, nil
	})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.series.Instrument(chi.URLParam(r, "id"))
	if !ok {
		writeDomainError(w, game.ErrUnknownInstrument)
		return
	}
	writeJSON(w, http.StatusOK, remote.Company{
		StockName:  inst.DisplayName,
		StockTag:   inst.TickerTag,
		BasePrice:  inst.BasePrice,
		Volatility: inst.Volatility,
	})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		if err := s.requireInstrument(id); err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		news := make([]game.Event, 0, len(st.EventLog))
		for _, e := range st.EventLog {
			if e.InstrumentID == id {
				news = append(news, e)
			}
		}
		return map[string]any{"news": news}, nil
	})
}

func (s *Server) todayChange(ctx context.Context, p *player, id string) (float64, error) {
	if err := s.requireInstrument(id); err != nil {
		return 0, err
	}
	st, err := p.backend.State(ctx)
	if err != nil {
		return 0, err
	}
	return s.series.DailyChange(id, st.Day())
}

func (s *Server) handleReddit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		change, err := s.todayChange(ctx, p, id)
		if err != nil {
			return nil, err
		}
		posts := make([]remote.Post, 0, len(game.Personas))
		for _, persona := range game.Personas {
			posts = append(posts, remote.Post{Persona: persona.Name, Comment: persona.Comment(change)})
		}
		return map[string]any{"posts": posts}, nil
	})
}

// handleTotal reports the move since the first game day.
func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		if err := s.requireInstrument(id); err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		first, err := s.series.Price(id, st.StartDayIndex)
		if err != nil {
			return nil, err
		}
		cur, err := s.series.Price(id, st.Day())
		if err != nil {
			return nil, err
		}
		change := (cur - first) / first * 100
		opinion := "neutral"
		switch {
		case change > 0:
			opinion = "bullish"
		case change < 0:
			opinion = "bearish"
		}
		return remote.Total{ChangeRate: change, Opinion: opinion}, nil
	})
}

func (s *Server) handleMacro(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		quotes, err := p.backend.Quotes(ctx)
		if err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, q := range quotes {
			sum += q.ChangePct
		}
		m := remote.Macro{Day: st.CurrentDayOffset, MaxDay: st.MaxDayOffset}
		if len(quotes) > 0 {
			m.MarketChangeRate = sum / float64(len(quotes))
		}
		if len(st.EventLog) > 0 {
			m.Headline = st.EventLog[0].Headline
		}
		return m, nil
	})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	side, err := game.ParseSide(chi.URLParam(r, "side"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var in struct {
		Quantity int64 `json:"quantity"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := userFromContext(r.Context())
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		if err := p.backend.PlaceOrder(ctx, id, side, in.Quantity); err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		price, err := s.series.Price(id, st.Day())
		if err != nil {
			return nil, err
		}
		s.log.Info("order filled", "user_id", userID, "instrument", id, "side", side, "quantity", in.Quantity, "price", price)
		s.publish(userID, "order", nil, id)
		return remote.Fill{Cash: st.Cash, Quantity: st.Holdings[id].Quantity, Price: price}, nil
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.progressHandler(w, r, "start", func(ctx context.Context, p *player) (game.Progress, error) {
		prog, err := p.backend.Start(ctx)
		if err == nil {
			p.startedAt = s.now()
		}
		return prog, err
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.progressHandler(w, r, "day", func(ctx context.Context, p *player) (game.Progress, error) {
		return p.backend.AdvanceDay(ctx)
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.progressHandler(w, r, "finish", func(ctx context.Context, p *player) (game.Progress, error) {
		return p.backend.Finish(ctx)
	})
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request, event string, fn func(ctx context.Context, p *player) (game.Progress, error)) {
	userID, _ := userFromContext(r.Context())
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		prog, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		s.publish(userID, event, &prog, "")
		return progressWire(prog), nil
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		return p.backend.Result(ctx)
	})
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		res, err := p.backend.Result(ctx)
		if err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		return remote.Asset{
			Cash:           res.Cash,
			StockValuation: res.StockValuation,
			Total:          res.Total,
			Profit:         res.Profit,
			ProfitRate:     res.ProfitRate,
			CurrentDay:     st.CurrentDayOffset,
			MaxDay:         st.MaxDayOffset,
			GameOver:       st.IsGameOver,
		}, nil
	})
}

// handleHoldings leaves stockId out; clients resolve entries by stockTag.
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		pf, err := p.backend.Portfolio(ctx, nil)
		if err != nil {
			return nil, err
		}
		out := make([]remote.WireHolding, 0, len(pf.Positions))
		for _, pos := range pf.Positions {
			out = append(out, remote.WireHolding{
				StockName:      pos.Name,
				StockTag:       pos.Tag,
				Quantity:       pos.Quantity,
				AvgCost:        pos.AvgCost,
				StockValuation: pos.Value,
				ChangeRate:     pos.ChangePct,
			})
		}
		return map[string]any{"holdings": out}, nil
	})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]remote.WireTransaction, 0, len(st.Transactions))
		for _, tx := range st.Transactions {
			inst, _ := s.series.Instrument(tx.InstrumentID)
			out = append(out, remote.WireTransaction{
				Date:        tx.Timestamp.UTC().Format(time.RFC3339),
				StockName:   inst.DisplayName,
				StockTag:    inst.TickerTag,
				Type:        string(tx.Side),
				Quantity:    tx.Quantity,
				Price:       tx.Price,
				TotalAmount: tx.Price * float64(tx.Quantity),
				Day:         tx.DayOffset,
			})
		}
		return map[string]any{"transactions": out}, nil
	})
}

func (s *Server) handleInterests(w http.ResponseWriter, r *http.Request) {
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		quotes, err := p.backend.Quotes(ctx)
		if err != nil {
			return nil, err
		}
		st, err := p.backend.State(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]remote.WireInterest, 0, len(st.Watchlist))
		for _, q := range quotes {
			if !st.Watching(q.InstrumentID) {
				continue
			}
			out = append(out, remote.WireInterest{
				StockID:      q.InstrumentID,
				StockName:    q.Name,
				StockTag:     q.Tag,
				CurrentPrice: q.Price,
				ChangeRate:   q.ChangePct,
			})
		}
		return map[string]any{"interests": out}, nil
	})
}

func (s *Server) handleInterestToggle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var watch bool
	switch strings.ToLower(chi.URLParam(r, "action")) {
	case "like":
		watch = true
	case "dislike":
		watch = false
	default:
		writeError(w, http.StatusNotFound, "unknown interest action")
		return
	}
	userID, _ := userFromContext(r.Context())
	s.gameHandler(w, r, func(ctx context.Context, p *player) (any, error) {
		if err := p.backend.SetWatch(ctx, id, watch); err != nil {
			return nil, err
		}
		s.publish(userID, "watch", nil, id)
		return map[string]any{"ok": true}, nil
	})
}
