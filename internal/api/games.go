package api

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"stocksim/internal/game"
)

// player is one user's game. mu serializes every operation on backend.
type player struct {
	mu        sync.Mutex
	backend   *game.LocalBackend
	startedAt time.Time
}

type registry struct {
	mu      sync.Mutex
	players map[string]*player
	seq     atomic.Int64
}

func newRegistry() *registry {
	return &registry{players: make(map[string]*player)}
}

func gameKey(userID string) string {
	return "game:" + userID
}

func (s *Server) player(userID string) *player {
	s.games.mu.Lock()
	defer s.games.mu.Unlock()
	p, ok := s.games.players[userID]
	if !ok {
		seed := time.Now().UnixNano() + s.games.seq.Add(1)
		p = &player{backend: game.NewLocalBackend(s.series, s.store,
			game.WithStateKey(gameKey(userID)),
			game.WithStartingCash(s.cfg.StartingCash),
			game.WithMaxDays(s.cfg.MaxDays),
			game.WithRand(rand.New(rand.NewSource(seed))),
			game.WithClock(s.now),
			game.WithLogger(s.log.With("user_id", userID)),
		)}
		s.games.players[userID] = p
	}
	return p
}

// withPlayer runs fn while holding the user's game lock.
func (s *Server) withPlayer(ctx context.Context, userID string, fn func(*player) error) error {
	p := s.player(userID)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(p)
}

func (p *player) warming(now time.Time, warmup time.Duration) bool {
	return warmup > 0 && !p.startedAt.IsZero() && now.Before(p.startedAt.Add(warmup))
}
