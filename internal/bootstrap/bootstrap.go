package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stocksim/internal/game"
	"stocksim/internal/session"
)

const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 3 * time.Second
)

var ErrExhausted = errors.New("bootstrap attempts exhausted")

// Source is the two-step remote load. game.GameBackend satisfies it.
type Source interface {
	Quotes(ctx context.Context) ([]game.Quote, error)
	Portfolio(ctx context.Context, roster []game.Quote) (game.Portfolio, error)
}

// Snapshot is everything the main screen needs. It is only returned whole.
type Snapshot struct {
	Roster    []game.Quote
	Portfolio game.Portfolio
}

// Progress is reported before every attempt.
type Progress struct {
	Attempt     int
	MaxAttempts int
	LastErr     error
}

type Orchestrator struct {
	MaxAttempts int
	Delay       time.Duration
	OnProgress  func(Progress)
	// Permanent reports errors that retrying cannot fix. Defaults to
	// session.ErrUnauthenticated.
	Permanent func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
	Log       *slog.Logger
}

func New() *Orchestrator {
	return &Orchestrator{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// Run loads roster then portfolio, retrying the whole sequence after any
// failure. Partial results of a failed attempt are dropped.
func (o *Orchestrator) Run(ctx context.Context, src Source) (Snapshot, error) {
	maxAttempts := o.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	sleep := o.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	permanent := o.Permanent
	if permanent == nil {
		permanent = func(err error) bool { return errors.Is(err, session.ErrUnauthenticated) }
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if o.OnProgress != nil {
			o.OnProgress(Progress{Attempt: attempt, MaxAttempts: maxAttempts, LastErr: lastErr})
		}
		snap, err := load(ctx, src)
		if err == nil {
			log.Info("bootstrap complete", "attempt", attempt, "instruments", len(snap.Roster))
			return snap, nil
		}
		if ctx.Err() != nil {
			return Snapshot{}, ctx.Err()
		}
		lastErr = err
		if permanent(err) {
			return Snapshot{}, err
		}
		log.Warn("bootstrap attempt failed", "attempt", attempt, "max_attempts", maxAttempts, "err", err)
		if attempt == maxAttempts {
			break
		}
		if err := sleep(ctx, o.Delay); err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{}, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, lastErr)
}

func load(ctx context.Context, src Source) (Snapshot, error) {
	roster, err := src.Quotes(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load roster: %w", err)
	}
	p, err := src.Portfolio(ctx, roster)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load user state: %w", err)
	}
	return Snapshot{Roster: roster, Portfolio: p}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
