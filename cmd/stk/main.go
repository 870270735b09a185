package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"stocksim/internal/bootstrap"
	"stocksim/internal/config"
	"stocksim/internal/game"
	"stocksim/internal/kv"
	"stocksim/internal/market"
	"stocksim/internal/remote"
	"stocksim/internal/session"

	"github.com/spf13/cobra"
)

var errNotLoggedIn = errors.New("not logged in: run `stk login` first")

type app struct {
	cfg   config.CLIConfig
	store kv.Store
	log   *slog.Logger
}

type localLogin struct {
	Account    string    `json:"account"`
	LoggedInAt time.Time `json:"loggedInAt"`
}

func main() {
	cfg, err := config.LoadCLIFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	a := &app{
		cfg: cfg,
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}

	root := &cobra.Command{
		Use:          "stk",
		Short:        "Stock market simulation game",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVar(&a.cfg.APIBaseURL, "api", cfg.APIBaseURL, "game server base URL")

	play := &cobra.Command{
		Use:   "play",
		Short: "Play a game locally or against the server",
	}
	play.AddCommand(
		newModeCmd(a, config.ModeLocal, "Play offline against the built-in market"),
		newModeCmd(a, config.ModeRemote, "Play against the game server"),
	)
	for _, c := range newGameCmds(a, "") {
		play.AddCommand(c)
	}

	root.AddCommand(
		newSignupCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		play,
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) open() error {
	if a.store != nil {
		return nil
	}
	dir := a.cfg.StateDir
	if dir == "" {
		d, err := kv.DefaultDir()
		if err != nil {
			return err
		}
		dir = d
	}
	store, err := kv.NewFile(dir)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *app) client() *session.Client {
	opts := []session.Option{session.WithLogger(a.log)}
	if a.cfg.RateLimit > 0 {
		opts = append(opts, session.WithRateLimit(a.cfg.RateLimit, 1))
	}
	return session.NewClient(a.cfg.APIBaseURL, a.store, opts...)
}

// backend builds the game backend for mode. An empty mode uses STK_MODE.
func (a *app) backend(ctx context.Context, mode string) (game.GameBackend, error) {
	if mode == "" {
		mode = a.cfg.Mode
	}
	switch mode {
	case config.ModeLocal:
		var login localLogin
		ok, err := kv.GetJSON(ctx, a.store, game.AuthKey, &login)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("not logged in: run `stk login --local` first")
		}
		series, err := market.Generate(game.MarketSeed, market.DefaultRoster, game.HorizonDays)
		if err != nil {
			return nil, err
		}
		return game.NewLocalBackend(series, a.store, game.WithLogger(a.log)), nil
	case config.ModeRemote:
		client := a.client()
		if _, ok, err := client.Credentials(ctx); err != nil {
			return nil, err
		} else if !ok {
			return nil, errNotLoggedIn
		}
		return remote.NewBackend(remote.NewAPI(client), a.log), nil
	}
	return nil, fmt.Errorf("unknown mode %q", mode)
}

func newSignupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create a game server account",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := promptRequired("Account")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			name, err := promptRequired("Name")
			if err != nil {
				return err
			}
			nickname, err := promptOptional("Nickname (optional)")
			if err != nil {
				return err
			}
			if nickname == "" {
				nickname = name
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := a.client()
			if err := client.Signup(ctx, session.SignupRequest{
				UserAccount:  account,
				UserPassword: password,
				UserName:     name,
				UserNickName: nickname,
			}); err != nil {
				return err
			}
			if err := client.Login(ctx, account, password); err != nil {
				printWarn("Signup complete, but login failed. Run `stk login`.")
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login to the game server, or start an offline profile with --local",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := promptRequired("Account")
			if err != nil {
				return err
			}
			if local {
				if err := kv.SetJSON(cmd.Context(), a.store, game.AuthKey, localLogin{
					Account:    account,
					LoggedInAt: time.Now().UTC(),
				}); err != nil {
					return err
				}
				printSuccess("Offline profile ready. Run `stk play local status`.")
				return nil
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if err := a.client().Login(ctx, account, password); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "create an offline profile instead of contacting the server")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().Logout(cmd.Context()); err != nil {
				return err
			}
			if err := a.store.Remove(cmd.Context(), game.AuthKey); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newModeCmd(a *app, mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   mode,
		Short: short,
	}
	for _, c := range newGameCmds(a, mode) {
		cmd.AddCommand(c)
	}
	return cmd
}

// newGameCmds builds the in-game commands bound to mode.
func newGameCmds(a *app, mode string) []*cobra.Command {
	run := func(fn func(ctx context.Context, b game.GameBackend, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			b, err := a.backend(ctx, mode)
			if err != nil {
				return err
			}
			return fn(ctx, b, args)
		}
	}

	return []*cobra.Command{
		{
			Use:   "new",
			Short: "Start a new game",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				p, err := b.Start(ctx)
				if err != nil {
					return err
				}
				printSuccess("New game started.")
				renderProgress(p)
				return nil
			}),
		},
		{
			Use:   "status",
			Short: "Show the dashboard",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				snap, err := a.load(ctx, b)
				if err != nil {
					return err
				}
				renderDashboard(snap)
				return nil
			}),
		},
		{
			Use:   "stocks",
			Short: "List instruments with today's prices",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				quotes, err := b.Quotes(ctx)
				if err != nil {
					return err
				}
				renderQuotes(quotes)
				return nil
			}),
		},
		{
			Use:   "stock [tag]",
			Short: "Show one instrument in detail",
			Args:  cobra.MaximumNArgs(1),
			RunE: run(func(ctx context.Context, b game.GameBackend, args []string) error {
				q, err := instrumentFromArgsOrPrompt(ctx, b, args)
				if err != nil {
					return err
				}
				detail, err := b.Detail(ctx, q.InstrumentID)
				if err != nil {
					return err
				}
				renderStockDetail(detail)
				return renderCommentary(ctx, b, detail.Quote)
			}),
		},
		newOrderCmd(run, game.Buy),
		newOrderCmd(run, game.Sell),
		{
			Use:   "next",
			Short: "Advance to the next trading day",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				p, err := b.AdvanceDay(ctx)
				if errors.Is(err, game.ErrGameOver) {
					printWarn("The game is already over. Run `new` to play again.")
					return nil
				}
				if err != nil {
					return err
				}
				renderProgress(p)
				if p.GameOver {
					return showResult(ctx, b)
				}
				return nil
			}),
		},
		{
			Use:   "quit",
			Short: "End the game now",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				if _, err := b.Finish(ctx); err != nil && !errors.Is(err, game.ErrGameOver) {
					return err
				}
				return showResult(ctx, b)
			}),
		},
		{
			Use:   "result",
			Short: "Show the game result",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, b game.GameBackend, _ []string) error {
				return showResult(ctx, b)
			}),
		},
		newWatchCmd(run, true),
		newWatchCmd(run, false),
	}
}

type runner func(fn func(ctx context.Context, b game.GameBackend, args []string) error) func(*cobra.Command, []string) error

func newOrderCmd(run runner, side game.Side) *cobra.Command {
	verb := strings.ToLower(string(side))
	return &cobra.Command{
		Use:   verb + " [tag] [quantity]",
		Short: "Place a " + verb + " order at today's price",
		Args:  cobra.MaximumNArgs(2),
		RunE: run(func(ctx context.Context, b game.GameBackend, args []string) error {
			q, err := instrumentFromArgsOrPrompt(ctx, b, args)
			if err != nil {
				return err
			}
			if side == game.Buy && len(args) < 2 {
				if n, err := maxBuyable(ctx, b, q); err == nil {
					printInfo(fmt.Sprintf("You can afford up to %s shares.", comma(n)))
				}
			}
			qty, err := int64FromArgOrPrompt(args, 1, "Quantity")
			if err != nil {
				return err
			}
			if err := b.PlaceOrder(ctx, q.InstrumentID, side, qty); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s %s %s @ %s", strings.ToUpper(verb), comma(qty), q.Tag, formatMoney(q.Price)))
			printInfo("Notional: " + formatMoney(q.Price*float64(qty)))
			return nil
		}),
	}
}

func newWatchCmd(run runner, watch bool) *cobra.Command {
	use, short := "watch [tag]", "Add an instrument to the watchlist"
	if !watch {
		use, short = "unwatch [tag]", "Remove an instrument from the watchlist"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, b game.GameBackend, args []string) error {
			q, err := instrumentFromArgsOrPrompt(ctx, b, args)
			if err != nil {
				return err
			}
			if err := b.SetWatch(ctx, q.InstrumentID, watch); err != nil {
				return err
			}
			if watch {
				printSuccess("Watching " + q.Tag + ".")
			} else {
				printSuccess("Stopped watching " + q.Tag + ".")
			}
			return nil
		}),
	}
}

// load fetches the dashboard snapshot, retrying the whole sequence while the
// server warms up.
func (a *app) load(ctx context.Context, b game.GameBackend) (bootstrap.Snapshot, error) {
	orch := bootstrap.New()
	orch.MaxAttempts = a.cfg.BootstrapAttempts
	orch.Delay = a.cfg.BootstrapDelay
	orch.Log = a.log
	orch.OnProgress = func(p bootstrap.Progress) {
		if p.Attempt > 1 {
			printWarn(fmt.Sprintf("Loading game data (attempt %d/%d)...", p.Attempt, p.MaxAttempts))
		}
	}
	snap, err := orch.Run(ctx, b)
	if errors.Is(err, bootstrap.ErrExhausted) {
		printError("Could not load game data. Is the server up?")
	}
	if errors.Is(err, session.ErrUnauthenticated) {
		return snap, fmt.Errorf("session expired: run `stk login` again: %w", err)
	}
	return snap, err
}

func showResult(ctx context.Context, b game.GameBackend) error {
	res, err := b.Result(ctx)
	if err != nil {
		return err
	}
	renderResult(res)
	return nil
}

// renderCommentary prints the news feed and social chatter for q. The remote
// server provides both; offline play derives them from today's move.
func renderCommentary(ctx context.Context, b game.GameBackend, q game.Quote) error {
	rb, ok := b.(*remote.Backend)
	if !ok {
		renderPosts(q.ChangePct, nil)
		return nil
	}
	api := rb.API()
	news, err := api.News(ctx, q.InstrumentID)
	if err != nil {
		return err
	}
	renderNews(news)
	posts, err := api.Reddit(ctx, q.InstrumentID)
	if err != nil {
		return err
	}
	renderPosts(q.ChangePct, posts)
	return nil
}

func maxBuyable(ctx context.Context, b game.GameBackend, q game.Quote) (int64, error) {
	if rb, ok := b.(*remote.Backend); ok {
		info, err := rb.API().OrderInfo(ctx, q.InstrumentID)
		if err != nil {
			return 0, err
		}
		return info.MaxBuyable, nil
	}
	pf, err := b.Portfolio(ctx, nil)
	if err != nil {
		return 0, err
	}
	return game.MaxBuyable(pf.Valuation.Cash, q.Price), nil
}

func instrumentFromArgsOrPrompt(ctx context.Context, b game.GameBackend, args []string) (game.Quote, error) {
	var tag string
	if len(args) > 0 {
		tag = strings.TrimSpace(args[0])
	} else {
		t, err := promptRequired("Ticker")
		if err != nil {
			return game.Quote{}, err
		}
		tag = t
	}
	quotes, err := b.Quotes(ctx)
	if err != nil {
		return game.Quote{}, err
	}
	for _, q := range quotes {
		if strings.EqualFold(q.Tag, tag) || strings.EqualFold(q.InstrumentID, tag) {
			return q, nil
		}
	}
	return game.Quote{}, fmt.Errorf("%w: %s", game.ErrUnknownInstrument, tag)
}

func int64FromArgOrPrompt(args []string, idx int, label string) (int64, error) {
	if len(args) > idx {
		v, err := strconv.ParseInt(strings.TrimSpace(args[idx]), 10, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid %s", strings.ToLower(label))
		}
		return v, nil
	}
	return promptInt64(label, 1)
}
