package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"stocksim/internal/auth"
	"stocksim/internal/game"
	"stocksim/internal/kv"
	"stocksim/internal/market"
)

type contextKey string

const userContextKey contextKey = "user"

type Config struct {
	// Warmup is how long user endpoints answer 503 after a game starts.
	Warmup       time.Duration
	StartingCash float64
	MaxDays      int
}

type Server struct {
	cfg      Config
	log      *slog.Logger
	auth     *auth.Issuer
	store    kv.Store
	series   *market.Series
	games    *registry
	hub      *Hub
	now      func() time.Time
	upgrader websocket.Upgrader
	mux      *chi.Mux
}

type Option func(*Server)

func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

func New(cfg Config, logger *slog.Logger, issuer *auth.Issuer, store kv.Store, series *market.Series, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = game.StartingCash
	}
	if cfg.MaxDays < 1 {
		cfg.MaxDays = game.MaxGameDays
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   issuer,
		store:  store,
		series: series,
		games:  newRegistry(),
		hub:    NewHub(),
		now:    time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/events", s.handleEvents)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(60 * time.Second))
				r.Get("/stocks", s.handleStocks)
				r.Get("/stocks/macro", s.handleMacro)
				r.Get("/stocks/result", s.handleResult)
				r.Post("/stocks/start", s.handleStart)
				r.Post("/stocks/next", s.handleNext)
				r.Post("/stocks/finish", s.handleFinish)
				r.Get("/stocks/{id}", s.handleStockDetail)
				r.Get("/stocks/{id}/order", s.handleOrderInfo)
				r.Get("/stocks/{id}/company", s.handleCompany)
				r.Get("/stocks/{id}/news", s.handleNews)
				r.Get("/stocks/{id}/reddit", s.handleReddit)
				r.Get("/stocks/{id}/total", s.handleTotal)
				r.Post("/stocks/{id}/orders/{side}", s.handleOrder)

				r.Group(func(r chi.Router) {
					r.Use(s.warmupMiddleware)
					r.Get("/users/asset", s.handleAsset)
					r.Get("/users/holdings", s.handleHoldings)
					r.Get("/users/transaction", s.handleTransactions)
					r.Get("/users/interest", s.handleInterests)
					r.Post("/users/interest/{id}/{action}", s.handleInterestToggle)
				})
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" && websocket.IsWebSocketUpgrade(r) {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, err := s.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// warmupMiddleware answers 503 while a freshly started game is still settling.
func (s *Server) warmupMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := userFromContext(r.Context())
		p := s.player(userID)
		p.mu.Lock()
		warming := p.warming(s.now(), s.cfg.Warmup)
		p.mu.Unlock()
		if warming {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusServiceUnavailable, "game is warming up")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userContextKey).(string)
	if !ok || userID == "" {
		return "", errors.New("missing auth context")
	}
	return userID, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserAccount  string `json:"userAccount"`
		UserPassword string `json:"userPassword"`
		UserName     string `json:"userName"`
		UserNickName string `json:"userNickName"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.auth.Signup(r.Context(), auth.Signup{
		Account:  in.UserAccount,
		Password: in.UserPassword,
		Name:     in.UserName,
		NickName: in.UserNickName,
	})
	switch {
	case errors.Is(err, auth.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, auth.ErrInvalidSignup):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.log.Info("user signed up", "user_id", u.ID, "account", u.Account)
	writeJSON(w, http.StatusCreated, map[string]any{"id": u.ID, "userAccount": u.Account})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserAccount  string `json:"userAccount"`
		UserPassword string `json:"userPassword"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokens, _, err := s.auth.Login(r.Context(), in.UserAccount, in.UserPassword)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	access, err := s.auth.Refresh(bearerToken(r.Header.Get("Authorization")))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": access})
}

type streamEvent struct {
	Type         string         `json:"type"`
	Progress     *game.Progress `json:"progress,omitempty"`
	InstrumentID string         `json:"instrumentId,omitempty"`
	At           time.Time      `json:"at"`
}

func (s *Server) publish(userID, typ string, progress *game.Progress, instrumentID string) {
	s.hub.Publish(userID, streamEvent{Type: typ, Progress: progress, InstrumentID: instrumentID, At: s.now().UTC()})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := s.hub.add(userID, conn)
	s.log.Debug("event stream opened", "user_id", userID)

	var hello streamEvent
	if err := s.withPlayer(r.Context(), userID, func(p *player) error {
		st, err := p.backend.State(r.Context())
		if err != nil {
			return err
		}
		prog := game.Progress{Day: st.CurrentDayOffset, MaxDay: st.MaxDayOffset, GameOver: st.IsGameOver}
		hello = streamEvent{Type: "hello", Progress: &prog, At: s.now().UTC()}
		return nil
	}); err == nil {
		_ = c.writeJSON(hello)
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.remove(userID, c)
			return
		}
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrGameOver):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrUnknownInstrument):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidQuantity),
		errors.Is(err, game.ErrInvalidPrice),
		errors.Is(err, game.ErrInvalidSide),
		errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrInsufficientHoldings):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": strings.TrimSpace(message)})
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
