package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"stocksim/internal/kv"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid account or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidSignup      = errors.New("invalid signup")
)

var accountRE = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)

type User struct {
	ID           string    `json:"id"`
	Account      string    `json:"account"`
	Name         string    `json:"name"`
	NickName     string    `json:"nickName"`
	PasswordHash []byte    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Signup struct {
	Account  string
	Password string
	Name     string
	NickName string
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type grant struct {
	userID  string
	expires time.Time
}

// Issuer owns accounts and opaque bearer tokens. Users persist in the store;
// tokens live in memory and die with the process.
type Issuer struct {
	store      kv.Store
	cost       int
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	access  map[string]grant
	refresh map[string]grant
}

type Option func(*Issuer)

func WithBcryptCost(cost int) Option { return func(i *Issuer) { i.cost = cost } }
func WithClock(now func() time.Time) Option { return func(i *Issuer) { i.now = now } }

func WithTTLs(access, refresh time.Duration) Option {
	return func(i *Issuer) {
		i.accessTTL = access
		i.refreshTTL = refresh
	}
}

func NewIssuer(store kv.Store, opts ...Option) *Issuer {
	i := &Issuer{
		store:      store,
		cost:       bcrypt.DefaultCost,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		now:        time.Now,
		access:     make(map[string]grant),
		refresh:    make(map[string]grant),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.cost < bcrypt.MinCost || i.cost > bcrypt.MaxCost {
		i.cost = bcrypt.DefaultCost
	}
	return i
}

func userKey(account string) string {
	return "user:" + strings.ToLower(account)
}

func (i *Issuer) Signup(ctx context.Context, in Signup) (User, error) {
	account := strings.TrimSpace(in.Account)
	if !accountRE.MatchString(account) {
		return User{}, fmt.Errorf("%w: account must be 3-64 letters, digits, '.', '_' or '-'", ErrInvalidSignup)
	}
	if len(in.Password) < 4 {
		return User{}, fmt.Errorf("%w: password must be at least 4 characters", ErrInvalidSignup)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), i.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Account:      account,
		Name:         strings.TrimSpace(in.Name),
		NickName:     strings.TrimSpace(in.NickName),
		PasswordHash: hash,
		CreatedAt:    i.now().UTC(),
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	var existing User
	found, err := kv.GetJSON(ctx, i.store, userKey(account), &existing)
	if err != nil {
		return User{}, err
	}
	if found {
		return User{}, ErrAccountExists
	}
	if err := kv.SetJSON(ctx, i.store, userKey(account), u); err != nil {
		return User{}, fmt.Errorf("save user: %w", err)
	}
	return u, nil
}

func (i *Issuer) Login(ctx context.Context, account, password string) (Tokens, User, error) {
	var u User
	found, err := kv.GetJSON(ctx, i.store, userKey(strings.TrimSpace(account)), &u)
	if errors.Is(err, kv.ErrInvalidKey) {
		return Tokens{}, User{}, ErrInvalidCredentials
	}
	if err != nil {
		return Tokens{}, User{}, err
	}
	if !found || bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return Tokens{}, User{}, ErrInvalidCredentials
	}

	now := i.now()
	t := Tokens{AccessToken: uuid.NewString(), RefreshToken: uuid.NewString()}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.access[t.AccessToken] = grant{userID: u.ID, expires: now.Add(i.accessTTL)}
	i.refresh[t.RefreshToken] = grant{userID: u.ID, expires: now.Add(i.refreshTTL)}
	i.sweepLocked(now)
	return t, u, nil
}

// Refresh issues a new access token. The refresh token stays valid until it
// expires or is revoked.
func (i *Issuer) Refresh(refreshToken string) (string, error) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.refresh[refreshToken]
	if !ok || !now.Before(g.expires) {
		delete(i.refresh, refreshToken)
		return "", ErrInvalidToken
	}
	access := uuid.NewString()
	i.access[access] = grant{userID: g.userID, expires: now.Add(i.accessTTL)}
	return access, nil
}

// Verify returns the user id behind an access token.
func (i *Issuer) Verify(accessToken string) (string, error) {
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	g, ok := i.access[accessToken]
	if !ok || !now.Before(g.expires) {
		delete(i.access, accessToken)
		return "", ErrInvalidToken
	}
	return g.userID, nil
}

func (i *Issuer) Revoke(refreshToken string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.refresh, refreshToken)
}

// ExpireAccess drops every access token of userID, forcing a refresh.
func (i *Issuer) ExpireAccess(userID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for tok, g := range i.access {
		if g.userID == userID {
			delete(i.access, tok)
		}
	}
}

func (i *Issuer) sweepLocked(now time.Time) {
	for tok, g := range i.access {
		if !now.Before(g.expires) {
			delete(i.access, tok)
		}
	}
	for tok, g := range i.refresh {
		if !now.Before(g.expires) {
			delete(i.refresh, tok)
		}
	}
}
