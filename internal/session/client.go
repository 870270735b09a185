package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"stocksim/internal/kv"
)

// TokensKey is where credentials live in the injected store.
const TokensKey = "stocksim_tokens"

var (
	ErrUnauthenticated  = errors.New("unauthenticated: please log in again")
	ErrMalformedSession = errors.New("server returned no usable token")
)

// RequestError is a non-success response, or a transport failure when
// StatusCode is 0.
type RequestError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request failed: %s", e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.StatusCode)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type SignupRequest struct {
	UserAccount  string `json:"userAccount"`
	UserPassword string `json:"userPassword"`
	UserName     string `json:"userName"`
	UserNickName string `json:"userNickName"`
}

// Client performs authenticated JSON requests and owns the credential
// lifecycle. An expired access token is refreshed at most once per call.
type Client struct {
	baseURL string
	http    *http.Client
	store   kv.Store
	limiter *rate.Limiter
	log     *slog.Logger

	mu     sync.Mutex
	creds  Credentials
	loaded bool
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

// WithRateLimit caps outgoing requests at rps with the given burst. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewClient(baseURL string, store kv.Store, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   store,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns the stored tokens, if any.
func (c *Client) Credentials(ctx context.Context) (Credentials, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return Credentials{}, false, err
	}
	return c.creds, c.creds.AccessToken != "" || c.creds.RefreshToken != "", nil
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.decode(c.send(ctx, http.MethodPost, "/auth/signup", "", req))(nil)
}

func (c *Client) Login(ctx context.Context, account, password string) error {
	var out Credentials
	err := c.decode(c.send(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"userAccount":  account,
		"userPassword": password,
	}))(&out)
	if err != nil {
		return err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return fmt.Errorf("login: %w", ErrMalformedSession)
	}
	return c.setCredentials(ctx, out)
}

// Logout forgets the stored credentials. It does not contact the server.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = Credentials{}
	c.loaded = true
	return c.store.Remove(ctx, TokensKey)
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context) error {
	creds, _, err := c.Credentials(ctx)
	if err != nil {
		return err
	}
	if creds.RefreshToken == "" {
		return fmt.Errorf("refresh: %w", ErrMalformedSession)
	}
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.decode(c.send(ctx, http.MethodPost, "/auth/refresh", creds.RefreshToken, nil))(&out); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("refresh: %w", ErrMalformedSession)
	}
	creds.AccessToken = out.AccessToken
	return c.setCredentials(ctx, creds)
}

// Request sends in as JSON and decodes the response into out. A 401 triggers
// one refresh and one retry; if either fails the credentials are cleared and
// ErrUnauthenticated is returned. An empty response body leaves out untouched.
func (c *Client) Request(ctx context.Context, method, path string, in, out any) error {
	creds, _, err := c.Credentials(ctx)
	if err != nil {
		return err
	}
	resp, body, err := c.send(ctx, method, path, creds.AccessToken, in)
	if err != nil {
		return err
	}
	if resp != http.StatusUnauthorized {
		return c.decode(resp, body, nil)(out)
	}

	c.log.Info("access token rejected, refreshing", "method", method, "path", path)
	if err := c.Refresh(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("token refresh failed", "err", err)
		return c.expire(ctx, err)
	}
	creds, _, err = c.Credentials(ctx)
	if err != nil {
		return err
	}
	resp, body, err = c.send(ctx, method, path, creds.AccessToken, in)
	if err != nil {
		return err
	}
	if resp == http.StatusUnauthorized {
		return c.expire(ctx, nil)
	}
	return c.decode(resp, body, nil)(out)
}

func (c *Client) expire(ctx context.Context, cause error) error {
	if err := c.Logout(ctx); err != nil {
		c.log.Warn("clear credentials", "err", err)
	}
	if cause != nil {
		return fmt.Errorf("%w (%v)", ErrUnauthenticated, cause)
	}
	return ErrUnauthenticated
}

func (c *Client) setCredentials(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := kv.SetJSON(ctx, c.store, TokensKey, creds); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	c.creds = creds
	c.loaded = true
	return nil
}

func (c *Client) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	var creds Credentials
	if _, err := kv.GetJSON(ctx, c.store, TokensKey, &creds); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	c.creds = creds
	c.loaded = true
	return nil
}

// send issues one HTTP call and returns the status and raw body.
func (c *Client) send(ctx context.Context, method, path, token string, in any) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, err
		}
	}
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &RequestError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, &RequestError{StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	return resp.StatusCode, raw, nil
}

// decode turns a send result into a function that fills out.
func (c *Client) decode(status int, body []byte, err error) func(out any) error {
	return func(out any) error {
		if err != nil {
			return err
		}
		trimmed := bytes.TrimSpace(body)
		if status < 200 || status >= 300 {
			return &RequestError{StatusCode: status, Message: serverMessage(trimmed)}
		}
		if out == nil || len(trimmed) == 0 || status == http.StatusNoContent {
			return nil
		}
		if err := json.Unmarshal(trimmed, out); err != nil {
			return &RequestError{StatusCode: status, Message: "decode response: " + err.Error(), Err: err}
		}
		return nil
	}
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
