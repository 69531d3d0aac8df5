// Package trello is a small Trello REST client: lists and cards on one board.
package trello

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mailtriage/internal/retry"
)

const DefaultBaseURL = "https://api.trello.com/1"

var (
	// ErrRateLimited is returned once the retry budget is spent on 429s
	ErrRateLimited        = errors.New("trello rate limit exceeded")
	ErrMissingCredentials = errors.New("missing trello credentials")
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trello API error: %d %s", e.StatusCode, e.Body)
}

// List is a Trello list
type List struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

// Card is a Trello card as returned by POST /cards
type Card struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Desc     string   `json:"desc"`
	ShortURL string   `json:"shortUrl"`
	IDBoard  string   `json:"idBoard"`
	IDList   string   `json:"idList"`
	Due      string   `json:"due,omitempty"`
	Members  []string `json:"idMembers,omitempty"`
}

// Client talks to the Trello REST API
type Client struct {
	apiKey      string
	token       string
	baseURL     string
	httpClient  *http.Client
	RateLimiter *rate.Limiter
	retryConfig retry.RetryConfig
	logger      zerolog.Logger
}

// Option customizes a Client
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRequestsPerSecond sets the client-side token bucket; zero disables it
func WithRequestsPerSecond(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.RateLimiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.RateLimiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

func WithRetryConfig(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retryConfig = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Trello client
func NewClient(apiKey, token string, opts ...Option) (*Client, error) {
	if apiKey == "" || token == "" {
		return nil, ErrMissingCredentials
	}
	c := &Client{
		apiKey:      apiKey,
		token:       token,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		RateLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10), // Trello allows 100 per 10s per token
		retryConfig: retry.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  1 * time.Second,
			MaxDelay:   10 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
			LogRetries: true,
		},
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// GetLists returns the open lists of a board
func (c *Client) GetLists(ctx context.Context, boardID string) ([]List, error) {
	var lists []List
	if err := c.do(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/lists", nil, &lists); err != nil {
		return nil, fmt.Errorf("failed to get lists: %w", err)
	}
	return lists, nil
}

// CreateList adds a list to a board
func (c *Client) CreateList(ctx context.Context, boardID, name string) (*List, error) {
	params := url.Values{}
	params.Set("name", name)
	params.Set("idBoard", boardID)
	var l List
	if err := c.do(ctx, http.MethodPost, "/lists", params, &l); err != nil {
		return nil, fmt.Errorf("failed to create list %q: %w", name, err)
	}
	return &l, nil
}

// CreateCard adds a card to a list. due may be zero.
func (c *Client) CreateCard(ctx context.Context, listID, name, desc string, due time.Time) (*Card, error) {
	params := url.Values{}
	params.Set("idList", listID)
	params.Set("name", name)
	params.Set("desc", desc)
	if !due.IsZero() {
		params.Set("due", due.UTC().Format(time.RFC3339))
	}
	var card Card
	if err := c.do(ctx, http.MethodPost, "/cards", params, &card); err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}
	return &card, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("key", c.apiKey)
	params.Set("token", c.token)
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/") + "?" + params.Encode()

	cfg := c.retryConfig
	cfg.Retryable = func(err error) bool {
		var ra *retry.RetryAfterError
		if errors.As(err, &ra) {
			return true
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode >= 500
		}
		return retry.IsRetryableError(err)
	}

	result := retry.RetryWithBackoff(ctx, cfg, func() error {
		return c.once(ctx, method, target, out)
	}, c.logger.With().Str("endpoint", endpoint).Logger())
	if result.Success {
		return nil
	}
	var ra *retry.RetryAfterError
	if errors.As(result.LastError, &ra) {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, ra.After)
	}
	return result.LastError
}

func (c *Client) once(ctx context.Context, method, target string, out any) error {
	if err := c.RateLimiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &retry.RetryAfterError{
			Err:   &APIError{StatusCode: resp.StatusCode, Body: "rate limited"},
			After: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}
