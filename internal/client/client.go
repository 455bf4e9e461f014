// Package client implements the trading API client used by the game to talk
// to the marketplace backend: per-attempt timeouts, bounded retries with
// fixed or exponential backoff, and retryable/terminal failure
// classification. Completion can be delivered asynchronously over a channel
// correlated by request ID.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/driftspace/tradepost/internal/config"
	"github.com/driftspace/tradepost/internal/models"
)

// Client provides access to the marketplace REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries  int
	backoff     time.Duration
	exponential bool
}

// Option configures a Client.
type Option func(*Client)

// NewClient creates a new API client against baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:      slog.Default(),
		maxRetries:  3,
		backoff:     500 * time.Millisecond,
		exponential: true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewFromConfig builds a client from resolved configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	base := []Option{
		WithTimeout(cfg.Timeout),
		WithRetries(cfg.MaxRetries, 500*time.Millisecond),
		WithBackoffPolicy(cfg.Backoff == "exponential"),
	}
	return NewClient(cfg.Endpoint, append(base, opts...)...)
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry budget and base backoff delay.
func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.backoff = backoff
	}
}

// WithBackoffPolicy selects exponential (true) or fixed (false) backoff.
func WithBackoffPolicy(exponential bool) Option {
	return func(c *Client) {
		c.exponential = exponential
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// ListingsPage is the response shape of GET /listings.
type ListingsPage struct {
	Listings []models.Listing `json:"listings"`
	Total    int              `json:"total"`
}

// TradesPage is the response shape of GET /trades/history.
type TradesPage struct {
	Trades []models.Trade `json:"trades"`
	Total  int            `json:"total"`
}

// CreateListingRequest is the body of POST /listings.
type CreateListingRequest struct {
	SellerID    string  `json:"seller_id"`
	ItemType    string  `json:"item_type"`
	ItemName    string  `json:"item_name,omitempty"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
}

// FetchListings returns all active listings.
func (c *Client) FetchListings(ctx context.Context) (*ListingsPage, error) {
	page := &ListingsPage{}
	if err := c.do(ctx, "", http.MethodGet, "/listings", nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// CreateListing opens a new listing.
func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (*models.Listing, error) {
	listing := &models.Listing{}
	if err := c.do(ctx, "", http.MethodPost, "/listings", req, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// Purchase buys quantity units from a listing.
func (c *Client) Purchase(ctx context.Context, listingID, buyerID string, quantity int) (*models.Trade, error) {
	body := map[string]interface{}{"buyer_id": buyerID, "quantity": quantity}
	trade := &models.Trade{}
	if err := c.do(ctx, "", http.MethodPost, "/listings/"+listingID+"/purchase", body, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

// Cancel withdraws a listing on behalf of its seller.
func (c *Client) Cancel(ctx context.Context, listingID, sellerID string) (*models.Listing, error) {
	body := map[string]interface{}{"seller_id": sellerID}
	listing := &models.Listing{}
	if err := c.do(ctx, "", http.MethodPost, "/listings/"+listingID+"/cancel", body, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// TradeHistory returns completed trades, optionally filtered to one player.
func (c *Client) TradeHistory(ctx context.Context, playerID string) (*TradesPage, error) {
	path := "/trades/history"
	if playerID != "" {
		path += "?player_id=" + playerID
	}
	page := &TradesPage{}
	if err := c.do(ctx, "", http.MethodGet, path, nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// do executes one logical call: up to 1+maxRetries attempts, each bounded by
// the per-attempt timeout, with backoff between attempts. requestID is
// caller-supplied for correlation; when empty a fresh one is generated.
func (c *Client) do(ctx context.Context, requestID, method, path string, body, out interface{}) error {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	start := time.Now()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				break
			}
		}

		err, retryable := c.attempt(ctx, requestID, method, path, payload, out)
		if err == nil {
			c.logger.Debug("call succeeded",
				"request_id", requestID, "method", method, "path", path,
				"attempts", attempt+1, "elapsed", time.Since(start))
			return nil
		}
		lastErr = err
		if !retryable {
			return &CallError{
				RequestID: requestID,
				Attempts:  attempt + 1,
				Elapsed:   time.Since(start),
				Terminal:  true,
				Err:       err,
			}
		}
		c.logger.Warn("retryable failure",
			"request_id", requestID, "method", method, "path", path,
			"attempt", attempt+1, "error", err)
	}

	return &CallError{
		RequestID: requestID,
		Attempts:  c.maxRetries + 1,
		Elapsed:   time.Since(start),
		Exhausted: true,
		Err:       lastErr,
	}
}

// attempt issues a single HTTP request and classifies its outcome.
func (c *Client) attempt(ctx context.Context, requestID, method, path string, payload []byte, out interface{}) (err error, retryable bool) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err, false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller abandoning the call is terminal; network failures and
		// per-attempt timeouts are retryable.
		if ctx.Err() != nil {
			return ctx.Err(), false
		}
		return err, true
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil, false
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err), false
		}
		return nil, false
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var errBody struct {
		Error string `json:"error"`
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(&errBody); decodeErr == nil {
		apiErr.Message = errBody.Error
	}

	// 5xx and contention (409) are worth retrying; every other 4xx is a
	// terminal answer from the server.
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusConflict {
		return apiErr, true
	}
	return apiErr, false
}

// wait sleeps for the backoff delay before retry number attempt, honoring
// context cancellation.
func (c *Client) wait(ctx context.Context, attempt int) error {
	delay := c.backoff
	if c.exponential {
		delay = c.backoff << (attempt - 1)
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
