// Package client provides a Go client for the storefront API. Requests ride
// on the session cookie; when a call fails with 401 the client refreshes the
// session once and replays the request, sharing a single in-flight refresh
// across all concurrently failing calls.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"storefront-api/internal/models"
	"storefront-api/internal/service"

	"golang.org/x/sync/singleflight"
)

// SessionExpiredMessage is the single user-facing string shown when a
// refresh is rejected and the client is logged out.
const SessionExpiredMessage = "Your login has expired."

// ErrSessionExpired is returned when the refresh call itself is rejected.
// The caller is already logged out by the time it observes this error.
var ErrSessionExpired = errors.New(SessionExpiredMessage)

// refreshTimeout bounds the detached refresh call; it is independent of any
// caller context so a caller abandoning its request cannot abort a refresh
// that other callers are waiting on.
const refreshTimeout = 15 * time.Second

// APIError is a non-2xx response normalized into a typed error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Client is a cookie-session storefront API client
type Client struct {
	baseURL string
	http    *http.Client
	refresh singleflight.Group

	mu       sync.Mutex
	identity *models.User
	onLogout func()
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client; a cookie jar is
// installed on it if missing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogoutHook registers a callback invoked when the client force-logs-out
// after a failed refresh.
func WithLogoutHook(hook func()) Option {
	return func(c *Client) { c.onLogout = hook }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{baseURL: baseURL}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	return c, nil
}

// Identity returns the currently logged-in user, or nil.
func (c *Client) Identity() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Client) setIdentity(user *models.User) {
	c.mu.Lock()
	c.identity = user
	c.mu.Unlock()
}

// forceLogout clears local identity state after a failed refresh.
func (c *Client) forceLogout() {
	c.mu.Lock()
	c.identity = nil
	hook := c.onLogout
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// do sends a request and transparently survives credential expiry: a 401
// triggers exactly one shared refresh, then one replay. Non-401 responses
// pass through untouched, and a replay is never refreshed again.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	drain(resp)

	// Single-flight: concurrent 401s in the same window share one refresh
	// call and all observe its outcome.
	if _, err, _ := c.refresh.Do("refresh", func() (interface{}, error) {
		return nil, c.doRefresh()
	}); err != nil {
		c.forceLogout()
		return nil, err
	}

	return c.send(ctx, method, path, body)
}

// doRefresh calls the refresh endpoint on a detached context so that caller
// cancellation cannot leave the session half-refreshed.
func (c *Client) doRefresh() error {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	resp, err := c.send(ctx, http.MethodPost, "/api/users/refresh", nil)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode < 300:
		var user models.User
		if err := json.NewDecoder(resp.Body).Decode(&user); err == nil {
			c.setIdentity(&user)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrSessionExpired
	default:
		return fmt.Errorf("refresh failed: status %d", resp.StatusCode)
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

// Login authenticates and stores the returned identity; the session cookie
// lands in the jar.
func (c *Client) Login(ctx context.Context, email, password string) (*models.User, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/users/login", body)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := decodeJSON(resp, &user); err != nil {
		return nil, err
	}
	c.setIdentity(&user)
	return &user, nil
}

// Register creates an account and logs the client in.
func (c *Client) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	body, err := json.Marshal(map[string]string{"name": name, "email": email, "password": password})
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/users", body)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := decodeJSON(resp, &user); err != nil {
		return nil, err
	}
	c.setIdentity(&user)
	return &user, nil
}

// Logout clears the session server-side and locally.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodPost, "/api/users/logout", nil)
	if err != nil {
		return err
	}
	drain(resp)
	c.setIdentity(nil)
	return nil
}

// Profile fetches the logged-in user's profile.
func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/users/profile", nil)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := decodeJSON(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// MyOrders lists the logged-in user's orders.
func (c *Client) MyOrders(ctx context.Context) ([]models.Order, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/users/myorders", nil)
	if err != nil {
		return nil, err
	}

	var orders []models.Order
	if err := decodeJSON(resp, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CreateOrder creates an order from a cart snapshot.
func (c *Client) CreateOrder(ctx context.Context, req *service.CreateOrderRequest) (*models.Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/orders", body)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := decodeJSON(resp, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ConfirmOrderPayment runs the synchronous confirmation path for an order.
func (c *Client) ConfirmOrderPayment(ctx context.Context, orderID int64, paymentIntentID string) (*models.Order, error) {
	body, err := json.Marshal(map[string]string{"payment_intent_id": paymentIntentID})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/orders/%d/pay", orderID), body)
	if err != nil {
		return nil, err
	}

	var order models.Order
	if err := decodeJSON(resp, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// decodeJSON decodes a 2xx body into v, or normalizes the error payload into
// an *APIError. The body is always closed.
func decodeJSON(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: payload.Error}
	}

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
