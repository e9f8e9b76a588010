// Package client talks to the medtrack REST API the way the ward browser
// does: bearer-token calls, a heartbeat loop and 409 handling.
package client

import (
	"bytes"
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

	"medtrack/m/domain"
	"medtrack/m/internal/inventory"
)

var (
	// ErrConflict matches any 409 answer; the caller should refetch.
	ErrConflict = errors.New(inventory.ConflictMessage)
	// ErrConnection wraps transport failures.
	ErrConnection = errors.New("Connection Error")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrConflict && e.Status == http.StatusConflict
}

// Client is safe for concurrent use once logged in.
type Client struct {
	BaseURL    string
	httpClient *http.Client
	token      string
	user       domain.User
}

func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// User returns the profile from the last successful login.
func (c *Client) User() domain.User { return c.user }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrConnection, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		if e.Error == "" {
			e.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, username, password string) (domain.User, error) {
	var res struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	err := c.do(ctx, http.MethodPost, "/api/login", map[string]string{"username": username, "password": password}, &res)
	if err != nil {
		return domain.User{}, err
	}
	c.token, c.user = res.Token, res.User
	return res.User, nil
}

// Heartbeat returns the server's beat time.
func (c *Client) Heartbeat(ctx context.Context) (time.Time, error) {
	var res struct {
		Timestamp float64 `json:"timestamp"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/heartbeat", nil, &res); err != nil {
		return time.Time{}, err
	}
	sec := int64(res.Timestamp)
	return time.Unix(sec, int64((res.Timestamp-float64(sec))*1e9)), nil
}

func (c *Client) Dashboard(ctx context.Context, userID int64) (inventory.Dashboard, error) {
	var d inventory.Dashboard
	err := c.do(ctx, http.MethodGet, "/api/dashboard/"+strconv.FormatInt(userID, 10), nil, &d)
	return d, err
}

func (c *Client) Locations(ctx context.Context) ([]domain.Location, error) {
	var locs []domain.Location
	err := c.do(ctx, http.MethodGet, "/api/locations", nil, &locs)
	return locs, err
}

// Destinations lists where stock held at locationID may be sent.
func (c *Client) Destinations(ctx context.Context, locationID int64) ([]domain.Location, error) {
	var locs []domain.Location
	err := c.do(ctx, http.MethodGet, "/api/locations/"+strconv.FormatInt(locationID, 10)+"/destinations", nil, &locs)
	return locs, err
}

func (c *Client) UseStock(ctx context.Context, in inventory.UseInput) (inventory.UseResult, error) {
	var res inventory.UseResult
	err := c.do(ctx, http.MethodPost, "/api/use_stock", in, &res)
	return res, err
}

func (c *Client) DiscardStock(ctx context.Context, in inventory.UseInput) (inventory.UseResult, error) {
	in.Action = inventory.ActionDiscard
	var res inventory.UseResult
	err := c.do(ctx, http.MethodPost, "/api/discard_stock", in, &res)
	return res, err
}

func (c *Client) CreateTransfer(ctx context.Context, in inventory.CreateTransferInput) (inventory.CreateTransferResult, error) {
	var res inventory.CreateTransferResult
	err := c.do(ctx, http.MethodPost, "/api/create_transfer", in, &res)
	return res, err
}

// TransferAction approves, completes or cancels a transfer at the given version.
func (c *Client) TransferAction(ctx context.Context, id int64, action string, version int64) error {
	path := fmt.Sprintf("/api/transfer/%d/%s", id, url.PathEscape(action))
	return c.do(ctx, http.MethodPost, path, map[string]int64{"version": version}, nil)
}

func (c *Client) Transfers(ctx context.Context, locationID int64) ([]domain.TransferView, error) {
	var list []domain.TransferView
	err := c.do(ctx, http.MethodGet, "/api/transfers/"+strconv.FormatInt(locationID, 10), nil, &list)
	return list, err
}

func (c *Client) StockSearch(ctx context.Context, query, status string) ([]domain.StockItem, error) {
	q := url.Values{}
	if query != "" {
		q.Set("query", query)
	}
	if status != "" {
		q.Set("status", status)
	}
	var items []domain.StockItem
	err := c.do(ctx, http.MethodGet, "/api/stock_search?"+q.Encode(), nil, &items)
	return items, err
}

// Refetch runs mutate and, when the server reports a version conflict,
// reloads state with refetch. The conflict is still returned so the
// caller can tell the user; the mutation is not retried.
func Refetch(ctx context.Context, mutate, refetch func(context.Context) error) error {
	err := mutate(ctx)
	if !errors.Is(err, ErrConflict) {
		return err
	}
	if rerr := refetch(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
