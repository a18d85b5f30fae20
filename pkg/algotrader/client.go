// Package algotrader is a Go client for the algotrader-server HTTP API.
package algotrader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides a Go SDK for interacting with the algotrader-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new algotrader API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("algotrader api: %d %s", e.StatusCode, e.Message)
}

// ListRuns returns persisted runs, newest first. An empty strategy lists all
// runs and a limit of 0 means no limit.
func (c *Client) ListRuns(ctx context.Context, strategy string, limit int) ([]Run, error) {
	q := url.Values{}
	if strategy != "" {
		q.Set("strategy", strategy)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp RunsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun returns one run by ID.
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetTrades returns the trade log of a run.
func (c *Client) GetTrades(ctx context.Context, id string) ([]Trade, error) {
	var resp TradesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/trades", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Trades, nil
}

// GetEquity returns the equity curve of a run.
func (c *Client) GetEquity(ctx context.Context, id string) ([]EquityPoint, error) {
	var resp EquityResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id)+"/equity", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Equity, nil
}

// ListStrategies returns the strategy names the server can run.
func (c *Client) ListStrategies(ctx context.Context) ([]string, error) {
	var resp StrategiesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
}

// SubmitBacktest runs a backtest on the server and returns the persisted
// run. The call blocks until the run finishes.
func (c *Client) SubmitBacktest(ctx context.Context, req BacktestRequest) (*Run, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	var run Run
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
