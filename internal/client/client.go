// Package client talks to a running scoring server.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fraudscore/internal/common"
	"fraudscore/internal/features"
	"fraudscore/internal/pipeline"
	"fraudscore/internal/server"

	"github.com/go-resty/resty/v2"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a thin wrapper around resty.
type Client struct {
	http *resty.Client
}

// New returns a client for baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New()
	c.SetBaseURL(strings.TrimRight(baseURL, "/"))
	c.SetTimeout(timeout)
	c.SetRetryCount(2)
	c.SetRetryWaitTime(200 * time.Millisecond)
	c.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() == http.StatusServiceUnavailable
	})
	c.SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

// Score scores one transaction against the server's active bundle.
func (c *Client) Score(ctx context.Context, tx features.Transaction) (*pipeline.Result, error) {
	var res pipeline.Result
	if err := c.do(ctx, http.MethodPost, common.RouteScore, tx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ScoreBatch scores transactions in one request.
func (c *Client) ScoreBatch(ctx context.Context, txs []features.Transaction) (*server.BatchResponse, error) {
	var res server.BatchResponse
	if err := c.do(ctx, http.MethodPost, common.RouteScoreBatch, server.BatchRequest{Transactions: txs}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Model describes the server's active bundle.
func (c *Client) Model(ctx context.Context) (*pipeline.ModelInfo, error) {
	var info pipeline.ModelInfo
	if err := c.do(ctx, http.MethodGet, common.RouteModel, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health reports the server status.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var h server.HealthResponse
	if err := c.do(ctx, http.MethodGet, common.RouteHealth, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode() != http.StatusOK {
		var e server.ErrorResponse
		if json.Unmarshal(resp.Body(), &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(resp.String())
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: e.Error}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
