// Package upstream talks to the air-quality backend over HTTP.
package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client fetches snapshot and history payloads from the backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client. timeout bounds each request end to end.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// FetchSnapshot retrieves the full current-state payload. The body is
// returned undecoded; shape dispatch happens during normalization.
func (c *Client) FetchSnapshot(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.baseURL+"/api/v1/readings/current")
}

// FetchHistory retrieves historical readings for one station. The response is
// passed through verbatim, this hub does not own historical storage.
func (c *Client) FetchHistory(ctx context.Context, stationID string, from, to time.Time) ([]byte, error) {
	params := url.Values{}
	params.Set("station_id", stationID)
	if !from.IsZero() {
		params.Set("from", from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		params.Set("to", to.UTC().Format(time.RFC3339))
	}
	return c.get(ctx, c.baseURL+"/api/v1/readings/history?"+params.Encode())
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	c.logger.Debug("backend response", "url", rawURL, "bytes", len(payload))
	return payload, nil
}
