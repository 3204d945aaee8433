// Package backend is the kiosk's HTTP client for the media listing, settings
// and query endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/observability"
	"github.com/ent0n29/kiosk/internal/reliability"
	"github.com/ent0n29/kiosk/internal/settings"
)

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// QueryResponse is the reply of POST /api/query.
type QueryResponse struct {
	Reply    string `json:"reply"`
	Language string `json:"language"`
}

type mediaListing struct {
	Items []media.Item `json:"items"`
}

// Client talks JSON over HTTP to the kiosk backend.
type Client struct {
	baseURL     string
	client      *http.Client
	metrics     *observability.Metrics
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
}

func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:      &http.Client{Timeout: timeout},
		metrics:     metrics,
		maxRetries:  2,
		backoffBase: 200 * time.Millisecond,
		backoffCap:  2 * time.Second,
	}
}

// ListMedia fetches GET /api/media, optionally filtered by kind.
func (c *Client) ListMedia(ctx context.Context, kind media.Kind) ([]media.Item, error) {
	path := "/api/media"
	if kind != "" {
		path += "?type=" + url.QueryEscape(string(kind))
	}
	var out mediaListing
	if err := c.getJSON(ctx, "media", path, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// FetchSettings fetches GET /api/settings. Missing fields are left zero; the
// settings store applies defaults.
func (c *Client) FetchSettings(ctx context.Context) (settings.Settings, error) {
	var out settings.Settings
	if err := c.getJSON(ctx, "settings", "/api/settings", &out); err != nil {
		return settings.Settings{}, err
	}
	return out, nil
}

// Query sends one transcript to POST /api/query. It is not retried: a failed
// query is retried by the user asking again.
func (c *Client) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	ctx, span := observability.StartSpan(ctx, "backend.query")
	span.SetAttributes(attribute.String("kiosk.language", req.Language))
	started := time.Now()

	resp, err := c.query(ctx, req)
	c.metrics.ObserveQueryLatency(time.Since(started))
	if err != nil {
		c.metrics.ObserveFetchError("query")
	}
	observability.EndSpan(span, err)
	return resp, err
}

func (c *Client) query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return QueryResponse{}, &FetchError{Op: "query", Err: fmt.Errorf("marshal request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/query", bytes.NewReader(payload))
	if err != nil {
		return QueryResponse{}, &FetchError{Op: "query", Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return QueryResponse{}, &FetchError{Op: "query", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return QueryResponse{}, &FetchError{Op: "query", StatusCode: res.StatusCode, Err: errors.New(readErrorBody(res.Body))}
	}
	var out QueryResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return QueryResponse{}, &FetchError{Op: "query", Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	ctx, span := observability.StartSpan(ctx, "backend."+op)
	span.SetAttributes(attribute.String("http.path", path))

	var err error
	for attempt := 0; ; attempt++ {
		err = c.getOnce(ctx, op, path, out)
		if err == nil {
			break
		}
		var fe *FetchError
		if attempt >= c.maxRetries || !errors.As(err, &fe) || !fe.Retryable() {
			break
		}
		if sleepErr := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt, c.backoffBase, c.backoffCap)); sleepErr != nil {
			break
		}
	}
	if err != nil {
		c.metrics.ObserveFetchError(op)
	}
	observability.EndSpan(span, err)
	return err
}

func (c *Client) getOnce(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return &FetchError{Op: op, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &FetchError{Op: op, StatusCode: res.StatusCode, Err: errors.New(readErrorBody(res.Body))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &FetchError{Op: op, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

// readErrorBody extracts {"error": "..."} when present, else the raw text.
func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && strings.TrimSpace(obj.Error) != "" {
		return strings.TrimSpace(obj.Error)
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		return "empty response body"
	}
	return text
}
