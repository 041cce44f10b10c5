package catalog

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "supervsr_catalog_requests_total",
	Help: "Total number of backend API requests",
}, []string{"operation", "result"})

const maxErrorBodyBytes = 512

// Client is a thin HTTP client for the backend API.
type Client struct {
	base string
	http *http.Client
}

// NewClient trims the base URL and applies a conservative request timeout.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Streams fetches the full stream inventory.
func (c *Client) Streams(ctx context.Context) ([]Stream, error) {
	const op = "list streams"
	var payload struct {
		Success bool     `json:"success"`
		Streams []Stream `json:"streams"`
	}
	if err := c.get(ctx, op, "/api/streams", &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Body: "success flag not set"}
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	return payload.Streams, nil
}

// SOP fetches one full SOP definition by id. The backend wraps the record
// the same way it wraps the stream listing.
func (c *Client) SOP(ctx context.Context, id ID) (*SOP, error) {
	const op = "fetch sop"
	var payload struct {
		Success bool `json:"success"`
		SOP     SOP  `json:"sop"`
	}
	if err := c.get(ctx, op, "/api/sops/"+url.PathEscape(id.String()), &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return nil, &APIError{Sentinel: ErrBadResponse, Operation: op, Body: "success flag not set"}
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	return &payload.SOP, nil
}

// CreateAnalysis posts a completed analysis record.
func (c *Client) CreateAnalysis(ctx context.Context, a Analysis) error {
	const op = "create analysis"
	body, err := json.Marshal(a)
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/analysis", bytes.NewReader(body))
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return transportError(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return statusError(op, res)
	}
	requestsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}

	res, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return transportError(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return statusError(op, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		requestsTotal.WithLabelValues(op, "error").Inc()
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	return nil
}

func transportError(op string, err error) error {
	sentinel := ErrUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		sentinel = ErrRequestTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		sentinel = ErrRequestTimeout
	}
	return &APIError{Sentinel: sentinel, Operation: op, Err: err}
}

func statusError(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
	sentinel := ErrBadResponse
	switch {
	case res.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case res.StatusCode >= 500:
		sentinel = ErrUpstreamError
	}
	return &APIError{
		Sentinel:  sentinel,
		Operation: op,
		Status:    res.StatusCode,
		Body:      strings.TrimSpace(string(body)),
	}
}

// String renders the client target for logs.
func (c *Client) String() string {
	return fmt.Sprintf("catalog(%s)", c.base)
}
