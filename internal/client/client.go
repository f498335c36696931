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

	"infra-monitor/pkg/models"
)

// StatusError is returned for any non-2xx response from the API.
type StatusError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *StatusError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("api error: status %d: %s (field %s)", e.StatusCode, e.Message, e.Field)
	}
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewWithHTTPClient lets callers supply their own transport.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

type MetricQuery struct {
	SystemID int64
	Limit    int
	Hours    int
}

func (q MetricQuery) values() url.Values {
	v := url.Values{}
	if q.SystemID > 0 {
		v.Set("systemId", strconv.FormatInt(q.SystemID, 10))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Hours > 0 {
		v.Set("hours", strconv.Itoa(q.Hours))
	}
	return v
}

type LogQuery struct {
	SystemID int64
	Level    models.LogLevel
	Limit    int
	Hours    int
}

func (q LogQuery) values() url.Values {
	v := url.Values{}
	if q.SystemID > 0 {
		v.Set("systemId", strconv.FormatInt(q.SystemID, 10))
	}
	if q.Level != "" {
		v.Set("level", string(q.Level))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Hours > 0 {
		v.Set("hours", strconv.Itoa(q.Hours))
	}
	return v
}

func (c *Client) ListSystems(ctx context.Context) ([]models.System, error) {
	var systems []models.System
	if err := c.do(ctx, http.MethodGet, "/api/systems", nil, nil, &systems); err != nil {
		return nil, err
	}
	return nonNil(systems), nil
}

func (c *Client) GetSystem(ctx context.Context, id int64) (*models.System, error) {
	var system models.System
	if err := c.do(ctx, http.MethodGet, "/api/systems/"+strconv.FormatInt(id, 10), nil, nil, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

func (c *Client) CreateSystem(ctx context.Context, in models.NewSystem) (*models.System, error) {
	var system models.System
	if err := c.do(ctx, http.MethodPost, "/api/systems", nil, in, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

func (c *Client) UpdateSystem(ctx context.Context, id int64, patch models.SystemPatch) (*models.System, error) {
	var system models.System
	if err := c.do(ctx, http.MethodPatch, "/api/systems/"+strconv.FormatInt(id, 10), nil, patch, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

func (c *Client) Heartbeat(ctx context.Context, id int64) (*models.System, error) {
	var system models.System
	path := "/api/systems/" + strconv.FormatInt(id, 10) + "/heartbeat"
	if err := c.do(ctx, http.MethodPost, path, nil, nil, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

func (c *Client) ListMetrics(ctx context.Context, q MetricQuery) ([]models.Metric, error) {
	var metrics []models.Metric
	if err := c.do(ctx, http.MethodGet, "/api/metrics", q.values(), nil, &metrics); err != nil {
		return nil, err
	}
	return nonNil(metrics), nil
}

// LatestMetrics returns the newest metric of every system that has one.
func (c *Client) LatestMetrics(ctx context.Context) ([]models.Metric, error) {
	var metrics []models.Metric
	if err := c.do(ctx, http.MethodGet, "/api/metrics/latest", nil, nil, &metrics); err != nil {
		return nil, err
	}
	return nonNil(metrics), nil
}

func (c *Client) CreateMetric(ctx context.Context, in models.NewMetric) (*models.Metric, error) {
	var metric models.Metric
	if err := c.do(ctx, http.MethodPost, "/api/metrics", nil, in, &metric); err != nil {
		return nil, err
	}
	return &metric, nil
}

func (c *Client) ListLogs(ctx context.Context, q LogQuery) ([]models.Log, error) {
	var logs []models.Log
	if err := c.do(ctx, http.MethodGet, "/api/logs", q.values(), nil, &logs); err != nil {
		return nil, err
	}
	return nonNil(logs), nil
}

func (c *Client) CreateLog(ctx context.Context, in models.NewLog) (*models.Log, error) {
	var entry models.Log
	if err := c.do(ctx, http.MethodPost, "/api/logs", nil, in, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(raw) == 0 {
		return se
	}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		se.Message = body.Error
		se.Field = body.Field
	}
	return se
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
