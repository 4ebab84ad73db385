// Package hostapi is the remote query client for the host application's
// data API. It never holds credentials of its own: requests ride on the
// browser session cookies placed in its jar.
package hostapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	// Origin is scheme://host of the host application.
	Origin string
	// Timeout bounds one request. Default 15s.
	Timeout time.Duration
	// RatePerSecond paces requests; 0 disables pacing.
	RatePerSecond float64
	// Burst is the limiter burst. Default 1.
	Burst int
	// MaxBody caps the bytes read from one response. Default 10 MiB.
	MaxBody int64
	Logger  *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.MaxBody <= 0 {
		c.MaxBody = 10 * 1024 * 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client issues authenticated GETs against the host API.
type Client struct {
	origin  *url.URL
	http    *http.Client
	limiter *rate.Limiter
	maxBody int64
	logger  *slog.Logger
}

// New returns a Client with an empty cookie jar.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	origin, err := url.Parse(strings.TrimRight(cfg.Origin, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("hostapi: invalid origin %q", cfg.Origin)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("hostapi: cookie jar: %w", err)
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		origin:  origin,
		http:    &http.Client{Jar: jar, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		maxBody: cfg.MaxBody,
		logger:  cfg.Logger,
	}, nil
}

// Origin returns the host origin the client talks to.
func (c *Client) Origin() string { return c.origin.String() }

// SetCookies loads session cookies for the host origin into the jar.
func (c *Client) SetCookies(cookies []*http.Cookie) {
	c.http.Jar.SetCookies(c.origin, cookies)
}

// Query holds request parameters. Values may be scalars or slices; a slice
// becomes a repeated parameter.
type Query map[string]any

func (q Query) encode() url.Values {
	v := url.Values{}
	for k, val := range q {
		switch x := val.(type) {
		case nil:
		case []string:
			for _, s := range x {
				v.Add(k, s)
			}
		case []int:
			for _, n := range x {
				v.Add(k, strconv.Itoa(n))
			}
		case []any:
			for _, e := range x {
				v.Add(k, fmt.Sprint(e))
			}
		default:
			v.Add(k, fmt.Sprint(x))
		}
	}
	return v
}

// StatusError is a non-2xx response. Message is the response body, or
// "HTTP <status line>" when the body is empty.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string { return e.Message }

// Get fetches path (relative to the origin, already escaped) and returns
// the raw body of a 2xx response.
func (c *Client) Get(ctx context.Context, path string, q Query) ([]byte, error) {
	u, err := url.Parse(c.origin.String() + path)
	if err != nil {
		return nil, fmt.Errorf("hostapi: parse path %q: %w", path, err)
	}
	if len(q) > 0 {
		u.RawQuery = q.encode().Encode()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("hostapi: rate wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("hostapi: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hostapi: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("hostapi: read body: %w", err)
	}
	c.logger.Debug("hostapi: GET", "path", path, "status", resp.StatusCode,
		"bytes", len(body), "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = "HTTP " + resp.Status
		}
		return nil, &StatusError{Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

// GetJSON fetches path and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, path string, q Query, out any) error {
	body, err := c.Get(ctx, path, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("hostapi: json decode %s: %w", path, err)
	}
	return nil
}

// Rows fetches path and normalizes the body into a row collection.
func (c *Client) Rows(ctx context.Context, path string, q Query) ([]any, error) {
	body, err := c.Get(ctx, path, q)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("hostapi: json decode %s: %w", path, err)
	}
	return NormalizeRows(raw), nil
}

// NormalizeRows recognizes a top-level array, or an object carrying a
// "data" or "results" array. Any other shape yields no rows.
func NormalizeRows(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		for _, key := range []string{"data", "results"} {
			if arr, ok := x[key].([]any); ok {
				return arr
			}
		}
	}
	return nil
}

// String reads a row field as a string; numbers and booleans are
// formatted, anything else is empty.
func String(row any, key string) string {
	obj, ok := row.(map[string]any)
	if !ok {
		return ""
	}
	return asString(obj[key])
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	return ""
}
