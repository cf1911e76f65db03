// Package socialapi is a client for the third-party Twitter/X data API.
//
// It covers the three endpoints the sync pipeline needs: profile lookup and
// the cursor-paginated followers and friends (followings) lists. Every
// response is normalized into model.User at this boundary.
package socialapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sakif/berri-graph/internal/apperror"
	"github.com/sakif/berri-graph/internal/metrics"
)

const (
	DefaultBaseURL  = "https://api.socialapi.me"
	DefaultPageSize = 200
	DefaultTimeout  = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept for logs.
	maxErrorBody = 512
)

// Config holds client settings. Zero values fall back to the defaults.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	PageSize          int
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int
}

// Client talks to the social API. It is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Client. An empty APIKey is accepted here; calls then fail
// with apperror.ErrMisconfigured so the server can still start and report it.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PageSize <= 0 || cfg.PageSize > DefaultPageSize {
		cfg.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  limiter,
		metrics:  m,
		logger:   logger,
	}
}

// statusError carries a non-2xx upstream response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Status)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// getJSON performs a GET against path and decodes a 2xx body into out.
// endpoint is the low-cardinality label used for metrics.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	if c.apiKey == "" {
		return apperror.Misconfigured("social API key is not configured (SOCIALAPI_KEY)")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstream(endpoint, 0, time.Since(start))
		return fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveUpstream(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
