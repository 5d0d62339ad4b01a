package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vitalsdash/domain/vitals"
	"vitalsdash/internal"
	"vitalsdash/internal/errors"
	"vitalsdash/ports"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 16 << 20

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches metric documents from the upstream REST backend
type Client struct {
	config      ClientConfig
	baseURL     string
	httpClient  httpDoer
	rateLimiter *RateLimiter
	logger      *internal.Logger
}

var _ ports.MetricSource = (*Client)(nil)

// NewClient creates a client for config. Call Close to release the rate limiter.
func NewClient(config ClientConfig, logger *internal.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}

	return &Client{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/") + "/",
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimiter: NewRateLimiter(config.RateLimit),
		logger:      logger.WithField("component", "upstream"),
	}, nil
}

// Close stops the rate limiter
func (c *Client) Close() {
	c.rateLimiter.Stop()
}

// URL returns the endpoint queried for metric
func (c *Client) URL(metric vitals.Metric) (string, error) {
	info, ok := metric.Info()
	if !ok {
		return "", errors.NotFound(fmt.Sprintf("metric %q", metric))
	}
	return c.baseURL + info.Path, nil
}

// Fetch retrieves every document for metric
func (c *Client) Fetch(ctx context.Context, metric vitals.Metric) ([]vitals.MetricDocument, error) {
	url, err := c.URL(metric)
	if err != nil {
		return nil, err
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait aborted")
	}

	req, err := c.buildRequest(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.ExternalServiceError("upstream", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.ExternalServiceError("upstream", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.ExternalServiceError("upstream", fmt.Errorf("GET %s returned status %d: %s", url, resp.StatusCode, snippet(body)))
	}

	docs, err := DecodeDocuments(body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", metric)
	}

	c.logger.Debug("fetched %d %s documents in %s", len(docs), metric, time.Since(start))
	return docs, nil
}

// buildRequest creates an HTTP request with authentication
func (c *Client) buildRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	return req, nil
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
