// Package client provides the HTTP client for the KoboToolbox assets API:
// token authentication, page decoding, error classification and an optional
// Redis page cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/kobo-export/pkg/cache"
	"github.com/Sternrassler/kobo-export/pkg/jsonvalue"
	"github.com/Sternrassler/kobo-export/pkg/logging"
	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kobo_export_requests_total",
		Help: "Total API page requests by status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kobo_export_request_duration_seconds",
		Help:    "API page request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kobo_export_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// DefaultUserAgent identifies the exporter to the API.
const DefaultUserAgent = "kobo-export/1.0"

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// Client fetches single pages of the assets listing.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Token is sent as "Authorization: Token <token>" (REQUIRED)
	Token string

	// UserAgent header value
	UserAgent string

	// Timeout per page request
	Timeout time.Duration

	// Cache for page responses; nil disables caching
	Cache *cache.Manager
}

// DefaultConfig returns a configuration without cache.
func DefaultConfig(token string) Config {
	return Config{
		Token:     token,
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("api token is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cfg.Cache,
		config: cfg,
		logger: logging.NewLogger("api-client"),
	}, nil
}

// Page is one decoded page of the assets listing.
type Page struct {
	// Results holds the raw records of the page, in order.
	Results []jsonvalue.Value

	// Next is the absolute URL of the following page, "" on the last page.
	Next string

	// FromCache is true when the page was served by the cache.
	FromCache bool
}

type pageEnvelope struct {
	Results []jsonvalue.Value `json:"results"`
	Next    *string           `json:"next"`
}

// GetPage fetches and decodes the page at pageURL. Failures are returned as
// *APIError except for an unusable URL.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	key, cacheable := c.cacheKey(pageURL)
	if cacheable {
		if page, ok := c.fromCache(ctx, key, base); ok {
			return page, nil
		}
	}

	body, err := c.fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	page, err := decodePage(body, base)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, err
	}

	if cacheable {
		if err := c.cache.Set(ctx, key, cache.NewEntry(body, http.StatusOK, c.cache.TTL())); err != nil {
			c.logger.Warn().Err(err).Str("url", pageURL).Msg("Failed to cache page")
		}
	}

	return page, nil
}

func (c *Client) cacheKey(pageURL string) (cache.CacheKey, bool) {
	if c.cache == nil {
		return cache.CacheKey{}, false
	}
	key, err := cache.KeyForURL(pageURL, c.config.Token)
	if err != nil {
		return cache.CacheKey{}, false
	}
	return key, true
}

func (c *Client) fromCache(ctx context.Context, key cache.CacheKey, base *url.URL) (*Page, bool) {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		return nil, false
	}

	page, err := decodePage(entry.Data, base)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key.String()).Msg("Discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		return nil, false
	}

	c.logger.Debug().
		Str("key", key.String()).
		Dur("age", entry.Age()).
		Msg("Page served from cache")
	page.FromCache = true
	return page, true
}

// fetch performs the GET and returns the body of a successful response.
func (c *Client) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Token "+c.config.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().Str("url", pageURL).Msg("Executing API request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "GET " + pageURL,
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if class := classifyStatus(resp.StatusCode); class != "" {
		errorsTotal.WithLabelValues(string(class)).Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
			Body:       string(snippet),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	return body, nil
}

// decodePage parses a page body and resolves its next link against base.
func decodePage(body []byte, base *url.URL) (*Page, error) {
	var env pageEnvelope
	if err := sonic.Unmarshal(body, &env); err != nil {
		return nil, &APIError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    "decode page",
			Err:        err,
		}
	}

	page := &Page{Results: env.Results}
	if env.Next != nil && *env.Next != "" {
		next, err := url.Parse(*env.Next)
		if err != nil {
			return nil, &APIError{
				StatusCode: http.StatusOK,
				ErrorClass: ErrorClassDecode,
				Message:    "invalid next link",
				Err:        err,
			}
		}
		page.Next = base.ResolveReference(next).String()
	}

	return page, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
