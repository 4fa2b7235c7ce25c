package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NahidaBuer/programmer-trending/pkg/logger"
	"github.com/NahidaBuer/programmer-trending/pkg/ratelimit"
)

// DefaultUserAgent is sent with every crawl request
const DefaultUserAgent = "Mozilla/5.0 (compatible; ProgrammerTrending/1.0)"

// maxBodySize caps how much of a response body is read
const maxBodySize = 10 << 20

// ClientConfig controls the crawl HTTP client
type ClientConfig struct {
	Timeout     time.Duration // per request
	UserAgent   string
	MaxAttempts int
	BackoffBase time.Duration // 429 backoff, doubled per attempt
	RetryDelay  time.Duration // wait after network errors and 5xx
}

// DefaultClientConfig returns the crawl client defaults
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:     30 * time.Second,
		UserAgent:   DefaultUserAgent,
		MaxAttempts: 5,
		BackoffBase: time.Second,
		RetryDelay:  time.Second,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase < 0 {
		c.BackoffBase = 0
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Response is a successfully fetched document
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", r.URL, err)
	}
	return nil
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is a crawl-scoped HTTP session. Create one per crawl and Close it when
// the crawl ends.
type Client struct {
	http    *http.Client
	cfg     ClientConfig
	name    string
	limiter *ratelimit.MultiLimiter
	sleep   SleepFunc
	log     *logger.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLimiter paces requests through the named politeness limiter
func WithLimiter(limiter *ratelimit.MultiLimiter, name string) ClientOption {
	return func(c *Client) {
		c.limiter = limiter
		c.name = name
	}
}

// WithSleep replaces the wait used between attempts
func WithSleep(sleep SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger sets the client logger
func WithLogger(log *logger.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a crawl session with its own connection pool
func NewClient(cfg ClientConfig, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	c := &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		cfg:   cfg,
		sleep: sleepContext,
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the session's idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// SafeFetch GETs url with retries. HTTP 429 backs off exponentially, network
// errors and 5xx wait RetryDelay, other 4xx give up at once. It returns nil when
// the document could not be fetched; callers skip it.
func (c *Client) SafeFetch(ctx context.Context, url string) *Response {
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		last := attempt == c.cfg.MaxAttempts-1

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, c.name); err != nil {
				c.log.Debug().Err(err).Str("url", url).Msg("Politeness wait aborted")
				return nil
			}
		}

		resp, err := c.get(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Str("url", url).Int("attempt", attempt+1).Msg("Request error")
			if !last && c.sleep(ctx, c.cfg.RetryDelay) != nil {
				return nil
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp

		case resp.StatusCode == http.StatusTooManyRequests:
			c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Int("attempt", attempt+1).Msg("Rate limited by source")
			if !last && c.sleep(ctx, c.cfg.BackoffBase<<attempt) != nil {
				return nil
			}

		case resp.StatusCode >= 500:
			c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Int("attempt", attempt+1).Msg("Server error")
			if !last && c.sleep(ctx, c.cfg.RetryDelay) != nil {
				return nil
			}

		default:
			c.log.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("Request rejected")
			return nil
		}
	}

	c.log.Error().Str("url", url).Int("attempts", c.cfg.MaxAttempts).Msg("Failed to fetch after retries")
	return nil
}

func (c *Client) get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return &Response{
		URL:        url,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}
