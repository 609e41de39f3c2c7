package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

// MaxBodySize is the largest response body a fetch accepts.
const MaxBodySize = 32 << 20

// ErrBodyTooLarge is returned when a successful response exceeds the body cap.
var ErrBodyTooLarge = errors.New("response body too large")

// connection pooling limits when many sources are polled at once
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client performs source fetches. Timeouts are applied per request through
// the context so every source can carry its own.
type Client struct {
	httpClient     *http.Client
	defaultTimeout time.Duration
	userAgent      string
	maxBodySize    int64
	logger         *logger.CanonicalLogger

	mu      sync.Mutex
	proxied map[string]*http.Client
}

// NewClient creates a Client. defaultTimeout applies when a request has none.
func NewClient(defaultTimeout time.Duration, log *logger.CanonicalLogger) *Client {
	if log == nil {
		log = logger.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = poll.DefaultTimeout
	}
	return &Client{
		httpClient:     &http.Client{Transport: newTransport(nil)},
		defaultTimeout: defaultTimeout,
		userAgent:      "service-source-ingest/1.0",
		maxBodySize:    MaxBodySize,
		logger:         log.Component("fetcher"),
		proxied:        make(map[string]*http.Client),
	}
}

func newTransport(proxyURL *url.URL) *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyURL != nil {
		t.Proxy = http.ProxyURL(proxyURL)
	} else {
		t.Proxy = http.ProxyFromEnvironment
	}
	return t
}

// Fetch performs one GET. Headers are passed through unmodified. A non-2xx
// status is returned as *StatusError.
func (c *Client) Fetch(ctx context.Context, r poll.Request) (*poll.Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.clientFor(r.Proxy)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// one byte past the cap tells a full body from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	tooLarge := int64(len(body)) > c.maxBodySize

	c.logger.Debug("fetched",
		logger.String(logger.FieldEndpoint, r.URL),
		logger.Int(logger.FieldStatusCode, resp.StatusCode),
		logger.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	if tooLarge {
		return nil, fmt.Errorf("%w: more than %d bytes from %s", ErrBodyTooLarge, c.maxBodySize, r.URL)
	}

	return &poll.Response{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// clientFor returns the shared client, or a cached one routed through proxy.
func (c *Client) clientFor(proxy string) (*http.Client, error) {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return c.httpClient, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.proxied[proxy]; ok {
		return client, nil
	}

	proxyURL, err := ParseProxyURL(proxy)
	if err != nil {
		return nil, fmt.Errorf("failed to parse proxy: %w", err)
	}
	client := &http.Client{Transport: newTransport(proxyURL)}
	c.proxied[proxy] = client
	return client, nil
}

// Close releases idle connections of every transport the client created.
func (c *Client) Close() {
	if c == nil {
		return
	}
	closeIdle(c.httpClient)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.proxied {
		closeIdle(client)
	}
}

func closeIdle(client *http.Client) {
	if t, ok := client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
}

// ParseProxyURL accepts host:port:username:password, host:port and full
// http(s) proxy URLs.
func ParseProxyURL(proxy string) (*url.URL, error) {
	parts := strings.Split(proxy, ":")
	if len(parts) == 4 {
		host, port, username, password := parts[0], parts[1], parts[2], parts[3]
		return url.Parse(fmt.Sprintf("http://%s:%s@%s:%s", url.QueryEscape(username), url.QueryEscape(password), host, port))
	}

	if !strings.HasPrefix(proxy, "http://") && !strings.HasPrefix(proxy, "https://") {
		proxy = "http://" + proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", proxy)
	}
	return u, nil
}
