// Package fetch is the outbound HTTP client: short-link resolution, page
// fetches, and the shared request plumbing the retriever builds on.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/time/rate"

	"github.com/starford/xhsdl/internal/apperr"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultReferer   = "https://www.xiaohongshu.com/"

	AcceptPage  = "text/html,application/xhtml+xml,application/xml;q=1.0,image/avif,image/webp,image/apng,*/*;q=1.0"
	AcceptMedia = "image/jpeg,image/png,image/*;q=0.8,video/mp4,video/*;q=0.8,*/*;q=0.5"

	maxPageSize = 16 << 20 // 16 MB
)

// Config controls headers, timeouts, and pacing.
type Config struct {
	UserAgent             string
	Referer               string
	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	ResolveTimeout        time.Duration
	PageTimeout           time.Duration
	RateLimit             float64 // requests per second, 0 disables pacing
	RateBurst             int
}

// DefaultConfig returns the timeouts the platform tolerates well.
func DefaultConfig() Config {
	return Config{
		UserAgent:             DefaultUserAgent,
		Referer:               DefaultReferer,
		ConnectTimeout:        10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ResolveTimeout:        15 * time.Second,
		PageTimeout:           45 * time.Second,
		RateLimit:             2,
		RateBurst:             4,
	}
}

// Client issues requests with platform-plausible headers.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	maxPage int64
}

// New creates a Client. Zero config fields fall back to DefaultConfig.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Referer == "" {
		cfg.Referer = def.Referer
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ResponseHeaderTimeout <= 0 {
		cfg.ResponseHeaderTimeout = def.ResponseHeaderTimeout
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = def.ResolveTimeout
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = def.PageTimeout
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport},
		limiter: limiter,
		maxPage: maxPageSize,
	}
}

// Get sends a GET for u with the standard headers and the given Accept
// value. The caller owns the response body.
func (c *Client) Get(ctx context.Context, u *url.URL, accept string) (*http.Response, error) {
	return c.get(ctx, u, c.cfg.UserAgent, accept)
}

func (c *Client) get(ctx context.Context, u *url.URL, userAgent, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.cfg.Referer)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return c.http.Do(req)
}

// Resolve follows the redirects of a short link and returns the final URL.
func (c *Client) Resolve(ctx context.Context, u *url.URL) (*url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ResolveTimeout)
	defer cancel()

	resp, err := c.get(ctx, u, c.cfg.UserAgent+" xiaohongshu", "")
	if err != nil {
		return nil, fmt.Errorf("fetch: resolve %s: %w: %v", u, apperr.ErrRedirectUnresolved, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.Request == nil || resp.Request.URL == nil {
		return nil, fmt.Errorf("fetch: resolve %s: %w", u, apperr.ErrRedirectUnresolved)
	}
	return resp.Request.URL, nil
}

// FetchPage returns the decoded page text for u.
func (c *Client) FetchPage(ctx context.Context, u *url.URL) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PageTimeout)
	defer cancel()

	resp, err := c.get(ctx, u, c.cfg.UserAgent, AcceptPage)
	if err != nil {
		return "", fmt.Errorf("fetch: get %s: %w: %v", u, apperr.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch: get %s: %w: HTTP %d", u, apperr.ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxPage+1))
	if err != nil {
		return "", fmt.Errorf("fetch: read %s: %w: %v", u, apperr.ErrFetchFailed, err)
	}
	if int64(len(data)) > c.maxPage {
		return "", fmt.Errorf("fetch: read %s: %w: page exceeds %d bytes", u, apperr.ErrFetchFailed, c.maxPage)
	}
	text, err := decodeText(data)
	if err != nil {
		return "", fmt.Errorf("fetch: decode %s: %w: %v", u, apperr.ErrFetchFailed, err)
	}
	return text, nil
}

// decodeText accepts UTF-8 and falls back to Latin-1.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
