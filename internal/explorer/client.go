// Package explorer wraps the public TRON block-explorer HTTP API: an
// allow-listed HTTPS client, a rate limiter honoring both a sliding
// request-count window and 429 backoff, a short-TTL response cache, and
// the parser that turns raw explorer records into canonical transfers.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tronrecon/internal/rerr"
)

// allowedHosts is the fixed set of explorer domains the client will talk
// to. Any other host is rejected at construction time.
var allowedHosts = map[string]bool{
	"apilist.tronscanapi.com": true,
	"api.trongrid.io":         true,
	"api.tronscan.org":        true,
	"nile.trongrid.io":        true,
}

// Client is a rate-limited, allow-listed HTTPS client against a TRON
// block explorer.
type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	limiter     *rateLimiter
	cache       *responseCache
	maxAttempts int
}

// Config configures a Client.
type Config struct {
	BaseURL             string
	RequestsPerMinute   int
	CacheTTL            time.Duration
	RequestTimeout      time.Duration
}

// New validates the base URL against the explorer allow-list (https,
// known host, port 443 if any) and constructs a ready-to-use Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, rerr.Wrap(rerr.InvalidArgument, "invalid explorer base URL", err)
	}
	if u.Scheme != "https" {
		return nil, rerr.New(rerr.InvalidArgument, "explorer base URL must use https")
	}
	host := u.Hostname()
	if !allowedHosts[host] {
		return nil, rerr.New(rerr.InvalidArgument, fmt.Sprintf("explorer host %q is not in the allow-list", host))
	}
	if port := u.Port(); port != "" && port != "443" {
		return nil, rerr.New(rerr.InvalidArgument, "explorer base URL port must be 443")
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = 5 * time.Second
	}

	return &Client{
		baseURL:     u,
		httpClient:  &http.Client{Timeout: requestTimeout},
		limiter:     newRateLimiter(cfg.RequestsPerMinute),
		cache:       newResponseCache(cfg.CacheTTL),
		maxAttempts: 3,
	}, nil
}

// get performs one rate-limited, retried GET against path with the given
// query parameters, returning the parsed JSON body. cacheable list
// endpoints pass use cache; detail lookups pass false.
func (c *Client) get(ctx context.Context, path string, params url.Values, useCache bool) (map[string]any, error) {
	reqURL := *c.baseURL
	reqURL.Path = strings.TrimSuffix(reqURL.Path, "/") + path
	reqURL.RawQuery = params.Encode()
	key := reqURL.String()

	if useCache {
		if cached, ok := c.cache.get(key); ok {
			return cached, nil
		}
	}

	body, err := c.requestWithRetry(ctx, reqURL.String())
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, rerr.Wrap(rerr.APIRejected, "explorer response is not valid JSON", err)
	}
	obj, err := validateResponseShape(parsed)
	if err != nil {
		return nil, err
	}

	if useCache {
		c.cache.set(key, obj)
	}
	return obj, nil
}

// requestWithRetry issues up to three attempts honoring the rate limiter,
// sleeping 5s on timeout and 10s on general failure before the next
// attempt. SSL errors are surfaced immediately without retry.
func (c *Client) requestWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		c.limiter.wait(ctx)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, rerr.Wrap(rerr.NetworkFailed, "build request", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if isSSLError(err) {
				return nil, rerr.Wrap(rerr.SSLFailed, "TLS handshake failed", err)
			}
			if isTimeout(err) {
				lastErr = rerr.Wrap(rerr.NetworkFailed, "request timed out", err)
				sleep(ctx, 5*time.Second)
				continue
			}
			lastErr = rerr.Wrap(rerr.NetworkFailed, "request failed", err)
			sleep(ctx, 10*time.Second)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.limiter.note429()
			resp.Body.Close()
			lastErr = rerr.New(rerr.RateLimited, "explorer returned 429")
			sleep(ctx, retryAfter)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = rerr.Wrap(rerr.NetworkFailed, "read response body", err)
			sleep(ctx, 10*time.Second)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			c.limiter.noteSuccess()
			return body, nil
		}

		lastErr = rerr.New(rerr.APIRejected, fmt.Sprintf("explorer returned status %d", resp.StatusCode))
	}
	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 60 * time.Second
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	for e := err; e != nil; {
		if tt, ok := e.(timeouter); ok {
			t = tt
			break
		}
		unwrapper, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = unwrapper.Unwrap()
	}
	return t != nil && t.Timeout()
}

func isSSLError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "tls") ||
		strings.Contains(strings.ToLower(err.Error()), "x509") ||
		strings.Contains(strings.ToLower(err.Error()), "certificate")
}
