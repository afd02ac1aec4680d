package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16

	// DefaultUserAgent matches the desktop Firefox build the sites serve full players to.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:141.0) Gecko/20100101 Firefox/141.0"

	maxBodySize = 8 << 20
)

var defaultClient *http.Client

func init() {
	defaultClient = newClient(DefaultTimeout)
}

func newClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		Transport: &brotliTransport{base: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		}},
	}
}

// Default returns the shared tuned HTTP client for discovery APIs, listing pages and logo probes.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout, its own cookie jar and a clone of the default transport.
func WithTimeout(timeout time.Duration) *http.Client {
	return newClient(timeout)
}

// NoRedirect returns a copy of c that reports 3xx responses instead of following them.
func NoRedirect(c *http.Client) *http.Client {
	if c == nil {
		c = defaultClient
	}
	out := *c
	out.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &out
}

// brotliTransport advertises br alongside gzip and decodes br bodies itself;
// net/http only decodes gzip transparently.
type brotliTransport struct {
	base http.RoundTripper
}

func (t *brotliTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") != "" || req.Method == http.MethodHead {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Accept-Encoding", "br, gzip")
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "br":
		resp.Body = &decodedBody{Reader: brotli.NewReader(resp.Body), closer: resp.Body}
	case "gzip":
		gz, err := newGzipBody(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("gzip body: %w", err)
		}
		resp.Body = gz
	default:
		return resp, nil
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

type decodedBody struct {
	io.Reader
	closer io.Closer
}

func (d *decodedBody) Close() error { return d.closer.Close() }

// Get fetches rawURL with the given headers (retrying 429/5xx once) and returns the body, capped at 8 MiB.
// A non-200 final status is an error.
func Get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	release := GlobalHostSem.Acquire(rawURL)
	defer release()
	resp, err := DoWithRetry(ctx, client, req, DefaultRetryPolicy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

// StatusError reports a non-200 response from Get.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}
