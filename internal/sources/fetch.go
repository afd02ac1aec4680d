package sources

import (
	"context"
	"net/http"
	"time"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/httpclient"
)

// FetchOptions tune one listing fetch.
type FetchOptions struct {
	Wait      string // selector to wait for before reading the DOM (rendered fetches only)
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

// Fetcher returns the HTML of a listing page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, o FetchOptions) (string, error)
}

// HTTPFetcher fetches pages without rendering them.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string, o FetchOptions) (string, error) {
	c := f.Client
	if c == nil {
		c = httpclient.Default()
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	h := make(map[string]string, len(o.Headers)+1)
	for k, v := range o.Headers {
		h[k] = v
	}
	if o.UserAgent != "" {
		h["User-Agent"] = o.UserAgent
	}
	body, err := httpclient.Get(ctx, c, url, h)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// BrowserFetcher renders pages in a browser tab and returns the resulting DOM.
type BrowserFetcher struct {
	Browser browser.Browser
}

func (f BrowserFetcher) Fetch(ctx context.Context, url string, o FetchOptions) (string, error) {
	p, err := f.Browser.NewPage(ctx, browser.PageOptions{UserAgent: o.UserAgent, Headers: o.Headers})
	if err != nil {
		return "", err
	}
	defer p.Close()
	if err := p.InstallRouteFilter(ctx, browser.AdFilter); err != nil {
		return "", err
	}
	if err := p.Navigate(ctx, url, o.Timeout); err != nil {
		return "", err
	}
	if o.Wait != "" {
		if err := p.WaitFor(ctx, o.Wait, o.Timeout); err != nil {
			return "", err
		}
	}
	return p.Content(ctx)
}
