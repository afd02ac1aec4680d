// Package health probes site home pages before a run and classifies why one is unusable.
package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/snapetech/iptvresolve/internal/httpclient"
)

type Status string

const (
	StatusOK         Status = "ok"
	StatusCloudflare Status = "cloudflare"
	StatusBadStatus  Status = "bad_status"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Result is the outcome of probing one page.
type Result struct {
	URL        string
	Status     Status
	StatusCode int
	Latency    time.Duration
	Err        error
}

// OK reports whether the page answered 200 without a challenge.
func (r Result) OK() bool { return r.Status == StatusOK }

// Probe fetches rawURL and classifies the response.
// A Cloudflare verdict needs the Server header or a challenge page, not just a bad status.
func Probe(ctx context.Context, client *http.Client, rawURL string) Result {
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{URL: rawURL, Status: StatusError, Err: err}
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		st := StatusError
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			st = StatusTimeout
		}
		return Result{URL: rawURL, Status: st, Latency: latency, Err: err}
	}
	defer resp.Body.Close()
	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	body := strings.ToLower(string(preview))
	code := resp.StatusCode
	r := Result{URL: rawURL, StatusCode: code, Latency: latency}

	cfServer := strings.EqualFold(strings.TrimSpace(resp.Header.Get("Server")), "cloudflare")
	challenge := strings.Contains(body, "checking your browser") ||
		strings.Contains(body, "cf-bypass") ||
		strings.Contains(body, "ray id")
	switch {
	case code == http.StatusOK:
		r.Status = StatusOK
	case cfServer:
		r.Status = StatusCloudflare
	case challenge && (code == 403 || code == 503 || code == 520 || code == 521 || code == 524):
		r.Status = StatusCloudflare
	default:
		r.Status = StatusBadStatus
	}
	return r
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// ProbeAll probes urls concurrently, at most limit at a time, and returns
// reachable pages first by latency, then the rest by URL.
func ProbeAll(ctx context.Context, client *http.Client, urls []string, limit int) []Result {
	out := make([]Result, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range urls {
		g.Go(func() error {
			out[i] = Probe(gctx, client, u)
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OK() != out[j].OK() {
			return out[i].OK()
		}
		if out[i].OK() {
			return out[i].Latency < out[j].Latency
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// Best returns the fastest reachable URL, or "" when none answered.
func Best(results []Result) string {
	for _, r := range results {
		if r.OK() {
			return r.URL
		}
	}
	return ""
}
