package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	const limit = 30 * time.Second
	for in, want := range map[string]time.Duration{
		"":        time.Second,
		"garbage": time.Second,
		"0":       0,
		" 7 ":     7 * time.Second,
		"3600":    limit,
	} {
		if got := parseRetryAfter(in, limit); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGet_retriesRateLimit(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"m1"}]`))
	}))
	defer srv.Close()

	body, err := Get(context.Background(), srv.Client(), srv.URL+"/api/matches/live", nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != `[{"id":"m1"}]` || hits != 2 {
		t.Errorf("body = %q after %d requests", body, hits)
	}
}

func TestDoWithRetry_5xxThen200(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("X-Probe") != "1" {
			t.Errorf("retry dropped header X-Probe")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	req.Header.Set("X-Probe", "1")
	policy := DefaultRetryPolicy
	policy.Backoff5xx = time.Millisecond
	resp, err := DoWithRetry(ctx, &http.Client{Timeout: 5 * time.Second}, req, policy)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || attempts != 2 {
		t.Errorf("status = %d attempts = %d, want 200 and 2", resp.StatusCode, attempts)
	}
}

func TestDoWithRetry_4xxNoRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ctx := context.Background()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := DoWithRetry(ctx, nil, req, DefaultRetryPolicy)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
