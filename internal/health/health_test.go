package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe_ok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("no user agent sent")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	r := Probe(context.Background(), srv.Client(), srv.URL)
	if !r.OK() || r.StatusCode != 200 {
		t.Fatalf("result = %+v", r)
	}
}

func TestProbe_classify(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		server string
		body   string
		want   Status
	}{
		{"cf server", 403, "cloudflare", "", StatusCloudflare},
		{"challenge page", 503, "nginx", "<title>Checking your browser</title>", StatusCloudflare},
		{"challenge on 404", 404, "nginx", "ray id", StatusBadStatus},
		{"plain 500", 500, "", "oops", StatusBadStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.server != "" {
					w.Header().Set("Server", tt.server)
				}
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			r := Probe(context.Background(), srv.Client(), srv.URL)
			if r.Status != tt.want || r.StatusCode != tt.code {
				t.Errorf("result = %+v, want %s", r, tt.want)
			}
		})
	}
}

func TestProbe_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r := Probe(ctx, srv.Client(), srv.URL); r.Status != StatusTimeout || r.Err == nil {
		t.Fatalf("result = %+v", r)
	}
}

func TestProbe_badURL(t *testing.T) {
	if r := Probe(context.Background(), nil, "://nope"); r.Status != StatusError {
		t.Fatalf("result = %+v", r)
	}
}

func TestProbeAll_order(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	res := ProbeAll(context.Background(), nil, []string{bad.URL, ok.URL}, 2)
	if len(res) != 2 || res[0].URL != ok.URL || res[1].URL != bad.URL {
		t.Fatalf("order = %+v", res)
	}
	if Best(res) != ok.URL {
		t.Errorf("Best = %q", Best(res))
	}
	if Best(res[1:]) != "" {
		t.Error("Best picked an unreachable page")
	}
}
