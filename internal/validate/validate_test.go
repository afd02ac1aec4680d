package validate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func TestValidate_sentinel(t *testing.T) {
	v := New(0, SentinelToken("false"), HTTPOnly())
	err := v.Accept("https://s.example/stream.m3u8?auth_key=FALSE123")
	var re *RejectedError
	if !errors.As(err, &re) || re.Rule != "sentinel:false" {
		t.Fatalf("err = %v", err)
	}
	if !Invalid(err) {
		t.Error("sentinel rejection should be invalid")
	}
	if v.Accepted() != 0 {
		t.Error("rejected address was recorded")
	}
	if err := v.Accept("https://s.example/stream.m3u8?auth_key=abc"); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
}

func TestValidate_emptyAndScheme(t *testing.T) {
	v := New(0, HTTPOnly())
	if err := v.Accept("  "); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty: %v", err)
	}
	if err := v.Accept("blob:https://x/1"); !Invalid(err) {
		t.Errorf("blob: %v", err)
	}
}

func TestValidate_duplicateFirstWins(t *testing.T) {
	v := New(0)
	if err := v.Accept("https://e.example/a.m3u8"); err != nil {
		t.Fatal(err)
	}
	err := v.Accept("https://e.example/a.m3u8")
	if !errors.Is(err, ErrDuplicate) || Invalid(err) {
		t.Fatalf("second accept = %v", err)
	}
	if err := v.Accept("https://e.example/a.m3u8?x"); err != nil {
		t.Errorf("different string must not be a duplicate: %v", err)
	}
	if v.Accepted() != 2 {
		t.Errorf("accepted = %d", v.Accepted())
	}
}

func TestValidate_concurrentAcceptOnce(t *testing.T) {
	v := New(1000)
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if v.Accept(fmt.Sprintf("https://e.example/%d.m3u8", i%10)) == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 10 {
		t.Errorf("accepted %d distinct of 10", wins.Load())
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string]bool
	puts int
}

func (m *memStore) Get(_ context.Context, url string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, found := m.data[url]
	return ok, found, nil
}

func (m *memStore) Put(_ context.Context, url string, ok bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[url] = ok
	m.puts++
	return nil
}

func TestLogoChecker(t *testing.T) {
	var heads atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads.Add(1)
		}
		switch r.URL.Path {
		case "/ok.webp":
			w.WriteHeader(http.StatusOK)
		case "/moved.webp":
			http.Redirect(w, r, "/ok.webp", http.StatusFound)
		case "/perm.webp":
			http.Redirect(w, r, "/ok.webp", http.StatusMovedPermanently)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := &memStore{data: map[string]bool{srv.URL + "/cached.webp": true}}
	l := NewLogoChecker(LogoOptions{Rate: 1000, Store: store}, nil)
	ctx := context.Background()
	const fb = "https://fallback.example/cat.png"

	tests := []struct{ path, want string }{
		{"/ok.webp", srv.URL + "/ok.webp"},
		{"/moved.webp", srv.URL + "/moved.webp"},
		{"/perm.webp", fb},
		{"/missing.webp", fb},
		{"/cached.webp", srv.URL + "/cached.webp"},
	}
	for _, tt := range tests {
		if got := l.Choose(ctx, srv.URL+tt.path, fb); got != tt.want {
			t.Errorf("Choose(%s) = %q, want %q", tt.path, got, tt.want)
		}
	}
	if got := l.Choose(ctx, "", fb); got != fb {
		t.Errorf("empty logo = %q", got)
	}
	before := heads.Load()
	l.Choose(ctx, srv.URL+"/ok.webp", fb)
	if heads.Load() != before {
		t.Error("second probe of same URL hit the network")
	}
	// 302 is followed by nobody: exactly one HEAD per probed URL.
	if before != 4 {
		t.Errorf("HEAD requests = %d, want 4", before)
	}
	if store.puts != 4 {
		t.Errorf("store puts = %d, want 4", store.puts)
	}
	if s := l.Stats(); s.Probes != 4 || s.Kept != 4 || s.Replaced != 3 {
		t.Errorf("stats = %+v", s)
	}
}
