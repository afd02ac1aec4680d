package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/iptvresolve/internal/browser/browsertest"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/matcher"
	"github.com/snapetech/iptvresolve/internal/metrics"
	"github.com/snapetech/iptvresolve/internal/playlist"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/sources"
	"github.com/snapetech/iptvresolve/internal/validate"
)

func testOptions(dir string) Options {
	return Options{
		OutputDir:   dir,
		Concurrency: 2,
		Policy: resolver.Policy{
			MaxRetries:    2,
			NavTimeout:    time.Second,
			MarkerTimeout: time.Second,
			WindowTimeout: 20 * time.Millisecond,
			ClickTimeout:  time.Second,
			BackoffMin:    time.Millisecond,
			BackoffMax:    time.Millisecond,
		},
	}
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// streams maps a navigation target to the request its player makes once clicked.
func scripted(streams map[string]string) *browsertest.Browser {
	return browsertest.New(func(target string, _ int) browsertest.Visit {
		if u, ok := streams[target]; ok {
			return browsertest.Visit{OnTrigger: []string{"https://ads.example/pixel.js", u}}
		}
		return browsertest.Visit{OnTrigger: []string{"https://ads.example/pixel.js"}}
	})
}

func cand(id, name string) catalog.Candidate {
	return catalog.Candidate{ID: id, Name: name, Targets: []string{"https://site.example/" + id}, Group: "Sports"}
}

func testSite(cands ...catalog.Candidate) *sources.Site {
	return &sources.Site{
		Name:   "test",
		Output: "Test.m3u8",
		Group:  "Fallback",
		Profile: resolver.Profile{
			Matcher:    matcher.New(".m3u8"),
			Strategies: []resolver.Strategy{resolver.ClickBody()},
			Playback:   catalog.Headers{Origin: "https://o.example", Referer: "https://o.example/", UserAgent: "UA"},
		},
		Rules: []validate.Rule{validate.HTTPOnly(), validate.SentinelToken("false")},
		Discover: func(context.Context) ([]catalog.Candidate, error) {
			return cands, nil
		},
	}
}

func TestRun_rebuild(t *testing.T) {
	dir := t.TempDir()
	br := scripted(map[string]string{
		"https://site.example/a": "https://cdn.example/a.m3u8",
		"https://site.example/b": "https://cdn.example/a.m3u8", // same stream as a
		"https://site.example/c": "https://cdn.example/c.m3u8?auth_key=false123",
		"https://site.example/e": "https://cdn.example/e.m3u8",
	})
	site := testSite(cand("a", "Alpha, One"), cand("b", "Bravo"), cand("c", "Charlie"), cand("d", "Delta"), cand("e", "Echo"),
		catalog.Candidate{ID: "x", Name: "No Targets"})
	m := metrics.New()
	e := New(br, testOptions(dir), nil, WithMetrics(m), WithResolverOptions(resolver.WithSleep(noSleep)))

	sum, err := e.Run(context.Background(), site)
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Site: "test", Seen: 6, Attempted: 5, Resolved: 2, Exhausted: 1, Invalid: 1, Duplicate: 1}
	if sum.Seen != want.Seen || sum.Attempted != want.Attempted || sum.Resolved != want.Resolved ||
		sum.Exhausted != want.Exhausted || sum.Invalid != want.Invalid || sum.Duplicate != want.Duplicate {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Failed() != 3 {
		t.Errorf("failed = %d", sum.Failed())
	}
	if sum.TotalAttempts != 6 {
		t.Errorf("total attempts = %d, want 6", sum.TotalAttempts)
	}
	if sum.Concurrency != 2 || sum.PeakPages > sum.Concurrency || br.Peak() > 2 {
		t.Errorf("peak pages = %d/%d, bound 2", sum.PeakPages, br.Peak())
	}
	if br.Open() != 0 {
		t.Errorf("%d pages left open", br.Open())
	}

	data, err := os.ReadFile(filepath.Join(dir, "Test.m3u8"))
	if err != nil {
		t.Fatal(err)
	}
	entries := playlist.Parse(string(data)).Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Name != "Alpha One" || entries[0].Address.URL != "https://cdn.example/a.m3u8" || entries[0].Group != "Sports" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].Address.Headers.Origin != "https://o.example" {
		t.Errorf("playback headers = %+v", entries[0].Address.Headers)
	}
	if entries[1].Name != "Echo" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if strings.Contains(string(data), "false123") {
		t.Error("sentinel address written")
	}
}

func TestRun_merge(t *testing.T) {
	dir := t.TempDir()
	existing := "#EXTM3U\n" +
		"#EXTINF:-1 tvg-id=\"ESPN.us\" group-title=\"TV\",ESPN\nhttps://old/espn.m3u8\n" +
		"#EXTINF:-1 group-title=\"TV\",ESPN SD\nhttps://old/espn-sd.m3u8\n" +
		"#EXTINF:-1 group-title=\"TV - NBA\",Old Game\nhttps://old/game.m3u8\n"
	path := filepath.Join(dir, "Test.m3u8")
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	br := scripted(map[string]string{
		"https://site.example/espn": "https://cdn.example/espn.m3u8",
		"https://site.example/game": "https://cdn.example/game.m3u8",
	})
	game := cand("game", "Lakers vs Celtics HD")
	game.Group, game.Section = "TV - NBA", "TV - NBA"
	site := testSite(cand("espn", "ESPN"), game)
	site.Mode = sources.Merge
	site.EPGURL = "https://epg.example/guide.xml.gz"
	site.Sections = []string{"TV - NBA"}
	site.LowQuality = playlist.SDMarker

	e := New(br, testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep)))
	sum, err := e.Run(context.Background(), site)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Merge == nil || sum.Merge.Rewritten != 1 || sum.Merge.Dropped != 1 || sum.Merge.Removed != 1 || sum.Merge.Appended != 1 {
		t.Errorf("merge stats = %+v", sum.Merge)
	}
	data, _ := os.ReadFile(path)
	got := string(data)
	wantPrefix := "#EXTM3U url-tvg=\"https://epg.example/guide.xml.gz\"\n" +
		"#EXTINF:-1 tvg-id=\"ESPN.us\" group-title=\"TV\",ESPN\nhttps://cdn.example/espn.m3u8\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("merged document:\n%s", got)
	}
	if strings.Contains(got, "Old Game") || strings.Contains(got, "ESPN SD") {
		t.Errorf("stale entries kept:\n%s", got)
	}
	if !strings.HasSuffix(got, "https://cdn.example/game.m3u8\n") {
		t.Errorf("fresh section entry missing:\n%s", got)
	}

	// Same input again leaves the file unchanged.
	br2 := scripted(map[string]string{
		"https://site.example/espn": "https://cdn.example/espn.m3u8",
		"https://site.example/game": "https://cdn.example/game.m3u8",
	})
	if _, err := New(br2, testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep))).Run(context.Background(), site); err != nil {
		t.Fatal(err)
	}
	again, _ := os.ReadFile(path)
	if string(again) != got {
		t.Errorf("second merge changed the document:\n%s", again)
	}
}

func TestRun_discoveryFailure(t *testing.T) {
	site := testSite()
	site.Discover = func(context.Context) ([]catalog.Candidate, error) {
		return nil, &sources.DiscoveryError{Source: "test", Err: errors.New("mirror down")}
	}
	_, err := New(scripted(nil), testOptions(t.TempDir()), nil).Run(context.Background(), site)
	if !errors.Is(err, ErrAllSourcesFailed) || !errors.Is(err, sources.ErrDiscovery) {
		t.Fatalf("err = %v", err)
	}
}

func TestRun_nothingResolved(t *testing.T) {
	dir := t.TempDir()
	e := New(scripted(nil), testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep)))
	sum, err := e.Run(context.Background(), testSite(cand("a", "A")))
	if !errors.Is(err, ErrNothingResolved) {
		t.Fatalf("err = %v", err)
	}
	if sum.Exhausted != 1 || sum.TotalAttempts != 2 {
		t.Errorf("summary = %+v", sum)
	}
	if _, err := os.Stat(filepath.Join(dir, "Test.m3u8")); !os.IsNotExist(err) {
		t.Errorf("playlist written for an empty run: %v", err)
	}
}

func TestRun_mergeUnmatchedUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Test.m3u8")
	existing := "#EXTM3U\n#EXTINF:-1 group-title=\"TV\",Fox Sports 1\nhttps://old/fs1.m3u8\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	streams := map[string]string{"https://site.example/espn": "https://cdn.example/espn.m3u8"}
	site := testSite(cand("espn", "ESPN"))
	site.Mode = sources.Merge

	e := New(scripted(streams), testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep)))
	sum, err := e.Run(context.Background(), site)
	if !errors.Is(err, ErrNothingResolved) {
		t.Fatalf("err = %v, want ErrNothingResolved", err)
	}
	if sum.Resolved != 0 || sum.Unmatched != 1 || sum.Failed() != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if data, _ := os.ReadFile(path); string(data) != existing {
		t.Errorf("document changed:\n%s", data)
	}

	site.PositionalUpdates = true
	sum, err = New(scripted(streams), testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep))).Run(context.Background(), site)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Resolved != 1 || sum.Unmatched != 0 || sum.Merge.Matched != 1 {
		t.Errorf("positional summary = %+v merge = %+v", sum, sum.Merge)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "Fox Sports 1\nhttps://cdn.example/espn.m3u8\n") {
		t.Errorf("positional update not applied:\n%s", data)
	}
}

func TestRun_mergeMatchesAcrossQualityTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Test.m3u8")
	existing := "#EXTM3U\n#EXTINF:-1 group-title=\"TV\",ESPN HD\nhttps://old/espn.m3u8\n"
	if err := os.WriteFile(path, []byte(existing), 0o644); err != nil {
		t.Fatal(err)
	}
	site := testSite(cand("espn", "ESPN"))
	site.Mode = sources.Merge
	br := scripted(map[string]string{"https://site.example/espn": "https://cdn.example/espn.m3u8"})
	sum, err := New(br, testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep))).Run(context.Background(), site)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Resolved != 1 || sum.Merge.Rewritten != 1 {
		t.Errorf("summary = %+v merge = %+v", sum, sum.Merge)
	}
	if data, _ := os.ReadFile(path); !strings.Contains(string(data), "ESPN HD\nhttps://cdn.example/espn.m3u8\n") {
		t.Errorf("document:\n%s", data)
	}
}

func TestRun_pinnedTimeoutBeatsSiteTune(t *testing.T) {
	site := testSite(cand("a", "A"))
	site.Tune = func(p *resolver.Policy) { p.WindowTimeout = time.Minute }
	opts := testOptions(t.TempDir())
	opts.Pinned = resolver.Policy{WindowTimeout: 10 * time.Millisecond}

	start := time.Now()
	sum, err := New(scripted(nil), opts, nil, WithResolverOptions(resolver.WithSleep(noSleep))).Run(context.Background(), site)
	if !errors.Is(err, ErrNothingResolved) || sum.Exhausted != 1 {
		t.Fatalf("err = %v summary = %+v", err, sum)
	}
	if d := time.Since(start); d > 10*time.Second {
		t.Errorf("run took %v; the site window replaced the pinned one", d)
	}
}

func TestRun_writeFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	br := scripted(map[string]string{"https://site.example/a": "https://cdn.example/a.m3u8"})
	_, err := New(br, testOptions(blocker), nil, WithResolverOptions(resolver.WithSleep(noSleep))).Run(context.Background(), testSite(cand("a", "A")))
	var pe *playlist.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PersistenceError", err)
	}
}

func TestRun_logoFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.png" {
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dir := t.TempDir()
	br := scripted(map[string]string{
		"https://site.example/a": "https://cdn.example/a.m3u8",
		"https://site.example/b": "https://cdn.example/b.m3u8",
	})
	a, b := cand("a", "A"), cand("b", "B")
	a.Logo, a.Category = srv.URL+"/good.png", "darts"
	b.Logo, b.Category = srv.URL+"/gone.png", "darts"
	site := testSite(a, b)
	site.LogoFallback = func(cat string) string { return "https://fallback.example/" + cat + ".png" }

	logos := validate.NewLogoChecker(validate.LogoOptions{Rate: 1000}, nil)
	e := New(br, testOptions(dir), nil, WithLogoChecker(logos), WithResolverOptions(resolver.WithSleep(noSleep)))
	if _, err := e.Run(context.Background(), site); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "Test.m3u8"))
	entries := playlist.Parse(string(data)).Entries()
	if len(entries) != 2 || entries[0].Logo != srv.URL+"/good.png" || entries[1].Logo != "https://fallback.example/darts.png" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRunAll_continuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	bad := testSite()
	bad.Name = "bad"
	bad.Discover = func(context.Context) ([]catalog.Candidate, error) {
		return nil, &sources.DiscoveryError{Source: "bad", Err: errors.New("down")}
	}
	good := testSite(cand("a", "A"))
	br := scripted(map[string]string{"https://site.example/a": "https://cdn.example/a.m3u8"})
	sums, err := New(br, testOptions(dir), nil, WithResolverOptions(resolver.WithSleep(noSleep))).RunAll(context.Background(), []*sources.Site{bad, good})
	if !errors.Is(err, ErrAllSourcesFailed) {
		t.Fatalf("err = %v", err)
	}
	if len(sums) != 2 || sums[1].Resolved != 1 {
		t.Errorf("summaries = %+v", sums)
	}
}
