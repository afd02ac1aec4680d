package validate

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/snapetech/iptvresolve/internal/httpclient"
	"github.com/snapetech/iptvresolve/internal/safeurl"
)

const logoLRUSize = 2048

// ProbeStore persists probe results across runs (logocache.Store).
type ProbeStore interface {
	Get(ctx context.Context, url string) (ok, fresh bool, err error)
	Put(ctx context.Context, url string, ok bool) error
}

// LogoOptions configure a LogoChecker. Zero values take defaults.
type LogoOptions struct {
	Timeout time.Duration // per probe; default 5s
	Rate    float64       // probes per second; default 10
	Store   ProbeStore    // optional
	Client  *http.Client  // default httpclient.WithTimeout(Timeout)
	Hosts   *httpclient.HostSemaphore
}

// LogoChecker decides whether a candidate logo URL is worth keeping. Probe failures are never errors.
type LogoChecker struct {
	client  *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	mem     *lru.Cache[string, bool]
	store   ProbeStore
	hosts   *httpclient.HostSemaphore
	log     *zap.Logger

	probes, kept, replaced atomic.Int64
}

// NewLogoChecker returns a checker using opts.
func NewLogoChecker(opts LogoOptions, log *zap.Logger) *LogoChecker {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Rate <= 0 {
		opts.Rate = 10
	}
	if opts.Client == nil {
		opts.Client = httpclient.WithTimeout(opts.Timeout)
	}
	if opts.Hosts == nil {
		opts.Hosts = httpclient.GlobalHostSem
	}
	if log == nil {
		log = zap.NewNop()
	}
	mem, _ := lru.New[string, bool](logoLRUSize)
	burst := int(opts.Rate)
	if burst < 1 {
		burst = 1
	}
	return &LogoChecker{
		client:  httpclient.NoRedirect(opts.Client),
		timeout: opts.Timeout,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), burst),
		mem:     mem,
		store:   opts.Store,
		hosts:   opts.Hosts,
		log:     log,
	}
}

// Choose returns logo when it answers a HEAD with 200 or 302, otherwise fallback.
func (l *LogoChecker) Choose(ctx context.Context, logo, fallback string) string {
	if logo != "" && l.Reachable(ctx, logo) {
		l.kept.Add(1)
		return logo
	}
	l.replaced.Add(1)
	return fallback
}

// Reachable probes url once per run (and once per TTL when a store is set).
func (l *LogoChecker) Reachable(ctx context.Context, url string) bool {
	if !safeurl.IsHTTPOrHTTPS(url) {
		return false
	}
	if ok, hit := l.mem.Get(url); hit {
		return ok
	}
	if l.store != nil {
		ok, fresh, err := l.store.Get(ctx, url)
		if err != nil {
			l.log.Debug("logo cache read failed", zap.Error(err))
		} else if fresh {
			l.mem.Add(url, ok)
			return ok
		}
	}
	ok := l.probe(ctx, url)
	l.mem.Add(url, ok)
	if l.store != nil {
		if err := l.store.Put(ctx, url, ok); err != nil {
			l.log.Debug("logo cache write failed", zap.Error(err))
		}
	}
	return ok
}

func (l *LogoChecker) probe(ctx context.Context, url string) bool {
	if err := l.limiter.Wait(ctx); err != nil {
		return false
	}
	pctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	release, err := l.hosts.AcquireContext(pctx, url)
	if err != nil {
		return false
	}
	defer release()
	l.probes.Add(1)
	req, err := http.NewRequestWithContext(pctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", httpclient.DefaultUserAgent)
	resp, err := l.client.Do(req)
	if err != nil {
		l.log.Debug("logo probe failed", zap.String("url", url), zap.Error(err))
		return false
	}
	resp.Body.Close()
	ok := resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusFound
	l.log.Debug("logo probe", zap.String("url", url), zap.Int("status", resp.StatusCode), zap.Bool("ok", ok))
	return ok
}

// LogoStats are counters since creation.
type LogoStats struct {
	Probes, Kept, Replaced int64
}

func (l *LogoChecker) Stats() LogoStats {
	return LogoStats{Probes: l.probes.Load(), Kept: l.kept.Load(), Replaced: l.replaced.Load()}
}
