// Package engine runs one site end to end: discover candidates, resolve them under the concurrency
// bound, validate and dedup the addresses, then write or merge the site's playlist.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/coordinator"
	"github.com/snapetech/iptvresolve/internal/metrics"
	"github.com/snapetech/iptvresolve/internal/playlist"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/sources"
	"github.com/snapetech/iptvresolve/internal/validate"
)

var (
	// ErrAllSourcesFailed means discovery produced nothing for the site. Fatal for the site.
	ErrAllSourcesFailed = errors.New("all candidate sources failed")
	// ErrNothingResolved means no entry survived resolution and validation; no playlist is written.
	ErrNothingResolved = errors.New("no entries resolved")
)

// Options are the run-wide settings shared by every site.
type Options struct {
	OutputDir   string
	Concurrency int
	Policy      resolver.Policy
	Pinned      resolver.Policy // non-zero fields were set by the user and win over a site's Tune
	StampHeader bool
}

// Engine runs sites against one browser.
type Engine struct {
	br      browser.Browser
	opts    Options
	logos   *validate.LogoChecker
	metrics *metrics.Metrics
	resOpts []resolver.Option
	now     func() time.Time
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogoChecker enables logo probing for sites that define a fallback.
func WithLogoChecker(l *validate.LogoChecker) Option { return func(e *Engine) { e.logos = l } }

// WithMetrics records run counters into m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithResolverOptions passes opts to every resolver the engine builds.
func WithResolverOptions(opts ...resolver.Option) Option {
	return func(e *Engine) { e.resOpts = append(e.resOpts, opts...) }
}

// WithClock replaces time.Now for header stamps and durations.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New returns an Engine. log may be nil.
func New(br browser.Browser, opts Options, log *zap.Logger, eopts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	e := &Engine{br: br, opts: opts, now: time.Now, log: log}
	for _, o := range eopts {
		o(e)
	}
	return e
}

// Summary is the per-site run report.
type Summary struct {
	Site          string
	Seen          int // candidates discovered
	Attempted     int // candidates a resolver worked on
	Resolved      int // entries written
	Exhausted     int
	Invalid       int
	Duplicate     int
	Unmatched     int // merge updates that matched no existing entry
	TotalAttempts int
	ViaFallback   int
	PeakPages     int
	Concurrency   int // coordinator bound PeakPages stays within
	Output        string
	Merge         *playlist.MergeStats
	Elapsed       time.Duration
}

// Failed counts candidates that did not produce an entry.
func (s Summary) Failed() int { return s.Exhausted + s.Invalid + s.Duplicate + s.Unmatched }

func (s Summary) fields() []zap.Field {
	return []zap.Field{
		zap.String("site", s.Site),
		zap.Int("seen", s.Seen),
		zap.Int("attempted", s.Attempted),
		zap.Int("resolved", s.Resolved),
		zap.Int("exhausted", s.Exhausted),
		zap.Int("invalid", s.Invalid),
		zap.Int("duplicate", s.Duplicate),
		zap.Int("unmatched", s.Unmatched),
		zap.Int("attempts", s.TotalAttempts),
		zap.Int("content_fallback", s.ViaFallback),
		zap.Int("peak_pages", s.PeakPages),
		zap.Int("concurrency", s.Concurrency),
		zap.Duration("elapsed", s.Elapsed),
	}
}

// Run runs site once. Only discovery failure, an empty result, a write failure or ctx ending are errors;
// every per-candidate failure is counted in the summary instead.
func (e *Engine) Run(ctx context.Context, site *sources.Site) (sum Summary, err error) {
	start := e.now()
	sum.Site = site.Name
	log := e.log.With(zap.String("site", site.Name))
	defer func() {
		sum.Elapsed = e.now().Sub(start)
		if e.metrics != nil {
			e.metrics.RunDuration.WithLabelValues(site.Name).Observe(sum.Elapsed.Seconds())
		}
	}()

	cands, err := site.Discover(ctx)
	if err != nil {
		return sum, fmt.Errorf("%s: %w: %w", site.Name, ErrAllSourcesFailed, err)
	}
	sum.Seen = len(cands)
	cands = lo.Filter(cands, func(c catalog.Candidate, _ int) bool { return c.Resolvable() })
	if e.metrics != nil {
		e.metrics.CandidatesTotal.WithLabelValues(site.Name).Add(float64(sum.Seen))
	}
	log.Info("candidates discovered", zap.Int("seen", sum.Seen), zap.Int("resolvable", len(cands)))
	if len(cands) == 0 {
		return sum, fmt.Errorf("%s: %w: no resolvable candidates", site.Name, ErrAllSourcesFailed)
	}

	pol := e.opts.Policy
	if site.Tune != nil {
		site.Tune(&pol)
		pol = pol.Overlay(e.opts.Pinned)
	}
	ropts := append([]resolver.Option(nil), e.resOpts...)
	if e.metrics != nil {
		m := e.metrics
		ropts = append(ropts, resolver.WithObserver(func(t resolver.Transition) {
			m.TransitionsTotal.WithLabelValues(site.Name, t.To.String()).Inc()
		}))
	}
	res := resolver.New(e.br, site.Profile, pol, log.Named("resolver"), ropts...)
	val := validate.New(uint(len(cands)), site.Rules...)
	coord := coordinator.New(e.opts.Concurrency, log)
	sum.Concurrency = coord.Bound()

	var (
		entries []catalog.Entry
		updates []playlist.Update
	)
	total := len(cands)
	coord.Run(ctx, cands, res.Resolve, func(i int, c catalog.Candidate, o catalog.Outcome) {
		if o.TotalAttempts > 0 {
			sum.Attempted++
		}
		sum.TotalAttempts += o.TotalAttempts
		if e.metrics != nil {
			e.metrics.AttemptsTotal.WithLabelValues(site.Name).Add(float64(o.TotalAttempts))
		}
		plog := log.With(zap.String("progress", fmt.Sprintf("%d/%d", i+1, total)), zap.String("name", c.Name))

		status := o.Status
		if o.Resolved() {
			if err := val.Accept(o.Address.URL); err != nil {
				status = catalog.StatusInvalid
				if validate.Invalid(err) {
					sum.Invalid++
					plog.Warn("address rejected", zap.String("url", o.Address.URL), zap.Error(err))
				} else {
					sum.Duplicate++
					plog.Info("duplicate address skipped", zap.String("url", o.Address.URL))
				}
			}
		} else {
			sum.Exhausted++
			plog.Warn("no stream found", zap.Int("attempts", o.TotalAttempts), zap.Error(o.Err))
		}
		if e.metrics != nil {
			e.metrics.OutcomesTotal.WithLabelValues(site.Name, status.String()).Inc()
		}
		if status != catalog.StatusResolved {
			return
		}

		sum.Resolved++
		if o.ViaFallback {
			sum.ViaFallback++
			if e.metrics != nil {
				e.metrics.FallbackTotal.WithLabelValues(site.Name).Inc()
			}
		}
		plog.Info("stream found", zap.String("url", o.Address.URL), zap.Int("attempts", o.Attempts), zap.Bool("content_fallback", o.ViaFallback))
		if site.Mode == sources.Merge && c.Section == "" {
			updates = append(updates, playlist.Update{Name: c.Name, Address: o.Address.URL})
			return
		}
		ent := catalog.NewEntry(c, o.Address, site.Group)
		if site.LogoFallback != nil && e.logos != nil {
			ent.Logo = e.chooseLogo(ctx, c, site.LogoFallback(c.Category))
		}
		entries = append(entries, ent)
	})
	sum.PeakPages = coord.Peak()
	if e.metrics != nil {
		e.metrics.PeakPages.WithLabelValues(site.Name).Set(float64(sum.PeakPages))
	}
	if err := ctx.Err(); err != nil {
		log.Warn("run interrupted", sum.fields()...)
		return sum, err
	}
	if sum.Resolved == 0 {
		log.Error("nothing resolved", sum.fields()...)
		return sum, fmt.Errorf("%s: %w", site.Name, ErrNothingResolved)
	}

	sum.Output = filepath.Join(e.opts.OutputDir, site.Output)
	if err := e.write(site, sum.Output, entries, updates, &sum); err != nil {
		return sum, err
	}
	if e.metrics != nil {
		e.metrics.Succeeded(site.Name, e.now())
	}
	sum.Elapsed = e.now().Sub(start)
	log.Info("playlist written", append(sum.fields(), zap.String("path", sum.Output))...)
	return sum, nil
}

func (e *Engine) chooseLogo(ctx context.Context, c catalog.Candidate, fallback string) string {
	logo := e.logos.Choose(ctx, c.Logo, fallback)
	if e.metrics != nil {
		result := "kept"
		if logo != c.Logo || logo == "" {
			result = "replaced"
		}
		e.metrics.LogoProbesTotal.WithLabelValues(result).Inc()
	}
	return logo
}

func (e *Engine) write(site *sources.Site, path string, entries []catalog.Entry, updates []playlist.Update, sum *Summary) error {
	var stamp time.Time
	if e.opts.StampHeader {
		stamp = e.now()
	}
	header := playlist.Header(site.EPGURL, stamp)
	if site.Mode != sources.Merge {
		return playlist.WriteFile(path, playlist.Render(header, entries))
	}
	doc, err := playlist.ReadFile(path)
	if err != nil {
		return err
	}
	log := e.log.With(zap.String("site", site.Name))
	st := playlist.Merge(doc, playlist.MergeOptions{
		Header:     header,
		Updates:    updates,
		LowQuality: site.LowQuality,
		Sections:   site.Sections,
		Fresh:      entries,
		Positional: site.PositionalUpdates,
		OnUnmatched: func(u playlist.Update) {
			log.Warn("no existing entry for update", zap.String("name", u.Name), zap.String("url", u.Address))
		},
	})
	sum.Merge = &st
	sum.Unmatched = st.Unmatched
	sum.Resolved -= st.Unmatched
	log.Info("playlist merged",
		zap.Int("matched", st.Matched), zap.Int("rewritten", st.Rewritten), zap.Int("unmatched", st.Unmatched),
		zap.Int("dropped", st.Dropped), zap.Int("removed", st.Removed),
		zap.Int("appended", st.Appended), zap.Int("duplicates", st.Duplicates))
	if st.Matched+st.Appended == 0 {
		log.Error("nothing merged", sum.fields()...)
		return fmt.Errorf("%s: %w: no update matched and nothing appended", site.Name, ErrNothingResolved)
	}
	return playlist.WriteFile(path, doc.String())
}

// RunAll runs sites in order, continuing past failures. The error joins every site's failure.
func (e *Engine) RunAll(ctx context.Context, sites []*sources.Site) ([]Summary, error) {
	var (
		out  []Summary
		errs []error
	)
	for _, s := range sites {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		sum, err := e.Run(ctx, s)
		out = append(out, sum)
		if err != nil {
			e.log.Error("site failed", zap.String("site", s.Name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}
