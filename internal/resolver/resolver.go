// Package resolver turns one candidate into a stream address by driving a browser page:
// navigate, trigger playback, observe outbound requests, retry with reloads.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/matcher"
)

// State is a step of the per-target protocol.
type State int

const (
	Idle State = iota
	Navigating
	WindowOpen
	Matched
	WindowTimedOut
	Reload
	GiveUp
)

var stateNames = [...]string{"idle", "navigating", "window-open", "matched", "window-timed-out", "reload", "give-up"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is reported to an observer on every state change.
type Transition struct {
	Candidate string
	Target    string
	Attempt   int
	From, To  State
}

// Profile is the per-site part of the protocol.
type Profile struct {
	Matcher       *matcher.Matcher
	Marker        string     // DOM element required before interacting; "" = none
	Strategies    []Strategy // tried in order each round; a candidate's Click goes first
	TriggerRounds int        // passes over Strategies while nothing matched; default 1
	TriggerGap    time.Duration
	Page          browser.PageOptions
	Filter        browser.Filter // nil = browser.AdFilter
	Playback      catalog.Headers
}

// ErrNoTargets is the outcome error for a candidate without a usable navigation target.
var ErrNoTargets = errors.New("no navigation targets")

// errWindow marks an attempt that ended without a match: timeout in navigation, marker or window.
var errWindow = errors.New("no matching request in window")

// Resolver resolves candidates for one site. Safe for concurrent use; each Resolve call owns its pages.
type Resolver struct {
	br      browser.Browser
	prof    Profile
	pol     Policy
	log     *zap.Logger
	observe func(Transition)
	sleep   func(context.Context, time.Duration) error
	jitter  func() float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithObserver reports every state transition to fn. fn must be safe for concurrent use.
func WithObserver(fn func(Transition)) Option { return func(r *Resolver) { r.observe = fn } }

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Resolver) { r.sleep = fn }
}

// WithJitter replaces the backoff jitter source; fn returns a value in [0,1).
func WithJitter(fn func() float64) Option { return func(r *Resolver) { r.jitter = fn } }

// New returns a Resolver that opens pages on br.
func New(br browser.Browser, prof Profile, pol Policy, log *zap.Logger, opts ...Option) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if prof.Matcher == nil {
		prof.Matcher = matcher.New("")
	}
	if prof.Filter == nil {
		prof.Filter = browser.AdFilter
	}
	m := prof.Matcher
	prof.Filter = prof.Filter.Except(func(u string) bool {
		_, ok := m.Match(u)
		return ok
	})
	if prof.TriggerRounds <= 0 {
		prof.TriggerRounds = 1
	}
	if prof.TriggerGap <= 0 {
		prof.TriggerGap = 250 * time.Millisecond
	}
	r := &Resolver{
		br:     br,
		prof:   prof,
		pol:    pol.normalized(),
		log:    log,
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hit is a single-assignment cell: the first matching address wins.
type hit struct {
	once sync.Once
	done chan struct{}
	url  string
}

func newHit() *hit { return &hit{done: make(chan struct{})} }

func (h *hit) set(u string) {
	h.once.Do(func() {
		h.url = u
		close(h.done)
	})
}

func (h *hit) get() (string, bool) {
	select {
	case <-h.done:
		return h.url, true
	default:
		return "", false
	}
}

// run tracks one Resolve call.
type run struct {
	c       catalog.Candidate
	target  string
	attempt int
	state   State
}

func (r *Resolver) move(rn *run, to State) {
	from := rn.state
	rn.state = to
	if r.observe != nil {
		r.observe(Transition{Candidate: rn.c.ID, Target: rn.target, Attempt: rn.attempt, From: from, To: to})
	}
}

// Resolve tries every navigation target of c in order, making at most MaxRetries attempts on each.
// Per-attempt failures never escape: the outcome is Resolved or Exhausted.
func (r *Resolver) Resolve(ctx context.Context, c catalog.Candidate) catalog.Outcome {
	out := catalog.Outcome{CandidateID: c.ID, Status: catalog.StatusExhausted}
	log := r.log.With(zap.String("candidate", c.Name))
	strategies := r.prof.Strategies
	if c.Click != nil {
		strategies = append([]Strategy{ClickElement(c.Click.Selector, c.Click.Index)}, strategies...)
	}
	for _, target := range c.Targets {
		if target == "" {
			continue
		}
		rn := &run{c: c, target: target}
		addr, via, err := r.resolveTarget(ctx, rn, strategies, log)
		out.Attempts = rn.attempt
		out.TotalAttempts += rn.attempt
		if err == nil {
			out.Status = catalog.StatusResolved
			out.Address = catalog.StreamAddress{URL: addr, Headers: r.prof.Playback}
			out.Target = target
			out.ViaFallback = via
			out.Err = nil
			return out
		}
		out.Err = err
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		log.Debug("target exhausted", zap.String("target", target), zap.Int("attempts", rn.attempt), zap.Error(err))
	}
	if out.Err == nil {
		out.Err = ErrNoTargets
	}
	return out
}

// resolveTarget runs the Navigating → WindowOpen → {Matched | WindowTimedOut} → (Reload | GiveUp) loop on one target.
// The page is reused for one reload, replaced after two consecutive window timeouts, and discarded
// after an unexpected error or when the target is done.
func (r *Resolver) resolveTarget(ctx context.Context, rn *run, strategies []Strategy, log *zap.Logger) (string, bool, error) {
	var (
		pg       browser.Page
		lastErr  error
		timeouts int // consecutive window timeouts on pg
	)
	defer func() {
		if pg != nil {
			pg.Close()
		}
	}()
	for rn.attempt < r.pol.MaxRetries {
		rn.attempt++
		navTimeout := r.pol.NavTimeout
		if rn.state == Reload {
			navTimeout = r.pol.ReloadTimeout
		}
		if pg == nil {
			p, err := r.openPage(ctx)
			if err != nil {
				lastErr = err
				if r.afterError(ctx, rn, log, err) != nil {
					break
				}
				continue
			}
			pg = p
		}
		addr, via, err := r.attemptOnce(ctx, pg, rn, navTimeout, strategies, log)
		if err == nil {
			r.move(rn, Matched)
			return addr, via, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errWindow) {
			r.move(rn, WindowTimedOut)
			log.Info("attempt timed out", zap.String("target", rn.target), zap.Int("attempt", rn.attempt), zap.Error(err))
			if rn.attempt < r.pol.MaxRetries {
				// Page and iframe state after a failed click is unreliable: start over from navigation.
				r.move(rn, Reload)
				if timeouts++; timeouts >= 2 {
					pg.Close()
					pg, timeouts = nil, 0
				}
			}
			continue
		}
		pg.Close()
		pg, timeouts = nil, 0
		if r.afterError(ctx, rn, log, err) != nil {
			break
		}
	}
	r.move(rn, GiveUp)
	if lastErr == nil {
		lastErr = errWindow
	}
	return "", false, fmt.Errorf("%s: %d attempts: %w", rn.target, rn.attempt, lastErr)
}

// afterError logs an unexpected automation error and waits a jittered backoff before the next attempt.
func (r *Resolver) afterError(ctx context.Context, rn *run, log *zap.Logger, err error) error {
	r.move(rn, WindowTimedOut)
	d := r.pol.BackoffMin + time.Duration(r.jitter()*float64(r.pol.BackoffMax-r.pol.BackoffMin))
	log.Warn("attempt failed", zap.String("target", rn.target), zap.Int("attempt", rn.attempt), zap.Duration("backoff", d), zap.Error(err))
	if rn.attempt >= r.pol.MaxRetries {
		return nil
	}
	return r.sleep(ctx, d)
}

func (r *Resolver) openPage(ctx context.Context) (browser.Page, error) {
	p, err := r.br.NewPage(ctx, r.prof.Page)
	if err != nil {
		return nil, err
	}
	if err := p.InstallRouteFilter(ctx, r.prof.Filter); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// attemptOnce is one pass of the protocol on an already-open page.
// Returns errWindow (wrapped) for an attempt that simply saw no match; anything else is unexpected.
func (r *Resolver) attemptOnce(ctx context.Context, pg browser.Page, rn *run, navTimeout time.Duration, strategies []Strategy, log *zap.Logger) (string, bool, error) {
	h := newHit()
	m := r.prof.Matcher
	stop := pg.OnRequest(func(u string) {
		if addr, ok := m.Match(u); ok {
			h.set(addr)
		}
	})
	defer stop()

	r.move(rn, Navigating)
	if err := pg.Navigate(ctx, rn.target, navTimeout); err != nil {
		// Some players request the stream while the document is still loading.
		if addr, ok := h.get(); ok {
			return addr, false, nil
		}
		if expected(err) {
			return "", false, fmt.Errorf("%w: %v", errWindow, err)
		}
		return "", false, err
	}
	if r.prof.Marker != "" {
		if err := pg.WaitFor(ctx, r.prof.Marker, r.pol.MarkerTimeout); err != nil {
			if addr, ok := h.get(); ok {
				return addr, false, nil
			}
			if expected(err) {
				return "", false, fmt.Errorf("%w: marker %s: %v", errWindow, r.prof.Marker, err)
			}
			return "", false, err
		}
	}

	r.move(rn, WindowOpen)
	if addr, ok := h.get(); ok {
		return addr, false, nil
	}
	wctx, cancel := context.WithCancel(ctx)
	triggered := make(chan struct{})
	go func() {
		defer close(triggered)
		r.trigger(wctx, pg, h, strategies, log)
	}()
	timer := time.NewTimer(r.pol.WindowTimeout)
	select {
	case <-h.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	timer.Stop()
	cancel()
	<-triggered
	if addr, ok := h.get(); ok {
		return addr, false, nil
	}
	if ctx.Err() != nil {
		return "", false, ctx.Err()
	}

	// Fallback: the address may already sit in the page source.
	html, err := pg.Content(ctx)
	if err != nil {
		log.Debug("content fallback failed", zap.Error(err))
		return "", false, fmt.Errorf("%w: after %v", errWindow, r.pol.WindowTimeout)
	}
	if addr, ok := m.Scan(html); ok {
		log.Debug("matched in page content", zap.String("url", addr))
		return addr, true, nil
	}
	return "", false, fmt.Errorf("%w: after %v", errWindow, r.pol.WindowTimeout)
}

// trigger runs the strategies, stopping at the first that succeeds. Errors are swallowed.
func (r *Resolver) trigger(ctx context.Context, pg browser.Page, h *hit, strategies []Strategy, log *zap.Logger) {
	for round := 0; round < r.prof.TriggerRounds; round++ {
		if round > 0 {
			if sleepCtx(ctx, r.prof.TriggerGap) != nil {
				return
			}
		}
		for _, s := range strategies {
			if _, ok := h.get(); ok || ctx.Err() != nil {
				return
			}
			if err := s.Run(ctx, pg, r.pol.ClickTimeout); err != nil {
				log.Debug("trigger failed", zap.String("strategy", s.Name), zap.Error(err))
				continue
			}
			break
		}
		if _, ok := h.get(); ok {
			return
		}
	}
}

// expected reports whether err is a normal per-attempt failure rather than a broken page.
func expected(err error) bool {
	return errors.Is(err, browser.ErrNavigation) ||
		errors.Is(err, browser.ErrWaitTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
