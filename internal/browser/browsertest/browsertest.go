// Package browsertest provides a scripted in-memory browser.Browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snapetech/iptvresolve/internal/browser"
)

// Visit scripts what a page does for one navigation.
type Visit struct {
	NavErr    error          // returned by Navigate
	OnNav     []string       // request URLs observed while navigating
	OnTrigger []string       // request URLs observed after a successful interaction
	ClickErr  error          // returned by every interaction
	NoMarker  bool           // WaitFor times out
	Content   string         // returned by Content
	Elements  map[string]int // selector → element count; nil = every selector matches
	Panic     bool           // interactions panic
}

// Script returns the Visit for the n-th navigation (1-based) to target.
type Script func(target string, n int) Visit

// Browser counts pages and navigations. Safe for concurrent use.
type Browser struct {
	Script     Script
	NavDelay   time.Duration // simulated navigation latency
	NewPageErr error

	mu          sync.Mutex
	visits      map[string]int
	open, peak  int
	opened      int
	navigations []string
}

// New returns a Browser driven by script.
func New(script Script) *Browser {
	return &Browser{Script: script, visits: make(map[string]int)}
}

func (b *Browser) NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open++
	b.opened++
	if b.open > b.peak {
		b.peak = b.open
	}
	return &Page{b: b, Options: opts, observers: make(map[int]func(string))}, nil
}

func (b *Browser) Close() error { return nil }

// Open returns the number of pages currently open.
func (b *Browser) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Peak returns the most pages ever open at once.
func (b *Browser) Peak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

// Opened returns how many pages were ever opened.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opened
}

// Navigations returns every navigated URL in order.
func (b *Browser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.navigations...)
}

// Visits returns how many times target was navigated to.
func (b *Browser) Visits(target string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visits[target]
}

// Page is a scripted browser.Page.
type Page struct {
	b       *Browser
	Options browser.PageOptions

	mu        sync.Mutex
	visit     Visit
	observers map[int]func(string)
	nextObs   int
	filter    browser.Filter
	closed    bool
}

func (p *Page) emit(urls []string) {
	p.mu.Lock()
	fns := make([]func(string), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, u := range urls {
		for _, fn := range fns {
			fn(u)
		}
	}
}

func (p *Page) current() Visit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visit
}

func (p *Page) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	p.b.mu.Lock()
	if p.b.visits == nil {
		p.b.visits = make(map[string]int)
	}
	p.b.visits[rawURL]++
	n := p.b.visits[rawURL]
	p.b.navigations = append(p.b.navigations, rawURL)
	delay := p.b.NavDelay
	p.b.mu.Unlock()

	v := Visit{}
	if p.b.Script != nil {
		v = p.b.Script(rawURL, n)
	}
	p.mu.Lock()
	p.visit = v
	p.mu.Unlock()
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", browser.ErrNavigation, ctx.Err())
		}
	}
	p.emit(v.OnNav)
	return v.NavErr
}

func (p *Page) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if p.current().NoMarker {
		return fmt.Errorf("%w: %s", browser.ErrWaitTimeout, selector)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	v := p.current()
	if v.Elements == nil {
		return 1, nil
	}
	return v.Elements[selector], nil
}

func (p *Page) interact() error {
	v := p.current()
	if v.Panic {
		panic("scripted interaction panic")
	}
	if v.ClickErr != nil {
		return v.ClickErr
	}
	p.emit(v.OnTrigger)
	return nil
}

func (p *Page) Click(ctx context.Context, selector string, index int, timeout time.Duration) error {
	if els := p.current().Elements; els != nil && index >= els[selector] {
		return fmt.Errorf("%w: %s[%d]", browser.ErrNoElement, selector, index)
	}
	return p.interact()
}

func (p *Page) ClickAt(ctx context.Context, x, y float64) error { return p.interact() }

func (p *Page) PressKey(ctx context.Context, key string) error { return p.interact() }

func (p *Page) InstallRouteFilter(ctx context.Context, block browser.Filter) error {
	p.mu.Lock()
	p.filter = block
	p.mu.Unlock()
	return nil
}

// Filter returns the installed route filter.
func (p *Page) Filter() browser.Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

func (p *Page) OnRequest(fn func(string)) func() {
	p.mu.Lock()
	id := p.nextObs
	p.nextObs++
	p.observers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Page) Content(ctx context.Context) (string, error) { return p.current().Content, nil }

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	p.b.mu.Lock()
	p.b.open--
	p.b.mu.Unlock()
	return nil
}
