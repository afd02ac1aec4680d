package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	// fetchCommandTimeout bounds each continue/fail reply to a paused request.
	fetchCommandTimeout = 2 * time.Second
	// opTimeout bounds calls that take no timeout of their own.
	opTimeout = 10 * time.Second
)

type chromePage struct {
	ctx    context.Context // tab context; cancelling it closes the tab
	cancel context.CancelFunc
	log    *zap.Logger

	mu        sync.Mutex
	filter    Filter
	observers map[int]func(string)
	nextObs   int
	loaded    chan cdp.LoaderID
	closed    bool
}

func newChromePage(ctx context.Context, cancel context.CancelFunc, log *zap.Logger) *chromePage {
	p := &chromePage{
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
		observers: make(map[int]func(string)),
		loaded:    make(chan cdp.LoaderID, 16),
	}
	chromedp.ListenTarget(ctx, p.listen)
	return p
}

func (p *chromePage) setup(userAgent string, headers map[string]string) []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
		page.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if userAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(userAgent))
	}
	if len(headers) > 0 {
		h := make(network.Headers, len(headers))
		for k, v := range headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}
	return actions
}

// opCtx derives a context for one CDP operation from the tab context: bounded by timeout
// (opTimeout when <= 0) and cancelled along with ctx.
func (p *chromePage) opCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = opTimeout
	}
	octx, cancel := context.WithTimeout(p.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return octx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) listen(ev any) {
	switch e := ev.(type) {
	case *fetch.EventRequestPaused:
		go p.route(e)
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		p.mu.Lock()
		fns := make([]func(string), 0, len(p.observers))
		for _, fn := range p.observers {
			fns = append(fns, fn)
		}
		p.mu.Unlock()
		for _, fn := range fns {
			fn(e.Request.URL)
		}
	case *page.EventLifecycleEvent:
		if e.Name == "DOMContentLoaded" {
			select {
			case p.loaded <- e.LoaderID:
			default:
			}
		}
	}
}

// route answers one paused request. Every paused request must be answered or it hangs the page.
func (p *chromePage) route(e *fetch.EventRequestPaused) {
	ctx, cancel := context.WithTimeout(p.ctx, fetchCommandTimeout)
	defer cancel()
	exec := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)

	p.mu.Lock()
	f := p.filter
	p.mu.Unlock()

	req := Request{ResourceType: strings.ToLower(string(e.ResourceType))}
	if e.Request != nil {
		req.URL = e.Request.URL
	}
	if f != nil && f(req) {
		if err := fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(exec); err != nil {
			p.log.Debug("block request failed", zap.String("url", req.URL), zap.Error(err))
		}
		return
	}
	if err := fetch.ContinueRequest(e.RequestID).Do(exec); err != nil {
		p.log.Debug("continue request failed, aborting", zap.String("url", req.URL), zap.Error(err))
		fetch.FailRequest(e.RequestID, network.ErrorReasonAborted).Do(exec)
	}
}

func (p *chromePage) InstallRouteFilter(ctx context.Context, block Filter) error {
	p.mu.Lock()
	p.filter = block
	p.mu.Unlock()
	octx, done := p.opCtx(ctx, 0)
	defer done()
	if err := chromedp.Run(octx, fetch.Enable()); err != nil {
		return fmt.Errorf("route filter: %w", err)
	}
	return nil
}

func (p *chromePage) OnRequest(fn func(string)) func() {
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

func (p *chromePage) Navigate(ctx context.Context, rawURL string, timeout time.Duration) error {
	octx, done := p.opCtx(ctx, timeout)
	defer done()
	// Drop DOMContentLoaded events left over from earlier navigations.
	for len(p.loaded) > 0 {
		<-p.loaded
	}
	var loaderID cdp.LoaderID
	err := chromedp.Run(octx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, lid, errText, err := page.Navigate(rawURL).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return errors.New(errText)
		}
		loaderID = lid
		return nil
	}))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, rawURL, err)
	}
	// Same-document navigations report no loader and fire no DOMContentLoaded.
	if loaderID == "" {
		return nil
	}
	for {
		select {
		case id := <-p.loaded:
			if id == loaderID {
				return nil
			}
		case <-octx.Done():
			return fmt.Errorf("%w: %s: dom not ready after %v", ErrNavigation, rawURL, timeout)
		}
	}
}

func (p *chromePage) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	octx, done := p.opCtx(ctx, timeout)
	defer done()
	if err := chromedp.Run(octx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		if octx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
		}
		return fmt.Errorf("wait %s: %w", selector, err)
	}
	return nil
}

func (p *chromePage) nodes(ctx context.Context, selector string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	if err := chromedp.Run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (p *chromePage) Count(ctx context.Context, selector string) (int, error) {
	octx, done := p.opCtx(ctx, 0)
	defer done()
	nodes, err := p.nodes(octx, selector)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", selector, err)
	}
	return len(nodes), nil
}

func (p *chromePage) Click(ctx context.Context, selector string, index int, timeout time.Duration) error {
	octx, done := p.opCtx(ctx, timeout)
	defer done()
	nodes, err := p.nodes(octx, selector)
	if err != nil {
		return fmt.Errorf("%w: query %s: %v", ErrInteraction, selector, err)
	}
	if index < 0 || index >= len(nodes) {
		return fmt.Errorf("%w: %s[%d] (have %d)", ErrNoElement, selector, index, len(nodes))
	}
	n := nodes[index]
	if err := chromedp.Run(octx, chromedp.MouseClickNode(n)); err == nil {
		return nil
	}
	// Hidden or zero-size nodes can't take a mouse click; dispatch it from script instead.
	if err := chromedp.Run(octx, scriptClick(n)); err != nil {
		return fmt.Errorf("%w: click %s[%d]: %v", ErrInteraction, selector, index, err)
	}
	return nil
}

// scriptClick calls the node's click() from page script, resolving it by backend id.
func scriptClick(n *cdp.Node) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if n == nil {
			return errors.New("no node")
		}
		obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()
		_, exc, err := runtime.CallFunctionOn(`function() { this.click(); }`).WithObjectID(obj.ObjectID).Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		return nil
	}
}

func (p *chromePage) ClickAt(ctx context.Context, x, y float64) error {
	octx, done := p.opCtx(ctx, 0)
	defer done()
	if err := chromedp.Run(octx, chromedp.MouseClickXY(x, y)); err != nil {
		return fmt.Errorf("%w: click at %.0f,%.0f: %v", ErrInteraction, x, y, err)
	}
	return nil
}

func (p *chromePage) PressKey(ctx context.Context, key string) error {
	octx, done := p.opCtx(ctx, 0)
	defer done()
	if err := chromedp.Run(octx, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("%w: key %q: %v", ErrInteraction, key, err)
	}
	return nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	octx, done := p.opCtx(ctx, 0)
	defer done()
	var html string
	if err := chromedp.Run(octx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("content: %w", err)
	}
	return html, nil
}

func (p *chromePage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.observers = map[int]func(string){}
	p.mu.Unlock()
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
