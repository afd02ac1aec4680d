package browser

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
)

// Options configure the shared Chrome process.
type Options struct {
	Headless        bool
	ExecPath        string // "" = search PATH
	UserAgent       string // default for pages that don't set their own
	IsolateContexts bool   // open every page in a fresh browser context
	WindowWidth     int
	WindowHeight    int
}

// Chrome is a Browser backed by one Chrome process over the DevTools protocol.
type Chrome struct {
	opts          Options
	log           *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	popups        atomic.Int64
}

// allocatorOptions builds the exec allocator flags: quiet, sandbox-less, automation markers hidden.
func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	w, h := o.WindowWidth, o.WindowHeight
	if w <= 0 || h <= 0 {
		w, h = defaultWindowWidth, defaultWindowHeight
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(w, h),
	)
	if o.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	if o.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.UserAgent))
	}
	return opts
}

// Launch starts Chrome and begins auto-closing popups. The process lives until Close or ctx ends.
func Launch(ctx context.Context, opts Options, log *zap.Logger) (*Chrome, error) {
	if log == nil {
		log = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(log.Sugar().Debugf),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	c := &Chrome{
		opts:          opts,
		log:           log,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}
	if err := c.watchPopups(); err != nil {
		c.Close()
		return nil, err
	}
	log.Info("chrome started", zap.Bool("headless", opts.Headless), zap.Bool("isolate_contexts", opts.IsolateContexts))
	return c, nil
}

// watchPopups closes every page target opened by another page (window.open, target=_blank ads).
func (c *Chrome) watchPopups() error {
	bctx := cdp.WithExecutor(c.browserCtx, chromedp.FromContext(c.browserCtx).Browser)
	if err := target.SetDiscoverTargets(true).Do(bctx); err != nil {
		return fmt.Errorf("discover targets: %w", err)
	}
	chromedp.ListenBrowser(c.browserCtx, func(ev any) {
		e, ok := ev.(*target.EventTargetCreated)
		if !ok || e.TargetInfo == nil || e.TargetInfo.Type != "page" || e.TargetInfo.OpenerID == "" {
			return
		}
		id, u := e.TargetInfo.TargetID, e.TargetInfo.URL
		// Listener callbacks must not block on CDP round-trips.
		go func() {
			if err := target.CloseTarget(id).Do(bctx); err != nil {
				c.log.Debug("popup close failed", zap.String("url", u), zap.Error(err))
				return
			}
			c.popups.Add(1)
			c.log.Debug("popup closed", zap.String("url", u))
		}()
	})
	return nil
}

// PopupsClosed returns how many popups have been dismissed so far.
func (c *Chrome) PopupsClosed() int64 { return c.popups.Load() }

// NewPage opens a tab (in its own browser context when IsolateContexts is set).
// ctx bounds only the setup; the page lives until Close.
func (c *Chrome) NewPage(ctx context.Context, po PageOptions) (Page, error) {
	var copts []chromedp.ContextOption
	if c.opts.IsolateContexts {
		copts = append(copts, chromedp.WithNewBrowserContext())
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx, copts...)
	p := newChromePage(tabCtx, cancel, c.log)
	ua := po.UserAgent
	if ua == "" {
		ua = c.opts.UserAgent
	}
	setupCtx, done := p.opCtx(ctx, 0)
	defer done()
	if err := chromedp.Run(setupCtx, p.setup(ua, po.Headers)...); err != nil {
		cancel()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return p, nil
}

// Close shuts down the browser process.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.browserCtx)
	c.browserCancel()
	c.allocCancel()
	return err
}
