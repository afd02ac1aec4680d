// Package browser is the automation surface the resolver drives: isolated pages with
// navigation, element interaction, request routing and request observation.
package browser

import (
	"context"
	"errors"
	"time"
)

// Per-attempt failures. Resolvers treat all of them as a failed attempt.
var (
	ErrNavigation  = errors.New("navigation failed")
	ErrInteraction = errors.New("interaction failed")
	ErrWaitTimeout = errors.New("wait timed out")
	ErrNoElement   = errors.New("no matching element")
)

// Browser is one shared browser process handing out independent pages.
type Browser interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close() error
}

// PageOptions are applied when a page is opened.
type PageOptions struct {
	UserAgent string
	Headers   map[string]string // sent with every request the page makes
}

// Page is owned by exactly one resolver for its lifetime.
// Every blocking call is bounded by its timeout argument or by ctx, whichever ends first.
type Page interface {
	// Navigate loads rawURL and returns once the document's structure is ready (not full load).
	Navigate(ctx context.Context, rawURL string, timeout time.Duration) error
	// WaitFor blocks until an element matching selector is present.
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	// Count returns how many elements currently match selector. Does not wait.
	Count(ctx context.Context, selector string) (int, error)
	// Click clicks the index-th element matching selector.
	Click(ctx context.Context, selector string, index int, timeout time.Duration) error
	ClickAt(ctx context.Context, x, y float64) error
	PressKey(ctx context.Context, key string) error
	// InstallRouteFilter aborts every request for which block returns true.
	InstallRouteFilter(ctx context.Context, block Filter) error
	// OnRequest calls fn with the URL of every outbound request until the returned func is called.
	OnRequest(fn func(url string)) (cancel func())
	// Content returns the serialized DOM.
	Content(ctx context.Context) (string, error)
	Close() error
}
