package httpclient

import (
	"context"
	"net/url"
	"sync"
)

// HostSemaphore is a process-global per-host concurrency limiter.
// Discovery fetches and logo probes share it so that a run over hundreds of
// candidates never opens more than the cap against one upstream.
//
//	release := GlobalHostSem.Acquire(rawURL)
//	defer release()
type HostSemaphore struct {
	mu    sync.Mutex
	sems  map[string]chan struct{}
	limit int
}

// GlobalHostSem is the shared per-host limiter. Default cap: 4 concurrent
// requests per host across the entire process.
var GlobalHostSem = NewHostSemaphore(4)

func NewHostSemaphore(concurrency int) *HostSemaphore {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HostSemaphore{
		sems:  make(map[string]chan struct{}),
		limit: concurrency,
	}
}

// Acquire blocks until a slot is available for the host of rawURL and returns a release func.
func (h *HostSemaphore) Acquire(rawURL string) func() {
	sem := h.semFor(rawURL)
	sem <- struct{}{}
	return func() { <-sem }
}

// AcquireContext is Acquire bounded by ctx. The release func is nil when ctx ends first.
func (h *HostSemaphore) AcquireContext(ctx context.Context, rawURL string) (func(), error) {
	sem := h.semFor(rawURL)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *HostSemaphore) semFor(rawURL string) chan struct{} {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Scheme + "://" + u.Host
	}
	h.mu.Lock()
	s, ok := h.sems[host]
	if !ok {
		s = make(chan struct{}, h.limit)
		h.sems[host] = s
	}
	h.mu.Unlock()
	return s
}
