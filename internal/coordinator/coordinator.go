// Package coordinator runs resolvers under a fixed concurrency bound and reports
// their outcomes in submission order.
package coordinator

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/snapetech/iptvresolve/internal/catalog"
)

// ResolveFunc resolves one candidate. It runs while holding a slot.
type ResolveFunc func(ctx context.Context, c catalog.Candidate) catalog.Outcome

// EmitFunc receives outcomes strictly in submission order, on the goroutine that called Run.
type EmitFunc func(i int, c catalog.Candidate, o catalog.Outcome)

// Coordinator admits at most N resolvers at once.
type Coordinator struct {
	n        int64
	log      *zap.Logger
	inFlight atomic.Int64
	peak     atomic.Int64
}

// New returns a Coordinator with bound n (minimum 1).
func New(n int, log *zap.Logger) *Coordinator {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{n: int64(n), log: log}
}

// Bound is the configured concurrency limit.
func (c *Coordinator) Bound() int { return int(c.n) }

// Peak is the highest number of resolvers observed running at once.
func (c *Coordinator) Peak() int { return int(c.peak.Load()) }

// Run resolves every candidate and calls emit for each in order, returning when all are emitted.
// Up to the bound may resolve concurrently; a slow early candidate delays output, not work.
// Candidates not yet admitted when ctx ends are emitted as Exhausted with ctx's error.
func (c *Coordinator) Run(ctx context.Context, cands []catalog.Candidate, resolve ResolveFunc, emit EmitFunc) {
	sem := semaphore.NewWeighted(c.n)
	results := make([]chan catalog.Outcome, len(cands))
	for i := range results {
		results[i] = make(chan catalog.Outcome, 1)
	}

	// Admission happens in submission order so earlier candidates never starve behind later ones.
	go func() {
		for i, cand := range cands {
			if err := sem.Acquire(ctx, 1); err != nil {
				for j := i; j < len(cands); j++ {
					results[j] <- catalog.Outcome{CandidateID: cands[j].ID, Status: catalog.StatusExhausted, Err: err}
				}
				return
			}
			go func(i int, cand catalog.Candidate) {
				defer sem.Release(1)
				results[i] <- c.guard(ctx, cand, resolve)
			}(i, cand)
		}
	}()

	for i, cand := range cands {
		emit(i, cand, <-results[i])
	}
}

// guard runs resolve with in-flight accounting and turns a panic into an Exhausted outcome.
func (c *Coordinator) guard(ctx context.Context, cand catalog.Candidate, resolve ResolveFunc) (out catalog.Outcome) {
	cur := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		p := c.peak.Load()
		if cur <= p || c.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("resolver panicked", zap.String("candidate", cand.Name), zap.Any("panic", r))
			out = catalog.Outcome{CandidateID: cand.ID, Status: catalog.StatusExhausted, Err: fmt.Errorf("resolver panic: %v", r)}
		}
	}()
	return resolve(ctx, cand)
}
