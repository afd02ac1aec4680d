package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snapetech/iptvresolve/internal/browser/browsertest"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/resolver"
)

func candidates(n int) []catalog.Candidate {
	out := make([]catalog.Candidate, n)
	for i := range out {
		out[i] = catalog.Candidate{ID: fmt.Sprint(i), Name: fmt.Sprintf("ch%d", i), Targets: []string{fmt.Sprintf("https://s.example/%d", i)}}
	}
	return out
}

func TestRun_boundAndOrder(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		c := New(n, nil)
		var active, over atomic.Int64
		resolve := func(ctx context.Context, cand catalog.Candidate) catalog.Outcome {
			if cur := active.Add(1); cur > int64(n) {
				over.Add(1)
			}
			defer active.Add(-1)
			time.Sleep(time.Duration(rand.IntN(4)) * time.Millisecond)
			return catalog.Outcome{CandidateID: cand.ID, Status: catalog.StatusResolved}
		}
		var order []string
		c.Run(context.Background(), candidates(20), resolve, func(i int, cand catalog.Candidate, o catalog.Outcome) {
			if o.CandidateID != cand.ID {
				t.Errorf("n=%d: outcome %s emitted for candidate %s", n, o.CandidateID, cand.ID)
			}
			order = append(order, cand.ID)
		})
		if over.Load() != 0 || c.Peak() > n {
			t.Errorf("n=%d: bound exceeded (peak %d)", n, c.Peak())
		}
		for i, id := range order {
			if id != fmt.Sprint(i) {
				t.Fatalf("n=%d: emit order %v", n, order)
			}
		}
		if len(order) != 20 {
			t.Errorf("n=%d: emitted %d", n, len(order))
		}
	}
}

func TestRun_slowFirstDoesNotBlockWork(t *testing.T) {
	c := New(3, nil)
	release := make(chan struct{})
	var started atomic.Int64
	resolve := func(ctx context.Context, cand catalog.Candidate) catalog.Outcome {
		started.Add(1)
		if cand.ID == "0" {
			<-release
		}
		return catalog.Outcome{CandidateID: cand.ID}
	}
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for started.Load() < 5 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		close(release)
	}()
	var got []string
	c.Run(context.Background(), candidates(5), resolve, func(i int, cand catalog.Candidate, o catalog.Outcome) {
		got = append(got, o.CandidateID)
	})
	if started.Load() != 5 || strings.Join(got, ",") != "0,1,2,3,4" {
		t.Errorf("started=%d order=%v", started.Load(), got)
	}
}

func TestRun_panicBecomesExhausted(t *testing.T) {
	c := New(2, nil)
	resolve := func(ctx context.Context, cand catalog.Candidate) catalog.Outcome {
		if cand.ID == "1" {
			panic("boom")
		}
		return catalog.Outcome{CandidateID: cand.ID, Status: catalog.StatusResolved}
	}
	var outs []catalog.Outcome
	c.Run(context.Background(), candidates(3), resolve, func(i int, cand catalog.Candidate, o catalog.Outcome) {
		outs = append(outs, o)
	})
	if len(outs) != 3 || outs[1].Status != catalog.StatusExhausted || outs[1].Err == nil {
		t.Fatalf("outcomes = %+v", outs)
	}
	if outs[2].Status != catalog.StatusResolved {
		t.Error("run did not continue after panic")
	}
}

func TestRun_cancelledBeforeAdmission(t *testing.T) {
	c := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	resolve := func(ctx context.Context, cand catalog.Candidate) catalog.Outcome {
		cancel()
		<-ctx.Done()
		return catalog.Outcome{CandidateID: cand.ID, Status: catalog.StatusExhausted, Err: ctx.Err()}
	}
	n := 0
	c.Run(ctx, candidates(4), resolve, func(i int, cand catalog.Candidate, o catalog.Outcome) {
		n++
		if o.Status != catalog.StatusExhausted || o.Err == nil {
			t.Errorf("candidate %d: %+v", i, o)
		}
	})
	if n != 4 {
		t.Errorf("emitted %d, want 4", n)
	}
}

// Pages held by resolvers never exceed the bound.
func TestRun_pageBoundWithResolver(t *testing.T) {
	b := browsertest.New(func(target string, n int) browsertest.Visit {
		return browsertest.Visit{OnTrigger: []string{target + "/index.m3u8"}}
	})
	b.NavDelay = 2 * time.Millisecond
	r := resolver.New(b, resolver.Profile{Strategies: []resolver.Strategy{resolver.ClickBody()}},
		resolver.Policy{WindowTimeout: 50 * time.Millisecond}, nil)
	c := New(2, nil)
	resolved := 0
	c.Run(context.Background(), candidates(12), r.Resolve, func(i int, cand catalog.Candidate, o catalog.Outcome) {
		if o.Resolved() {
			resolved++
		}
	})
	if resolved != 12 {
		t.Errorf("resolved %d of 12", resolved)
	}
	if b.Peak() > 2 {
		t.Errorf("peak open pages = %d, bound 2", b.Peak())
	}
	if b.Open() != 0 {
		t.Errorf("%d pages left open", b.Open())
	}
}
