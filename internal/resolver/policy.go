package resolver

import "time"

// Policy holds the numeric knobs of the resolve protocol.
type Policy struct {
	MaxRetries    int           // attempts per navigation target
	NavTimeout    time.Duration // first navigation to a target
	ReloadTimeout time.Duration // re-navigation after a failed attempt
	MarkerTimeout time.Duration
	WindowTimeout time.Duration // wait for a matching request after triggering playback
	ClickTimeout  time.Duration // per interaction
	BackoffMin    time.Duration // jitter after an unexpected automation error
	BackoffMax    time.Duration
}

// DefaultPolicy returns the stock protocol settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		NavTimeout:    60 * time.Second,
		ReloadTimeout: 30 * time.Second,
		MarkerTimeout: 30 * time.Second,
		WindowTimeout: 12 * time.Second,
		ClickTimeout:  10 * time.Second,
		BackoffMin:    1 * time.Second,
		BackoffMax:    2 * time.Second,
	}
}

// normalized fills zero or invalid fields from DefaultPolicy.
func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.NavTimeout <= 0 {
		p.NavTimeout = d.NavTimeout
	}
	if p.ReloadTimeout <= 0 {
		p.ReloadTimeout = p.NavTimeout
	}
	if p.MarkerTimeout <= 0 {
		p.MarkerTimeout = d.MarkerTimeout
	}
	if p.WindowTimeout <= 0 {
		p.WindowTimeout = d.WindowTimeout
	}
	if p.ClickTimeout <= 0 {
		p.ClickTimeout = d.ClickTimeout
	}
	if p.BackoffMin < 0 {
		p.BackoffMin = 0
	}
	if p.BackoffMax < p.BackoffMin {
		p.BackoffMax = p.BackoffMin
	}
	return p
}

// Overlay returns p with every non-zero field of o copied over it.
func (p Policy) Overlay(o Policy) Policy {
	if o.MaxRetries > 0 {
		p.MaxRetries = o.MaxRetries
	}
	for _, f := range []struct{ dst, src *time.Duration }{
		{&p.NavTimeout, &o.NavTimeout},
		{&p.ReloadTimeout, &o.ReloadTimeout},
		{&p.MarkerTimeout, &o.MarkerTimeout},
		{&p.WindowTimeout, &o.WindowTimeout},
		{&p.ClickTimeout, &o.ClickTimeout},
		{&p.BackoffMin, &o.BackoffMin},
		{&p.BackoffMax, &o.BackoffMax},
	} {
		if *f.src > 0 {
			*f.dst = *f.src
		}
	}
	return p
}
