package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/snapetech/iptvresolve/internal/browser"
)

// Strategy is one way of getting a page's player to start. Errors are reported but never fatal.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, p browser.Page, clickTimeout time.Duration) error
}

// PlayButtonSelectors are tried in order by ClickSelectors when a site has no better hint.
var PlayButtonSelectors = []string{
	"div.jw-icon-display[role='button']",
	".jw-icon-playback",
	".vjs-big-play-button",
	".plyr__control",
	"div[class*='play']",
	"div[role='button']",
	"button",
	"canvas",
}

// ClickSelectors clicks the first element of the first selector present on the page.
func ClickSelectors(selectors ...string) Strategy {
	return Strategy{
		Name: "click-selectors",
		Run: func(ctx context.Context, p browser.Page, timeout time.Duration) error {
			for _, sel := range selectors {
				n, err := p.Count(ctx, sel)
				if err != nil || n == 0 {
					continue
				}
				if err := p.Click(ctx, sel, 0, timeout); err == nil {
					return nil
				}
			}
			return fmt.Errorf("%w: none of %d play selectors clickable", browser.ErrNoElement, len(selectors))
		},
	}
}

// ClickElement clicks the index-th element matching selector.
func ClickElement(selector string, index int) Strategy {
	return Strategy{
		Name: fmt.Sprintf("click %s[%d]", selector, index),
		Run: func(ctx context.Context, p browser.Page, timeout time.Duration) error {
			return p.Click(ctx, selector, index, timeout)
		},
	}
}

// ClickBody clicks into the document body.
func ClickBody() Strategy {
	return ClickElement("body", 0)
}

// PressKey sends key to the focused element (" " toggles most players).
func PressKey(key string) Strategy {
	return Strategy{
		Name: fmt.Sprintf("key %q", key),
		Run: func(ctx context.Context, p browser.Page, _ time.Duration) error {
			return p.PressKey(ctx, key)
		},
	}
}

// ClickAt clicks viewport coordinates, for players drawn without a clickable DOM node.
func ClickAt(x, y float64) Strategy {
	return Strategy{
		Name: fmt.Sprintf("click at %.0f,%.0f", x, y),
		Run: func(ctx context.Context, p browser.Page, _ time.Duration) error {
			return p.ClickAt(ctx, x, y)
		},
	}
}

// Sequence runs every step in order. It fails only when every step failed.
func Sequence(name string, steps ...Strategy) Strategy {
	return Strategy{
		Name: name,
		Run: func(ctx context.Context, p browser.Page, timeout time.Duration) error {
			var errs []error
			for _, s := range steps {
				if err := s.Run(ctx, p, timeout); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
				}
			}
			if len(errs) == len(steps) && len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		},
	}
}
