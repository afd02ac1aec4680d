// Package sources discovers candidates on the supported sites and carries each site's resolution profile.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/validate"
)

// ErrDiscovery is matched by every *DiscoveryError.
var ErrDiscovery = errors.New("candidate discovery failed")

var errNoCandidates = errors.New("no candidates on page")

// DiscoveryError reports that a candidate source (a mirror, an API endpoint, a section) was unavailable.
type DiscoveryError struct {
	Source string
	Err    error
}

func (e *DiscoveryError) Error() string { return fmt.Sprintf("discover %s: %v", e.Source, e.Err) }

func (e *DiscoveryError) Unwrap() error { return e.Err }

func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscovery }

// Mode is how a site's results reach its playlist.
type Mode int

const (
	Rebuild Mode = iota // replace the whole document
	Merge               // section-scoped merge into the existing document
)

// Site is everything the engine needs to run one site.
type Site struct {
	Name   string
	Output string   // playlist file name
	Mode   Mode
	EPGURL string   // url-tvg header attribute; "" = none
	Group  string   // fallback group-title
	Home   []string // pages a preflight check probes for reachability

	// Merge mode only.
	Sections   []string          // refreshable group titles
	LowQuality func(string) bool // existing entries to drop
	// PositionalUpdates hands updates whose name matches no entry to unclaimed entries in document order.
	PositionalUpdates bool

	Profile resolver.Profile
	Tune    func(*resolver.Policy) // site-specific timeouts on top of the configured policy
	Rules   []validate.Rule
	// LogoFallback, when set, makes the engine probe candidate logos and substitute
	// LogoFallback(category) for unreachable ones.
	LogoFallback func(category string) string

	Discover func(ctx context.Context) ([]catalog.Candidate, error)
}

// Deps are shared by all site constructors.
type Deps struct {
	Fetcher  Fetcher      // listing pages
	Client   *http.Client // JSON APIs
	Channels *catalog.ChannelMap
	EPGURL   string // url-tvg for sites that reference the shared guide; "" = built-in default
	Log      *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// mirrorPause separates attempts on successive mirrors.
var mirrorPause = 5 * time.Second

// FirstSuccessful tries mirrors in order and returns the candidates of the first that yields any.
// A mirror that loads but lists nothing counts as failed.
func FirstSuccessful(ctx context.Context, log *zap.Logger, name string, mirrors []string,
	discover func(ctx context.Context, mirror string) ([]catalog.Candidate, error)) ([]catalog.Candidate, error) {
	var errs []error
	for i, m := range mirrors {
		if i > 0 {
			t := time.NewTimer(mirrorPause)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil, &DiscoveryError{Source: name, Err: ctx.Err()}
			}
		}
		cands, err := discover(ctx, m)
		if err == nil && len(cands) == 0 {
			err = errNoCandidates
		}
		if err == nil {
			log.Info("mirror loaded", zap.String("mirror", m), zap.Int("candidates", len(cands)))
			return cands, nil
		}
		log.Warn("mirror failed", zap.String("mirror", m), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", m, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no mirrors configured"))
	}
	return nil, &DiscoveryError{Source: name, Err: errors.Join(errs...)}
}

// Builtin returns the supported sites in the order "all" runs them.
func Builtin(d Deps) []*Site {
	return []*Site{
		FSTV(d),
		TheTVApp(d, ""),
		Streamed(d, StreamedOptions{}),
		StreamEast(d, ""),
	}
}
