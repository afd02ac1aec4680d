package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/httpclient"
	"github.com/snapetech/iptvresolve/internal/matcher"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/validate"
)

const (
	StreamedAPIBase    = "https://streami.su"
	StreamedImagesBase = "https://streamed.pk"

	streamedGroupPrefix = "StreamedSU - "
	streamedEmbedOrigin = "https://embedsports.top"
	streamedLookups     = 4
)

var streamedEndpoints = []string{"all", "live", "today", "upcoming"}

var streamedTVGIDs = map[string]string{
	"Baseball":          "MLB.Baseball.Dummy.us",
	"Fight":             "PPV.EVENTS.Dummy.us",
	"American Football": "NFL.Dummy.us",
	"Afl":               "AUS.Rules.Football.Dummy.us",
	"Football":          "Soccer.Dummy.us",
	"Basketball":        "Basketball.Dummy.us",
	"Hockey":            "NHL.Hockey.Dummy.us",
	"Tennis":            "Tennis.Dummy.us",
	"Darts":             "Darts.Dummy.us",
	"Motor Sports":      "Racing.Dummy.us",
}

// keyed by lowercase category with dashes as spaces
var streamedFallbackLogos = map[string]string{
	"american football": "http://drewlive24.duckdns.org:9000/Logos/Am-Football2.png",
	"football":          "https://external-content.duckduckgo.com/iu/?u=https://i.imgur.com/RvN0XSF.png",
	"fight":             "http://drewlive24.duckdns.org:9000/Logos/Combat-Sports.png",
	"basketball":        "http://drewlive24.duckdns.org:9000/Logos/Basketball5.png",
	"motor sports":      "http://drewlive24.duckdns.org:9000/Logos/Motorsports3.png",
	"darts":             "http://drewlive24.duckdns.org:9000/Logos/Darts.png",
}

type streamedMatch struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Category string           `json:"category"`
	Poster   string           `json:"poster"`
	Teams    *streamedTeams   `json:"teams"`
	Sources  []streamedSource `json:"sources"`
}

type streamedTeams struct {
	Home *streamedTeam `json:"home"`
	Away *streamedTeam `json:"away"`
}

type streamedTeam struct {
	Name  string `json:"name"`
	Badge string `json:"badge"`
}

type streamedSource struct {
	Source string `json:"source"`
	ID     string `json:"id"`
}

type streamedStream struct {
	EmbedURL string `json:"embedUrl"`
}

// StreamedOptions override the API hosts (tests).
type StreamedOptions struct {
	APIBase, ImagesBase string
}

// Streamed lists matches from the site's JSON API; each source's embed pages are the navigation targets.
func Streamed(d Deps, o StreamedOptions) *Site {
	if o.APIBase == "" {
		o.APIBase = StreamedAPIBase
	}
	if o.ImagesBase == "" {
		o.ImagesBase = StreamedImagesBase
	}
	o.APIBase = strings.TrimRight(o.APIBase, "/")
	o.ImagesBase = strings.TrimRight(o.ImagesBase, "/")
	playback := catalog.Headers{
		Origin:    streamedEmbedOrigin,
		Referer:   streamedEmbedOrigin + "/",
		UserAgent: httpclient.DefaultUserAgent,
	}
	log := d.logger().Named("streamed")
	return &Site{
		Name:   "streamed",
		Output: "StreamedSU.m3u8",
		Mode:   Rebuild,
		Group:  streamedGroupPrefix + "General",
		Home:   []string{o.APIBase + "/api/matches/live"},
		Profile: resolver.Profile{
			Matcher:       matcher.New(".m3u8"),
			Strategies:    []resolver.Strategy{resolver.ClickSelectors(resolver.PlayButtonSelectors...)},
			TriggerRounds: 3,
			TriggerGap:    250 * time.Millisecond,
			Page: browser.PageOptions{
				UserAgent: playback.UserAgent,
				Headers:   map[string]string{"Origin": playback.Origin, "Referer": playback.Referer},
			},
			Playback: playback,
		},
		Tune: func(p *resolver.Policy) {
			p.NavTimeout = 20 * time.Second
			p.ReloadTimeout = 20 * time.Second
			p.ClickTimeout = 500 * time.Millisecond
		},
		Rules:        []validate.Rule{validate.HTTPOnly()},
		LogoFallback: streamedFallbackLogo,
		Discover: func(ctx context.Context) ([]catalog.Candidate, error) {
			return discoverStreamed(ctx, d, o, log)
		},
	}
}

func streamedFallbackLogo(category string) string {
	k := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(category), "-", " "))
	return streamedFallbackLogos[k]
}

// streamedCategory turns an API category slug into its display form ("american-football" → "American Football").
func streamedCategory(cat string) string {
	cat = strings.TrimSpace(cat)
	if cat == "" {
		return "General"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(cat, "-", " "))
}

func streamedLogo(m streamedMatch, images string) string {
	if m.Teams != nil {
		for _, t := range []*streamedTeam{m.Teams.Away, m.Teams.Home} {
			if t != nil && t.Badge != "" {
				return images + "/api/images/badge/" + url.PathEscape(t.Badge) + ".webp"
			}
		}
	}
	if m.Poster != "" {
		return images + "/api/images/proxy/" + strings.TrimPrefix(m.Poster, "/") + ".webp"
	}
	return ""
}

func discoverStreamed(ctx context.Context, d Deps, o StreamedOptions, log *zap.Logger) ([]catalog.Candidate, error) {
	var (
		all  []streamedMatch
		errs []error
	)
	for _, ep := range streamedEndpoints {
		var ms []streamedMatch
		if err := getJSON(ctx, d, o.APIBase+"/api/matches/"+ep, &ms); err != nil {
			log.Warn("match endpoint failed", zap.String("endpoint", ep), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", ep, err))
			continue
		}
		log.Debug("match endpoint", zap.String("endpoint", ep), zap.Int("matches", len(ms)))
		all = append(all, ms...)
	}
	if len(errs) == len(streamedEndpoints) {
		return nil, &DiscoveryError{Source: "streamed", Err: errors.Join(errs...)}
	}
	matches := lo.UniqBy(all, func(m streamedMatch) string {
		if m.ID != "" {
			return m.ID
		}
		return m.Title
	})

	// Embed lookups run in parallel; results keep match order.
	targets := make([][]string, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(streamedLookups)
	for i, m := range matches {
		g.Go(func() error {
			targets[i] = streamedEmbeds(gctx, d, o.APIBase, m.Sources)
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, &DiscoveryError{Source: "streamed", Err: ctx.Err()}
	}

	out := make([]catalog.Candidate, 0, len(matches))
	for i, m := range matches {
		if len(targets[i]) == 0 {
			log.Debug("match has no embeds", zap.String("title", m.Title))
			continue
		}
		cat := streamedCategory(m.Category)
		title := strings.TrimSpace(m.Title)
		if title == "" {
			title = "Unknown Match"
		}
		out = append(out, catalog.Candidate{
			ID:       m.ID,
			Name:     title,
			Targets:  targets[i],
			Category: m.Category,
			Logo:     streamedLogo(m, o.ImagesBase),
			TVGID:    lo.ValueOr(streamedTVGIDs, cat, "General.Dummy.us"),
			Group:    streamedGroupPrefix + cat,
		})
	}
	return out, nil
}

// streamedEmbeds collects embed URLs over all sources of a match. Failing sources contribute nothing.
func streamedEmbeds(ctx context.Context, d Deps, api string, sources []streamedSource) []string {
	var out []string
	for _, s := range sources {
		if s.Source == "" || s.ID == "" {
			continue
		}
		var streams []streamedStream
		u := api + "/api/stream/" + url.PathEscape(s.Source) + "/" + url.PathEscape(s.ID)
		if err := getJSON(ctx, d, u, &streams); err != nil {
			d.logger().Debug("stream lookup failed", zap.String("url", u), zap.Error(err))
			continue
		}
		for _, st := range streams {
			if st.EmbedURL != "" {
				out = append(out, st.EmbedURL)
			}
		}
	}
	return lo.Uniq(out)
}

func getJSON(ctx context.Context, d Deps, u string, v any) error {
	client := d.Client
	if client == nil {
		client = httpclient.Default()
	}
	body, err := httpclient.Get(ctx, client, u, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
