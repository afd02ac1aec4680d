package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/config"
	"github.com/snapetech/iptvresolve/internal/httpclient"
	"github.com/snapetech/iptvresolve/internal/matcher"
	"github.com/snapetech/iptvresolve/internal/playlist"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/safeurl"
	"github.com/snapetech/iptvresolve/internal/validate"
)

// TheTVAppBase is the site root.
const TheTVAppBase = "https://thetvapp.to"

const (
	tvappList     = "ol.list-group a"
	tvappGroup    = "TheTVApp"
	sectionPrefix = "TheTVApp - "
	tvappLogoHost = "http://drewlive24.duckdns.org:9000/Logos/"
	tvappHDSuffix = " HD"
	tvappChannels = "/tv"
)

// tvappSection is a sports listing whose entries are replaced wholesale on every run.
type tvappSection struct {
	Path, Name string
}

var tvappSections = []tvappSection{
	{"/nba", "NBA"},
	{"/mlb", "MLB"},
	{"/wnba", "WNBA"},
	{"/nfl", "NFL"},
	{"/ncaaf", "NCAAF"},
	{"/ncaab", "NCAAB"},
	{"/soccer", "Soccer"},
	{"/ppv", "PPV"},
	{"/events", "Events"},
	{"/nhl", "NHL"},
}

type sportMeta struct{ TVGID, Logo string }

var tvappSports = map[string]sportMeta{
	"MLB":   {"MLB.Baseball.Dummy.us", tvappLogoHost + "Baseball-2.png"},
	"PPV":   {"PPV.EVENTS.Dummy.us", tvappLogoHost + "PPV.png"},
	"NFL":   {"NFL.Dummy.us", tvappLogoHost + "NFL.png"},
	"NCAAF": {"NCAA.Football.Dummy.us", tvappLogoHost + "CFB.png"},
	"NBA":   {"NBA.Basketball.Dummy.us", tvappLogoHost + "NBA.png"},
	"NHL":   {"NHL.Hockey.Dummy.us", tvappLogoHost + "Hockey.png"},
}

// TheTVAppSections are the refreshable group titles of the TheTVApp playlist.
func TheTVAppSections() []string {
	out := make([]string, len(tvappSections))
	for i, s := range tvappSections {
		out[i] = sectionPrefix + s.Name
	}
	return out
}

// TheTVApp updates addresses of the channels already in its playlist and rebuilds the sports sections.
// Pages play on load; the stream address often only appears inside a tracker request.
func TheTVApp(d Deps, base string) *Site {
	if base == "" {
		base = TheTVAppBase
	}
	base = strings.TrimRight(base, "/")
	playback := catalog.Headers{Origin: safeurl.Origin(base), Referer: base + "/", UserAgent: httpclient.DefaultUserAgent}
	log := d.logger().Named("thetvapp")
	epg := d.EPGURL
	if epg == "" {
		epg = config.DefaultEPGURL
	}
	return &Site{
		Name:       "thetvapp",
		Output:     "TheTVApp.m3u8",
		Mode:       Merge,
		EPGURL:     epg,
		Group:      tvappGroup,
		Home:       []string{base + "/"},
		Sections:   TheTVAppSections(),
		LowQuality: playlist.SDMarker,
		Profile: resolver.Profile{
			Matcher:  matcher.New(".m3u8", matcher.Unwrap("ping.gif", "mu")),
			Page:     browser.PageOptions{UserAgent: playback.UserAgent},
			Playback: playback,
		},
		Rules:             []validate.Rule{validate.HTTPOnly()},
		PositionalUpdates: true, // the /tv list follows the playlist's channel order
		Discover: func(ctx context.Context) ([]catalog.Candidate, error) {
			return discoverTheTVApp(ctx, d, base, log)
		},
	}
}

// discoverTheTVApp lists the channel page and every section. A failing section is skipped;
// discovery fails only when nothing at all could be listed.
func discoverTheTVApp(ctx context.Context, d Deps, base string, log *zap.Logger) ([]catalog.Candidate, error) {
	var (
		out    []catalog.Candidate
		errs   []error
		listed bool
	)
	fetch := func(path string) ([]listLink, error) {
		html, err := d.Fetcher.Fetch(ctx, base+path, FetchOptions{
			Wait:      tvappList,
			Timeout:   60 * time.Second,
			UserAgent: httpclient.DefaultUserAgent,
		})
		if err != nil {
			return nil, err
		}
		return parseListLinks(html, base)
	}

	links, err := fetch(tvappChannels)
	if err != nil {
		log.Warn("channel list failed", zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", tvappChannels, err))
	} else {
		listed = true
		for _, l := range links {
			out = append(out, catalog.Candidate{
				ID:      l.URL,
				Name:    l.Title,
				Targets: []string{l.URL},
				Group:   tvappGroup,
			})
		}
	}

	for _, sec := range tvappSections {
		if ctx.Err() != nil {
			break
		}
		links, err := fetch(sec.Path)
		if err != nil {
			log.Warn("section skipped", zap.String("section", sec.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sec.Path, err))
			continue
		}
		listed = true
		meta := tvappSports[sec.Name]
		for _, l := range links {
			out = append(out, catalog.Candidate{
				ID:       l.URL,
				Name:     strings.TrimSpace(l.Title) + tvappHDSuffix,
				Targets:  []string{l.URL},
				Category: sec.Name,
				TVGID:    meta.TVGID,
				Logo:     meta.Logo,
				Group:    sectionPrefix + sec.Name,
				Section:  sectionPrefix + sec.Name,
			})
		}
	}
	if !listed {
		return nil, &DiscoveryError{Source: "thetvapp", Err: errors.Join(errs...)}
	}
	return out, nil
}

type listLink struct {
	URL, Title string
}

func parseListLinks(html, base string) ([]listLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []listLink
	doc.Find(tvappList).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		title := catalog.JoinLines(s.Text())
		if !ok || strings.TrimSpace(href) == "" || title == "" {
			return
		}
		u := safeurl.Join(base+"/", href)
		if !safeurl.IsHTTPOrHTTPS(u) {
			return
		}
		out = append(out, listLink{URL: u, Title: title})
	})
	return out, nil
}
