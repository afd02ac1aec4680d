package sources

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/matcher"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/safeurl"
	"github.com/snapetech/iptvresolve/internal/validate"
)

const (
	StreamEastBase = "https://v2.streameast.ga/"
	StreamEastEPG  = "https://epgshare01.online/epgshare01/epg_ripper_DUMMY_CHANNELS.xml.gz"

	streameastCard    = "a.uefa-card.live"
	streameastOrigin  = "https://streamcenter.pro"
	streameastUA      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	streameastFavicon = "icons/favicon-48x48.png"
	streameastPrefix  = "StreamEast - "
)

type sportPath struct {
	Key, Group, TVGID string
}

// First match by "/<key>/" in the match URL wins.
var streameastCategories = []sportPath{
	{"nfl", "NFL", "NFL.Dummy.us"},
	{"ncaaf", "NCAA Football", "NCAA.Football.Dummy.us"},
	{"ncaab", "NCAA Basketball", "NCAA.Mens.Basketball.Dummy.us"},
	{"nba", "NBA", "NBA.Basketball.Dummy.us"},
	{"wnba", "WNBA", "WNBA.Dummy.us"},
	{"nhl", "NHL", "NHL.Hockey.Dummy.us"},
	{"mlb", "MLB", "MLB.Baseball.Dummy.us"},
	{"soccer", "Soccer", "World.Soccer.Dummy.us"},
	{"epl", "Premier League", "Premier.League.Dummy.us"},
	{"uefa", "UEFA", "UEFA.Champions.League.Dummy.us"},
	{"mls", "MLS", "MLS.Soccer.Dummy.us"},
	{"ufc", "UFC / MMA", "UFC.Fight.Pass.Dummy.us"},
	{"mma", "UFC / MMA", "UFC.Fight.Pass.Dummy.us"},
	{"boxing", "Boxing / PPV", "PPV.EVENTS.Dummy.us"},
	{"ppv", "Boxing / PPV", "PPV.EVENTS.Dummy.us"},
	{"golf", "Golf", "Golf.Dummy.us"},
	{"tennis", "Tennis", "Tennis.Dummy.us"},
	{"racing", "Racing", "Racing.Dummy.us"},
	{"nascar", "Racing", "Racing.Dummy.us"},
	{"f1", "Racing", "Racing.Dummy.us"},
	{"rugby", "Rugby", "Rugby.Dummy.us"},
	{"cricket", "Cricket", "Cricket.Dummy.us"},
	{"darts", "Darts", "Darts.Dummy.us"},
	{"billiard", "Billiards", "BilliardTV.Dummy.us"},
}

// streameastCategory returns group and tvg-id for a match URL.
func streameastCategory(u string) (group, tvgID string) {
	l := strings.ToLower(u)
	for _, c := range streameastCategories {
		if strings.Contains(l, "/"+c.Key+"/") {
			return streameastPrefix + c.Group, c.TVGID
		}
	}
	return streameastPrefix + "All Sports", "Sports.Dummy.us"
}

// StreamEast lists live match cards from the homepage. Players only start on a click into the
// canvas plus a key press.
func StreamEast(d Deps, base string) *Site {
	if base == "" {
		base = StreamEastBase
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	playback := catalog.Headers{Origin: streameastOrigin, Referer: streameastOrigin + "/", UserAgent: streameastUA}
	return &Site{
		Name:   "streameast",
		Output: "StreamEast.m3u8",
		Mode:   Rebuild,
		EPGURL: StreamEastEPG,
		Group:  streameastPrefix + "All Sports",
		Home:   []string{base},
		Profile: resolver.Profile{
			Matcher: matcher.New(".m3u8"),
			Strategies: []resolver.Strategy{
				resolver.Sequence("click and space", resolver.ClickAt(400, 300), resolver.PressKey(" ")),
			},
			Page:     browser.PageOptions{UserAgent: streameastUA},
			Playback: playback,
		},
		Tune: func(p *resolver.Policy) {
			p.NavTimeout = 25 * time.Second
			p.ReloadTimeout = 25 * time.Second
		},
		Rules: []validate.Rule{validate.HTTPOnly()},
		Discover: func(ctx context.Context) ([]catalog.Candidate, error) {
			html, err := d.Fetcher.Fetch(ctx, base, FetchOptions{Timeout: 20 * time.Second, UserAgent: streameastUA})
			if err != nil {
				return nil, &DiscoveryError{Source: "streameast", Err: err}
			}
			cands, err := parseStreamEast(html, base)
			if err != nil {
				return nil, &DiscoveryError{Source: "streameast", Err: err}
			}
			return cands, nil
		},
	}
}

func parseStreamEast(html, base string) ([]catalog.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	favicon := safeurl.Join(base, streameastFavicon)
	var out []catalog.Candidate
	doc.Find(streameastCard).Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		full := safeurl.Join(base, href)
		if !safeurl.IsHTTPOrHTTPS(full) {
			return
		}
		var teams []string
		a.Find("span.uefa-name").Each(func(_ int, s *goquery.Selection) {
			if t := strings.TrimSpace(s.Text()); t != "" {
				teams = append(teams, t)
			}
		})
		title := strings.Join(teams, " vs ")
		if title == "" {
			title = "Unknown Match"
		}
		logo := ""
		a.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
			src := strings.TrimSpace(img.AttrOr("src", ""))
			if src == "" || strings.HasPrefix(src, "data:") {
				return true
			}
			logo = safeurl.Join(base, src)
			return false
		})
		if logo == "" {
			logo = favicon
		}
		group, tvg := streameastCategory(full)
		out = append(out, catalog.Candidate{
			ID:      full,
			Name:    title,
			Targets: []string{full},
			Logo:    logo,
			TVGID:   tvg,
			Group:   group,
		})
	})
	return out, nil
}
