package sources

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/snapetech/iptvresolve/internal/browser"
	"github.com/snapetech/iptvresolve/internal/catalog"
	"github.com/snapetech/iptvresolve/internal/httpclient"
	"github.com/snapetech/iptvresolve/internal/matcher"
	"github.com/snapetech/iptvresolve/internal/resolver"
	"github.com/snapetech/iptvresolve/internal/validate"
)

// FSTVMirrors serve the same channel list; the first that loads is used for the whole run.
var FSTVMirrors = []string{
	"https://fstv.online/live-tv.html?timezone=America%2FDenver",
	"https://fstv.space/live-tv.html?timezone=America%2FDenver",
	"https://fstv.zip/live-tv.html?timezone=America%2FDenver",
}

const (
	fstvChannel = ".item-channel"
	fstvGroup   = "FSTV"
	fstvOrigin  = "https://fstv.space"
	fstvNav     = 120 * time.Second
)

var fstvHeaders = catalog.Headers{
	Origin:    fstvOrigin,
	Referer:   fstvOrigin + "/",
	UserAgent: httpclient.DefaultUserAgent,
}

// FSTV is a single-page channel list: every candidate is one element of the list, resolved by
// clicking it and catching the player's authenticated playlist request.
func FSTV(d Deps, mirrors ...string) *Site {
	if len(mirrors) == 0 {
		mirrors = FSTVMirrors
	}
	headers := map[string]string{"Origin": fstvHeaders.Origin, "Referer": fstvHeaders.Referer}
	log := d.logger().Named("fstv")
	return &Site{
		Name:   "fstv",
		Output: "FSTV24.m3u8",
		Mode:   Rebuild,
		Group:  fstvGroup,
		Home:   mirrors,
		Profile: resolver.Profile{
			Matcher:  matcher.New(".m3u8", matcher.RequireQuery("auth_key")),
			Marker:   fstvChannel,
			Page:     browser.PageOptions{UserAgent: fstvHeaders.UserAgent, Headers: headers},
			Playback: fstvHeaders,
		},
		Tune: func(p *resolver.Policy) {
			p.NavTimeout = fstvNav
			p.WindowTimeout = 15 * time.Second
		},
		Rules: []validate.Rule{validate.HTTPOnly(), validate.SentinelToken("false")},
		Discover: func(ctx context.Context) ([]catalog.Candidate, error) {
			return FirstSuccessful(ctx, log, "fstv", mirrors, func(ctx context.Context, mirror string) ([]catalog.Candidate, error) {
				html, err := d.Fetcher.Fetch(ctx, mirror, FetchOptions{
					Wait:      fstvChannel,
					Timeout:   fstvNav,
					UserAgent: fstvHeaders.UserAgent,
					Headers:   headers,
				})
				if err != nil {
					return nil, err
				}
				return parseFSTV(html, mirror, d.Channels)
			})
		},
	}
}

// parseFSTV keeps each element's DOM index so the resolver can click the same element after a reload.
func parseFSTV(html, mirror string, channels *catalog.ChannelMap) ([]catalog.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []catalog.Candidate
	doc.Find(fstvChannel).Each(func(i int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.AttrOr("title", ""))
		if raw == "" {
			return
		}
		c := catalog.Candidate{
			ID:      strconv.Itoa(i),
			Targets: []string{mirror},
			Logo:    strings.TrimSpace(s.AttrOr("data-logo", "")),
			Click:   &catalog.ElementRef{Selector: fstvChannel, Index: i},
		}
		c = channels.Apply(c, raw, fstvGroup)
		c.Group = fstvGroup
		out = append(out, c)
	})
	return out, nil
}
