package render

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultGeoURIReplacement points geo URIs at OpenStreetMap.
const DefaultGeoURIReplacement = "https://www.openstreetmap.org/?mlat=%1$s&mlon=%2$s#map=18/%1$s/%2$s"

var geoRE = regexp.MustCompile(`geo:(-?[0-9]+(?:\.[0-9]+)?),(-?[0-9]+(?:\.[0-9]+)?)(?:,-?[0-9]+(?:\.[0-9]+)?)?(?:;[A-Za-z0-9.=_-]+)*(?:\?\S*)?`)

// GeoURIs rewrites geo URIs in the plain segments of segs into hyperlinks
// built from template, where %1$s is the latitude and %2$s the longitude.
// An empty template leaves geo URIs as plain text.
func GeoURIs(segs []Segment, template string) []Segment {
	return geoStage(template).segments(segs)
}

func geoStage(template string) stage {
	return stage{
		name: "geouri",
		enrich: func(p piece) ([]piece, error) {
			if template == "" {
				return []piece{p}, nil
			}
			locs := geoRE.FindAllStringSubmatchIndex(p.Text, -1)
			if len(locs) == 0 {
				return []piece{p}, nil
			}
			var err error
			out := splitMatches(p, locs, func(match string) (Segment, bool) {
				m := geoRE.FindStringSubmatch(match)
				href := strings.NewReplacer("%1$s", m[1], "%2$s", m[2]).Replace(template)
				if _, perr := url.Parse(href); perr != nil {
					err = fmt.Errorf("geo replacement %q: %w", href, perr)
					return Segment{}, false
				}
				return RichInline(KindHyperlink, href, href), true
			})
			if err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}
