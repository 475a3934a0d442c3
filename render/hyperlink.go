package render

import (
	"fmt"
	"regexp"

	"mvdan.cc/xurls/v2"
)

// linkSchemes are the schemes the hyperlink stage recognizes.
const linkSchemes = `https?://|ftp://|xmpp:|mailto:`

var linkRE = mustLinkRE()

func mustLinkRE() *regexp.Regexp {
	re, err := xurls.StrictMatchingScheme(linkSchemes)
	if err != nil {
		panic(fmt.Sprintf("compile link pattern: %v", err))
	}
	return re
}

// Hyperlinks splits the plain segments of segs into alternating plain and
// hyperlink segments. A URL written as <URL> becomes one hyperlink segment
// whose text still shows the brackets.
func Hyperlinks(segs []Segment) []Segment {
	return hyperlinkStage.segments(segs)
}

var hyperlinkStage = stage{
	name: "hyperlink",
	enrich: func(p piece) ([]piece, error) {
		locs := linkRE.FindAllStringIndex(p.Text, -1)
		for _, loc := range locs {
			s, e := loc[0], loc[1]
			if s > 0 && e < len(p.Text) && p.Text[s-1] == '<' && p.Text[e] == '>' {
				loc[0], loc[1] = s-1, e+1
			}
		}
		return splitMatches(p, locs, linkSegment), nil
	},
}

// linkSegment keeps the angle brackets of a <URL> match visible in the
// segment text; the payload is always the bare href.
func linkSegment(match string) (Segment, bool) {
	href := match
	if len(href) > 1 && href[0] == '<' && href[len(href)-1] == '>' {
		href = href[1 : len(href)-1]
	}
	return RichInline(KindHyperlink, match, href), true
}
