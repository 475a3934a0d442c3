package render

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kyokomi/emoji/v2"
	"github.com/rivo/uniseg"
)

var (
	shortcodeRE = regexp.MustCompile(`:[a-z0-9_+-]+:`)

	// shortcodes maps ":smile:" to its unicode sequence; emojiCodes maps a
	// unicode sequence back to its canonical shortcode.
	shortcodes = emoji.CodeMap()
	emojiCodes = canonicalCodes(emoji.RevCodeMap())
)

func canonicalCodes(rev map[string][]string) map[string]string {
	out := make(map[string]string, len(rev))
	for uni, codes := range rev {
		if len(codes) == 0 {
			continue
		}
		codes = append([]string(nil), codes...)
		sort.Slice(codes, func(i, j int) bool {
			if len(codes[i]) != len(codes[j]) {
				return len(codes[i]) < len(codes[j])
			}
			return codes[i] < codes[j]
		})
		out[strings.TrimSpace(uni)] = codes[0]
	}
	return out
}

// Emoji replaces :shortcode: tokens and unicode emoji in the plain segments
// of segs with emoji segments.
func Emoji(segs []Segment) []Segment {
	return emojiStage.segments(segs)
}

var emojiStage = stage{
	name: "emoji",
	enrich: func(p piece) ([]piece, error) {
		var out []piece
		for _, q := range splitMatches(p, shortcodeRE.FindAllStringIndex(p.Text, -1), shortcodeSegment) {
			if !q.IsPlain() {
				out = append(out, q)
				continue
			}
			out = append(out, splitMatches(q, unicodeEmoji(q.Text), unicodeSegment)...)
		}
		return out, nil
	},
}

func shortcodeSegment(match string) (Segment, bool) {
	uni, ok := shortcodes[match]
	if !ok {
		return Segment{}, false
	}
	return RichInline(KindEmoji, strings.TrimSpace(uni), match), true
}

func unicodeSegment(match string) (Segment, bool) {
	code, ok := lookupEmoji(match)
	if !ok {
		return Segment{}, false
	}
	return RichInline(KindEmoji, match, code), true
}

// unicodeEmoji returns the byte ranges of the grapheme clusters in text that
// are emoji. Multi-rune sequences such as flags or ZWJ families are single
// clusters.
func unicodeEmoji(text string) [][]int {
	var locs [][]int
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		cluster := g.Str()
		if r, _ := utf8.DecodeRuneInString(cluster); r < 0x2000 {
			continue
		}
		if _, ok := lookupEmoji(cluster); ok {
			from, to := g.Positions()
			locs = append(locs, []int{from, to})
		}
	}
	return locs
}

func lookupEmoji(cluster string) (string, bool) {
	if code, ok := emojiCodes[cluster]; ok {
		return code, true
	}
	if code, ok := emojiCodes[strings.TrimSuffix(cluster, "\ufe0f")]; ok {
		return code, true
	}
	code, ok := emojiCodes[cluster+"\ufe0f"]
	return code, ok
}
