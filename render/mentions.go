package render

import (
	"sort"
	"strings"
)

// ResolveMentions partitions text into plain and mention segments.
//
// Mentions only exist in groupchats; for any other message type the text is
// returned as a single plain segment. Spans are offsets into text and must
// not overlap. They are applied in descending order of Begin so that each
// cut is made against offsets of the untouched front of the string. A
// mention whose text, without a leading "@", equals selfNick is marked Self.
func ResolveMentions(typ MessageType, text string, refs []MentionSpan, selfNick string) []Segment {
	ps := resolveMentions(typ, plainPiece(text, 0), refs, selfNick)
	return segmentsOf(ps)
}

func resolveMentions(typ MessageType, p piece, refs []MentionSpan, selfNick string) []piece {
	if typ != TypeGroupchat || len(refs) == 0 {
		return []piece{p}
	}

	// Localize the spans that fall entirely within p.
	local := make([]MentionSpan, 0, len(refs))
	for _, ref := range refs {
		b, e := ref.Begin-p.start, ref.End-p.start
		if b < 0 || e > p.width || b >= e {
			continue
		}
		local = append(local, MentionSpan{Begin: b, End: e})
	}
	if len(local) == 0 {
		return []piece{p}
	}
	sort.SliceStable(local, func(i, j int) bool {
		return local[i].Begin > local[j].Begin
	})

	text := []rune(p.Text)
	var list []piece
	for _, ref := range local {
		if ref.End > len(text) {
			// Overlaps a span that was already cut off.
			continue
		}
		mention := string(text[ref.Begin:ref.End])
		self := selfNick != "" && strings.TrimPrefix(mention, "@") == selfNick
		list = append([]piece{
			{Segment: Mention(mention, self), start: p.start + ref.Begin, width: ref.End - ref.Begin},
			plainPiece(string(text[ref.End:]), p.start+ref.End),
		}, list...)
		text = text[:ref.Begin]
	}
	return append([]piece{plainPiece(string(text), p.start)}, list...)
}
