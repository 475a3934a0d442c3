package render

import "strings"

// A SegmentKind tags the variant held by a Segment.
type SegmentKind string

const (
	KindText      SegmentKind = "text"
	KindMention   SegmentKind = "mention"
	KindHyperlink SegmentKind = "hyperlink"
	KindEmoji     SegmentKind = "emoji"
)

// A Segment is a typed unit of transformed message content.
//
// Text is what a reader sees. Payload carries the kind-specific value of
// rich inline segments: the href of a hyperlink or the shortcode of an
// emoji. Self is set on mentions of the viewer.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	Payload string      `json:"payload,omitempty"`
	Self    bool        `json:"self,omitempty"`
}

// PlainText returns a text segment.
func PlainText(s string) Segment {
	return Segment{Kind: KindText, Text: s}
}

// Mention returns a mention segment.
func Mention(text string, self bool) Segment {
	return Segment{Kind: KindMention, Text: text, Self: self}
}

// RichInline returns an enrichment segment of the given kind.
func RichInline(kind SegmentKind, text, payload string) Segment {
	return Segment{Kind: kind, Text: text, Payload: payload}
}

// IsPlain reports whether enrichment stages may still process s.
func (s Segment) IsPlain() bool {
	return s.Kind == KindText
}

// Class is the CSS class list a rendering surface should apply.
func (s Segment) Class() string {
	switch s.Kind {
	case KindMention:
		if s.Self {
			return "mention mention--self badge badge-info"
		}
		return "mention"
	case KindEmoji:
		return "emoji emoji-inline"
	case KindHyperlink:
		return "chat-link"
	}
	return ""
}

// Concat joins the visible text of segs.
func Concat(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Text)
	}
	return b.String()
}

// A piece is a segment positioned in the sanitized body text. start is the
// rune offset of the first source rune and width the number of source runes
// it covers. Plain pieces always satisfy width == len([]rune(Text)).
type piece struct {
	Segment
	start int
	width int
}

func plainPiece(text string, start int) piece {
	return piece{Segment: PlainText(text), start: start, width: runeLen(text)}
}

func piecesOf(segs []Segment) []piece {
	out := make([]piece, 0, len(segs))
	off := 0
	for _, s := range segs {
		w := runeLen(s.Text)
		out = append(out, piece{Segment: s, start: off, width: w})
		off += w
	}
	return out
}

func segmentsOf(ps []piece) []Segment {
	out := make([]Segment, 0, len(ps))
	for _, p := range ps {
		if p.IsPlain() && p.Text == "" {
			continue
		}
		out = append(out, p.Segment)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}
