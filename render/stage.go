package render

import (
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// A stage subdivides one plain piece into zero or more pieces.
type stage struct {
	name   string
	enrich func(p piece) ([]piece, error)
}

// apply runs st over every plain piece of ps. A piece the stage fails on is
// passed through unchanged; rich pieces are never handed to a stage.
func (st stage) apply(ps []piece, logger *slog.Logger) []piece {
	out := make([]piece, 0, len(ps))
	for _, p := range ps {
		if !p.IsPlain() || p.Text == "" {
			out = append(out, p)
			continue
		}
		res, err := st.run(p)
		if err != nil {
			logger.Warn("Enrichment failed", "stage", st.name, "error", err.Error())
			out = append(out, p)
			continue
		}
		out = append(out, res...)
	}
	return out
}

func (st stage) run(p piece) (res []piece, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%s: panic: %v", st.name, r)
		}
	}()
	return st.enrich(p)
}

// splitMatches cuts p at the byte ranges in locs, which must be ordered and
// disjoint, replacing each range with the piece built by mk. mk may return
// ok=false to leave a range as plain text.
func splitMatches(p piece, locs [][]int, mk func(match string) (Segment, bool)) []piece {
	if len(locs) == 0 {
		return []piece{p}
	}
	var (
		out  []piece
		text = p.Text
		last = 0
		pos  = p.start
	)
	for _, loc := range locs {
		s, e := loc[0], loc[1]
		if s < last {
			continue
		}
		seg, ok := mk(text[s:e])
		if !ok {
			continue
		}
		if s > last {
			out = append(out, plainPiece(text[last:s], pos))
			pos += utf8.RuneCountInString(text[last:s])
		}
		w := utf8.RuneCountInString(text[s:e])
		out = append(out, piece{Segment: seg, start: pos, width: w})
		pos += w
		last = e
	}
	if last < len(text) {
		out = append(out, plainPiece(text[last:], pos))
	}
	return out
}

// segments runs st over a finished segment list.
func (st stage) segments(segs []Segment) []Segment {
	return segmentsOf(st.apply(piecesOf(segs), slog.Default()))
}
