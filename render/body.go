package render

import (
	"context"
	"log/slog"
	"time"
)

// A Collection is the ordered message store a record belongs to.
type Collection interface {
	// Chat describes the conversation and its viewer.
	Chat() Chat
	// Contains reports whether the record is still part of the collection.
	Contains(ctx context.Context, id string) (bool, error)
	// Remove deletes the record from the collection.
	Remove(ctx context.Context, id string) error
	// MentionsMe reports whether the record mentions the viewer.
	MentionsMe(ctx context.Context, rec *Record) (bool, error)
	// Rendered is notified once a record's body has been rendered. It must be
	// a no-op for records that no longer exist.
	Rendered(ctx context.Context, rec *Record)
}

// Pipeline turns a record's raw text into segments.
type Pipeline struct {
	Hooks Hooks
	// GeoTemplate is the geo URI replacement; empty disables it.
	GeoTemplate string
	// HookTimeout bounds each hook trigger; zero means no bound.
	HookTimeout time.Duration
	Logger      *slog.Logger
}

// TransformBody runs the body pipeline for rec and then notifies col that
// the record was rendered. col may be nil.
func (p *Pipeline) TransformBody(ctx context.Context, rec *Record, col Collection) []Segment {
	segs := p.transform(ctx, rec, col)
	if col != nil {
		col.Rendered(ctx, rec)
	}
	return segs
}

func (p *Pipeline) transform(ctx context.Context, rec *Record, col Collection) []Segment {
	logger := p.logger()

	text, refs := rec.Text, rec.References
	if rec.IsMeCommand() {
		text = text[len(meCommand):]
		refs = shiftSpans(refs, -runeLen(meCommand))
	}

	p.trigger(ctx, EventBeforeBodyTransformed, rec, text)

	clean, offset := sanitize(text)
	spans := mapSpans([]rune(text), []rune(clean), offset, refs)
	if len(spans) < len(refs) {
		logger.Debug("Dropped mention spans altered by sanitization", "id", rec.ID, "dropped", len(refs)-len(spans))
	}

	ps := []piece{plainPiece(clean, 0)}
	ps = geoStage(p.GeoTemplate).apply(ps, logger)
	ps = hyperlinkStage.apply(ps, logger)

	var nick string
	if col != nil {
		nick = col.Chat().Nick
	}
	mentions := mentionStage(rec.Type, spans, nick)

	// Emoji substitution and mention resolution run per plain piece. Mention
	// spans are cut out first so that an emoji inside a nickname stays part
	// of the mention.
	out := make([]piece, 0, len(ps))
	for _, q := range ps {
		if !q.IsPlain() {
			out = append(out, q)
			continue
		}
		sub := mentions.apply([]piece{q}, logger)
		out = append(out, emojiStage.apply(sub, logger)...)
	}

	p.trigger(ctx, EventAfterBodyTransformed, rec, clean)
	return segmentsOf(out)
}

func mentionStage(typ MessageType, refs []MentionSpan, nick string) stage {
	return stage{
		name: "mention",
		enrich: func(p piece) ([]piece, error) {
			return resolveMentions(typ, p, refs, nick), nil
		},
	}
}

func (p *Pipeline) trigger(ctx context.Context, event string, rec *Record, text string) {
	if p.Hooks == nil {
		return
	}
	if p.HookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.HookTimeout)
		defer cancel()
	}
	if err := p.Hooks.Trigger(ctx, event, rec, text); err != nil {
		p.logger().Warn("Hook failed", "event", event, "id", rec.ID, "error", err.Error())
	}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func shiftSpans(refs []MentionSpan, by int) []MentionSpan {
	if len(refs) == 0 {
		return refs
	}
	out := make([]MentionSpan, len(refs))
	for i, ref := range refs {
		out[i] = MentionSpan{Begin: ref.Begin + by, End: ref.End + by, URI: ref.URI}
	}
	return out
}
