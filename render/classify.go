package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// A BlockKind names a rendering strategy.
type BlockKind string

const (
	BlockDay      BlockKind = "day"
	BlockProgress BlockKind = "progress"
	BlockError    BlockKind = "error"
	BlockInfo     BlockKind = "info"
	BlockChat     BlockKind = "chat"
)

// A Block is one rendered unit of a plan. Exactly one of the pointer fields
// is set, matching Kind (Info for both error and info blocks).
type Block struct {
	Kind     BlockKind     `json:"kind"`
	Day      *DaySeparator `json:"day,omitempty"`
	Progress *FileProgress `json:"progress,omitempty"`
	Info     *InfoMessage  `json:"info,omitempty"`
	Chat     *ChatMessage  `json:"chat,omitempty"`
}

// A Plan is the rendering of one record: an optional day separator followed
// by the record's own block. A plan without blocks renders nothing.
type Plan struct {
	RecordID string  `json:"record_id"`
	Blocks   []Block `json:"blocks"`
}

// Empty reports whether the plan renders nothing.
func (p Plan) Empty() bool {
	return len(p.Blocks) == 0
}

// A DaySeparator marks the start of a calendar day.
type DaySeparator struct {
	Time       time.Time `json:"time"`
	DateString string    `json:"datestring"`
}

// A FileProgress shows an attachment that is still uploading.
type FileProgress struct {
	ID       string  `json:"id"`
	Name     string  `json:"filename"`
	Size     string  `json:"filesize"`
	Bytes    uint64  `json:"bytes"`
	Progress float64 `json:"progress"`
}

// An InfoMessage is a system or error notice about the conversation.
type InfoMessage struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Text    string    `json:"message"`
	Class   string    `json:"extra_classes"`
	Time    time.Time `json:"time"`
	ISODate string    `json:"isodate"`

	retry func(ctx context.Context) error
}

// Retry resends whatever caused the notice and removes it.
func (m *InfoMessage) Retry(ctx context.Context) error {
	if m.retry == nil {
		return nil
	}
	return m.retry(ctx)
}

// A ChatMessage is a rendered chat message with its display attributes.
type ChatMessage struct {
	ID               string      `json:"id"`
	MsgID            string      `json:"msgid,omitempty"`
	From             string      `json:"from,omitempty"`
	Username         string      `json:"username"`
	Sender           Sender      `json:"sender"`
	Type             MessageType `json:"message_type"`
	Time             time.Time   `json:"time"`
	PrettyTime       string      `json:"pretty_time"`
	Roles            []string    `json:"roles,omitempty"`
	Segments         []Segment   `json:"segments"`
	Affordances      Affordances `json:"affordances"`
	AllowRetraction  bool        `json:"allow_message_retraction"`
	HasMentions      bool        `json:"has_mentions"`
	IsMeMessage      bool        `json:"is_me_message"`
	IsRetracted      bool        `json:"is_retracted"`
	IsDelayed        bool        `json:"is_delayed"`
	IsEncrypted      bool        `json:"is_encrypted"`
	IsOnlyEmojis     bool        `json:"is_only_emojis"`
	IsSpoiler        bool        `json:"is_spoiler"`
	SpoilerHint      string      `json:"spoiler_hint,omitempty"`
	Correcting       bool        `json:"correcting"`
	Editable         bool        `json:"editable"`
	ModeratedBy      string      `json:"moderated_by,omitempty"`
	ModerationReason string      `json:"moderation_reason,omitempty"`
	OccupantRole     string      `json:"occupant_role,omitempty"`
	OccupantAffil    string      `json:"occupant_affiliation,omitempty"`
	OOBURL           string      `json:"oob_url,omitempty"`
	Subject          string      `json:"subject,omitempty"`
	Received         string      `json:"received,omitempty"`
}

// Options configure a Renderer.
type Options struct {
	AllowMessageRetraction RetractionPolicy
	GeoURIReplacement      string
	// TimeFormat is a time layout for message timestamps.
	TimeFormat string
	// Location is the reference time zone for day boundaries.
	Location    *time.Location
	HookTimeout time.Duration
	// Concurrency bounds parallel body transformations in RenderAll.
	Concurrency int
}

const (
	defaultTimeFormat  = "15:04"
	defaultConcurrency = 4
	isoLayout          = "2006-01-02T15:04:05.000Z07:00"
)

// Renderer classifies records and produces their plans.
type Renderer struct {
	Options      Options
	Hooks        Hooks
	Capabilities Capabilities
	Retrier      Retrier
	Logger       *slog.Logger
}

// Render produces the plan of rec, whose immediate predecessor in col is
// prev (nil for the first record).
func (r *Renderer) Render(ctx context.Context, col Collection, prev, rec *Record) Plan {
	res := r.resolver(r.Capabilities)
	plan, rendered := r.plan(ctx, col, res, prev, rec)
	if rendered {
		col.Rendered(ctx, rec)
	}
	return plan
}

// RenderAll renders a snapshot of col. Body transformations may run in
// parallel, but plans come back in collection order and rendered
// notifications are delivered in that order too.
func (r *Renderer) RenderAll(ctx context.Context, col Collection, records []Record) []Plan {
	res := r.resolver(newPassCapabilities(capsOrNone{r.Capabilities}))
	plans := make([]Plan, len(records))
	rendered := make([]bool, len(records))

	limit := r.Options.Concurrency
	if limit <= 0 {
		limit = defaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range records {
		var prev *Record
		if i > 0 {
			prev = &records[i-1]
		}
		rec := &records[i]
		g.Go(func() error {
			plans[i], rendered[i] = r.plan(gctx, col, res, prev, rec)
			return nil
		})
	}
	_ = g.Wait()

	for i := range records {
		if rendered[i] {
			col.Rendered(ctx, &records[i])
		}
	}
	return plans
}

// Retry runs the retry action of an error or info record.
func (r *Renderer) Retry(ctx context.Context, col Collection, rec *Record) error {
	return r.resolver(r.Capabilities).Retry(ctx, col, rec)
}

// plan classifies rec. The boolean reports whether a body was rendered and
// the collection should be told so.
func (r *Renderer) plan(ctx context.Context, col Collection, res *Resolver, prev, rec *Record) (Plan, bool) {
	plan := Plan{RecordID: rec.ID}
	if rec.DanglingRetraction {
		return plan, false
	}
	if day := r.daySeparator(prev, rec); day != nil {
		plan.Blocks = append(plan.Blocks, Block{Kind: BlockDay, Day: day})
	}

	var block Block
	switch {
	case rec.File != nil && rec.OOBURL == "":
		block = Block{Kind: BlockProgress, Progress: &FileProgress{
			ID:       rec.ID,
			Name:     rec.File.Name,
			Size:     humanize.Bytes(rec.File.Size),
			Bytes:    rec.File.Size,
			Progress: rec.File.Progress,
		}}
	case rec.Type == TypeError:
		block = Block{Kind: BlockError, Info: r.info(col, res, rec, "chat-error")}
	case rec.Type == TypeInfo:
		block = Block{Kind: BlockInfo, Info: r.info(col, res, rec, "chat-info")}
	default:
		block = Block{Kind: BlockChat, Chat: r.chatMessage(ctx, col, res, rec)}
	}

	if block.Kind == BlockChat && !r.stillPresent(ctx, col, rec) {
		return Plan{RecordID: rec.ID}, false
	}
	plan.Blocks = append(plan.Blocks, block)
	return plan, block.Kind == BlockChat
}

// stillPresent reports whether rec was not removed while its body was being
// transformed. Lookup errors count as present.
func (r *Renderer) stillPresent(ctx context.Context, col Collection, rec *Record) bool {
	ok, err := col.Contains(ctx, rec.ID)
	if err != nil {
		r.logger().Warn("Could not check record presence", "id", rec.ID, "error", err.Error())
		return true
	}
	if !ok {
		r.logger().Debug("Discarding render of removed record", "id", rec.ID)
	}
	return ok
}

func (r *Renderer) daySeparator(prev, rec *Record) *DaySeparator {
	loc := r.location()
	t := rec.Time.In(loc)
	if prev != nil && sameDay(prev.Time.In(loc), t) {
		return nil
	}
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return &DaySeparator{Time: day, DateString: formatDay(day)}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// formatDay renders a day as "Tuesday Jan 2nd 2024".
func formatDay(t time.Time) string {
	return fmt.Sprintf("%s %s %s %d", t.Weekday(), t.Format("Jan"), humanize.Ordinal(t.Day()), t.Year())
}

func (r *Renderer) info(col Collection, res *Resolver, rec *Record, class string) *InfoMessage {
	return &InfoMessage{
		ID:      rec.ID,
		Type:    string(rec.Type),
		Text:    rec.Text,
		Class:   class,
		Time:    rec.Time,
		ISODate: rec.Time.UTC().Format(isoLayout),
		retry: func(ctx context.Context) error {
			return res.Retry(ctx, col, rec)
		},
	}
}

func (r *Renderer) chatMessage(ctx context.Context, col Collection, res *Resolver, rec *Record) *ChatMessage {
	chat := col.Chat()
	segs := r.pipeline().transform(ctx, rec, col)

	var hasMentions bool
	if rec.Type == TypeGroupchat {
		ok, err := col.MentionsMe(ctx, rec)
		if err != nil {
			r.logger().Warn("Could not check mentions", "id", rec.ID, "error", err.Error())
		}
		hasMentions = ok
	}

	msg := &ChatMessage{
		ID:               rec.ID,
		MsgID:            rec.MsgID,
		From:             rec.From,
		Username:         rec.DisplayName(),
		Sender:           rec.Sender,
		Type:             rec.Type,
		Time:             rec.Time,
		PrettyTime:       rec.Time.In(r.location()).Format(r.timeFormat()),
		Roles:            rec.Roles(),
		Segments:         segs,
		Affordances:      res.Resolve(ctx, rec, chat),
		AllowRetraction:  r.Options.AllowMessageRetraction.allowsOwn(),
		HasMentions:      hasMentions,
		IsMeMessage:      rec.IsMeCommand(),
		IsRetracted:      rec.IsRetracted(),
		IsDelayed:        rec.IsDelayed,
		IsEncrypted:      rec.IsEncrypted,
		IsOnlyEmojis:     rec.IsOnlyEmojis,
		IsSpoiler:        rec.IsSpoiler,
		SpoilerHint:      rec.SpoilerHint,
		Correcting:       rec.Correcting,
		Editable:         rec.Editable,
		ModeratedBy:      rec.ModeratedBy,
		ModerationReason: rec.ModerationReason,
		OOBURL:           rec.OOBURL,
		Subject:          rec.Subject,
		Received:         rec.Received,
	}
	if rec.Occupant != nil {
		msg.OccupantRole = rec.Occupant.Role
		msg.OccupantAffil = rec.Occupant.Affiliation
	}
	return msg
}

func (r *Renderer) pipeline() *Pipeline {
	return &Pipeline{
		Hooks:       r.Hooks,
		GeoTemplate: r.Options.GeoURIReplacement,
		HookTimeout: r.Options.HookTimeout,
		Logger:      r.logger(),
	}
}

func (r *Renderer) resolver(caps Capabilities) *Resolver {
	return &Resolver{
		Policy:       r.Options.AllowMessageRetraction,
		Capabilities: caps,
		Retrier:      r.Retrier,
		Logger:       r.logger(),
	}
}

func (r *Renderer) location() *time.Location {
	if r.Options.Location == nil {
		return time.UTC
	}
	return r.Options.Location
}

func (r *Renderer) timeFormat() string {
	if r.Options.TimeFormat == "" {
		return defaultTimeFormat
	}
	return r.Options.TimeFormat
}

func (r *Renderer) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// capsOrNone answers no when no capability service is configured.
type capsOrNone struct {
	Capabilities
}

func (c capsOrNone) CanModerate(ctx context.Context, viewer, room string) (bool, error) {
	if c.Capabilities == nil {
		return false, nil
	}
	return c.Capabilities.CanModerate(ctx, viewer, room)
}
