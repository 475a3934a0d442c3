package render

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
)

// A RetractionPolicy says which messages the viewer may retract.
type RetractionPolicy string

const (
	RetractAll  RetractionPolicy = "all"
	RetractOwn  RetractionPolicy = "own"
	RetractNone RetractionPolicy = "none"
)

// ParseRetractionPolicy validates s.
func ParseRetractionPolicy(s string) (RetractionPolicy, error) {
	switch p := RetractionPolicy(s); p {
	case RetractAll, RetractOwn, RetractNone:
		return p, nil
	}
	return "", fmt.Errorf("invalid retraction policy %q", s)
}

// allowsOwn reports whether the viewer may retract their own messages.
func (p RetractionPolicy) allowsOwn() bool {
	return p == RetractAll || p == RetractOwn
}

// Capabilities answers permission questions about groupchats.
type Capabilities interface {
	CanModerate(ctx context.Context, viewer, room string) (bool, error)
}

// A Retrier resends whatever produced an error or info record.
type Retrier interface {
	Retry(ctx context.Context, rec *Record) error
}

// Affordances are the interactive controls offered for a chat message.
type Affordances struct {
	Retractable   bool    `json:"retractable"`
	AvatarVisible bool    `json:"avatar_visible"`
	Avatar        *Avatar `json:"avatar,omitempty"`
}

// An Avatar is an inline profile image.
type Avatar struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Class  string `json:"class"`
}

const avatarSize = 36

// Resolver computes affordances.
type Resolver struct {
	Policy       RetractionPolicy
	Capabilities Capabilities
	Retrier      Retrier
	Logger       *slog.Logger
}

// Resolve computes both affordances of rec.
func (r *Resolver) Resolve(ctx context.Context, rec *Record, chat Chat) Affordances {
	visible, avatar := r.Avatar(rec)
	return Affordances{
		Retractable:   r.Retractable(ctx, rec, chat),
		AvatarVisible: visible,
		Avatar:        avatar,
	}
}

// Retractable reports whether a retract control should be offered for rec.
// Moderation capability is asked for on every call since it can change
// during a session; a failed check means no.
func (r *Resolver) Retractable(ctx context.Context, rec *Record, chat Chat) bool {
	if rec.IsRetracted() {
		return false
	}
	if rec.Sender == SenderMe {
		return r.Policy.allowsOwn()
	}
	if rec.Type != TypeGroupchat || r.Capabilities == nil {
		return false
	}
	ok, err := r.Capabilities.CanModerate(ctx, chat.Viewer, chat.JID)
	if err != nil {
		r.logger().Warn("Could not check moderation capability",
			"room", chat.JID, "viewer", chat.Viewer, "error", err.Error())
		return false
	}
	return ok
}

// Avatar reports whether an avatar is shown for rec and returns it.
func (r *Resolver) Avatar(rec *Record) (bool, *Avatar) {
	if rec.Type == TypeHeadline || rec.IsMeCommand() {
		return false, nil
	}
	if rec.Profile == nil || len(rec.Profile.Image) == 0 {
		return false, nil
	}
	return true, &Avatar{
		Image:  "data:" + rec.Profile.ImageType + ";base64," + base64.StdEncoding.EncodeToString(rec.Profile.Image),
		Width:  avatarSize,
		Height: avatarSize,
		Class:  "avatar chat-msg__avatar",
	}
}

// Retry asks the retrier to retry rec and then removes rec from col. The
// record is removed even when the retry fails; only the removal error is
// returned.
func (r *Resolver) Retry(ctx context.Context, col Collection, rec *Record) error {
	if r.Retrier != nil {
		if err := r.Retrier.Retry(ctx, rec); err != nil {
			r.logger().Error("Could not retry message", "id", rec.ID, "error", err.Error())
		}
	}
	if err := col.Remove(ctx, rec.ID); err != nil {
		return fmt.Errorf("remove %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// passCapabilities memoizes moderation answers for one render pass. All
// callers of a pass share one context; an answer that failed while the
// caller's context was done is forgotten, so a later caller asks again.
type passCapabilities struct {
	next Capabilities

	mu      sync.Mutex
	answers map[[2]string]*capAnswer
}

type capAnswer struct {
	once sync.Once
	ok   bool
	err  error
}

func newPassCapabilities(next Capabilities) *passCapabilities {
	return &passCapabilities{next: next, answers: make(map[[2]string]*capAnswer)}
}

func (c *passCapabilities) CanModerate(ctx context.Context, viewer, room string) (bool, error) {
	key := [2]string{viewer, room}
	c.mu.Lock()
	a, ok := c.answers[key]
	if !ok {
		a = &capAnswer{}
		c.answers[key] = a
	}
	c.mu.Unlock()

	a.once.Do(func() {
		a.ok, a.err = c.next.CanModerate(ctx, viewer, room)
	})
	if a.err != nil && ctx.Err() != nil {
		c.mu.Lock()
		if c.answers[key] == a {
			delete(c.answers, key)
		}
		c.mu.Unlock()
	}
	return a.ok, a.err
}
