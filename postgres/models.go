package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/GetStream/chat-render/render"
)

// A record represents a chat message snapshot in the database.
type record struct {
	ID                 string      `bun:",pk,type:uuid,default:uuid_generate_v4()"`
	ChatJID            string      `bun:"chat_jid,notnull"`
	MsgID              string      `bun:"msgid"`
	Type               string      `bun:",notnull"`
	Sender             string      `bun:",notnull"`
	FromJID            string      `bun:"from_jid"`
	Nick               string      `bun:"nick"`
	Body               string      `bun:"body,notnull"`
	FileName           string      `bun:"file_name"`
	FileSize           int64       `bun:"file_size"`
	FileProgress       float64     `bun:"file_progress"`
	HasFile            bool        `bun:"has_file,notnull,default:false"`
	OOBURL             string      `bun:"oob_url"`
	Retracted          bool        `bun:",notnull,default:false"`
	Moderated          string      `bun:"moderated"`
	ModeratedBy        string      `bun:"moderated_by"`
	ModerationReason   string      `bun:"moderation_reason"`
	DanglingRetraction bool        `bun:",notnull,default:false"`
	Correcting         bool        `bun:",notnull,default:false"`
	Editable           bool        `bun:",notnull,default:false"`
	IsDelayed          bool        `bun:",notnull,default:false"`
	IsEncrypted        bool        `bun:",notnull,default:false"`
	IsSpoiler          bool        `bun:",notnull,default:false"`
	SpoilerHint        string      `bun:"spoiler_hint"`
	IsOnlyEmojis       bool        `bun:",notnull,default:false"`
	Subject            string      `bun:"subject"`
	Received           string      `bun:"received"`
	OccupantRole       string      `bun:"occupant_role"`
	OccupantAffil      string      `bun:"occupant_affiliation"`
	CreatedAt          time.Time   `bun:",nullzero,default:now()"`
	References         []reference `bun:"rel:has-many,join:id=record_id"`
	Profile            *profile    `bun:"rel:belongs-to,join:from_jid=jid"`
}

// A reference is a mention span inside a record body.
type reference struct {
	bun.BaseModel `bun:"table:record_references,alias:ref"`

	ID       int64  `bun:",pk,autoincrement"`
	RecordID string `bun:",notnull,type:uuid"`
	Begin    int    `bun:"span_begin,notnull"`
	End      int    `bun:"span_end,notnull"`
	URI      string `bun:"uri"`
}

// A profile is the vCard of a message author.
type profile struct {
	JID       string `bun:",pk"`
	FullName  string `bun:"full_name"`
	Role      string `bun:"role"`
	Image     []byte `bun:"image,type:bytea"`
	ImageType string `bun:"image_type"`
}

func (r record) RenderRecord() render.Record {
	out := render.Record{
		ID:                 r.ID,
		MsgID:              r.MsgID,
		Time:               r.CreatedAt,
		Type:               render.MessageType(r.Type),
		Sender:             render.Sender(r.Sender),
		From:               r.FromJID,
		Nick:               r.Nick,
		Text:               r.Body,
		OOBURL:             r.OOBURL,
		Retracted:          r.Retracted,
		Moderated:          r.Moderated,
		ModeratedBy:        r.ModeratedBy,
		ModerationReason:   r.ModerationReason,
		DanglingRetraction: r.DanglingRetraction,
		Correcting:         r.Correcting,
		Editable:           r.Editable,
		IsDelayed:          r.IsDelayed,
		IsEncrypted:        r.IsEncrypted,
		IsSpoiler:          r.IsSpoiler,
		SpoilerHint:        r.SpoilerHint,
		IsOnlyEmojis:       r.IsOnlyEmojis,
		Subject:            r.Subject,
		Received:           r.Received,
	}
	if len(r.References) > 0 {
		out.References = make([]render.MentionSpan, len(r.References))
		for i, ref := range r.References {
			out.References[i] = ref.MentionSpan()
		}
	}
	if r.HasFile {
		out.File = &render.FileUpload{
			Name:     r.FileName,
			Size:     uint64(max(r.FileSize, 0)),
			Progress: r.FileProgress,
		}
	}
	if r.OccupantRole != "" || r.OccupantAffil != "" {
		out.Occupant = &render.Occupant{Role: r.OccupantRole, Affiliation: r.OccupantAffil}
	}
	// A left join without a matching profile leaves an empty one behind.
	if r.Profile != nil && r.Profile.JID != "" {
		out.Profile = r.Profile.RenderProfile()
	}
	return out
}

func (ref reference) MentionSpan() render.MentionSpan {
	return render.MentionSpan{Begin: ref.Begin, End: ref.End, URI: ref.URI}
}

func (p profile) RenderProfile() *render.Profile {
	return &render.Profile{
		FullName:  p.FullName,
		Role:      p.Role,
		Image:     p.Image,
		ImageType: p.ImageType,
	}
}
