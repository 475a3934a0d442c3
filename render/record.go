package render

import (
	"strings"
	"time"
)

// A MessageType is the protocol-level type of a message.
type MessageType string

const (
	TypeNormal    MessageType = "normal"
	TypeChat      MessageType = "chat"
	TypeGroupchat MessageType = "groupchat"
	TypeError     MessageType = "error"
	TypeInfo      MessageType = "info"
	TypeHeadline  MessageType = "headline"
)

// A Sender tells whether a record was authored by the viewer.
type Sender string

const (
	SenderMe   Sender = "me"
	SenderThem Sender = "them"
)

// meCommand is the prefix of self-action messages such as "/me waves".
const meCommand = "/me "

// A Record is a snapshot of a chat message taken for one render pass.
type Record struct {
	ID                 string        `json:"id" validate:"required"`
	MsgID              string        `json:"msgid,omitempty"`
	Time               time.Time     `json:"time" validate:"required"`
	Type               MessageType   `json:"type" validate:"required,oneof=normal chat groupchat error info headline"`
	Sender             Sender        `json:"sender" validate:"required,oneof=me them"`
	From               string        `json:"from,omitempty"`
	Nick               string        `json:"nick,omitempty"`
	Text               string        `json:"text"`
	References         []MentionSpan `json:"references,omitempty" validate:"dive"`
	File               *FileUpload   `json:"file,omitempty"`
	OOBURL             string        `json:"oob_url,omitempty"`
	Retracted          bool          `json:"retracted,omitempty"`
	Moderated          string        `json:"moderated,omitempty"`
	ModeratedBy        string        `json:"moderated_by,omitempty"`
	ModerationReason   string        `json:"moderation_reason,omitempty"`
	DanglingRetraction bool          `json:"dangling_retraction,omitempty"`
	Correcting         bool          `json:"correcting,omitempty"`
	Editable           bool          `json:"editable,omitempty"`
	IsDelayed          bool          `json:"is_delayed,omitempty"`
	IsEncrypted        bool          `json:"is_encrypted,omitempty"`
	IsSpoiler          bool          `json:"is_spoiler,omitempty"`
	SpoilerHint        string        `json:"spoiler_hint,omitempty"`
	IsOnlyEmojis       bool          `json:"is_only_emojis,omitempty"`
	Subject            string        `json:"subject,omitempty"`
	Received           string        `json:"received,omitempty"`
	Occupant           *Occupant     `json:"occupant,omitempty"`
	Profile            *Profile      `json:"profile,omitempty"`
}

// A MentionSpan is a half-open [Begin, End) range of runes in a record's
// text that references a participant.
type MentionSpan struct {
	Begin int    `json:"begin" validate:"gte=0"`
	End   int    `json:"end" validate:"gtfield=Begin"`
	URI   string `json:"uri,omitempty"`
}

// A FileUpload describes an attachment that is being uploaded.
type FileUpload struct {
	Name     string  `json:"name"`
	Size     uint64  `json:"size"`
	Progress float64 `json:"progress"`
}

// An Occupant holds groupchat membership data of the author.
type Occupant struct {
	Role        string `json:"role,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

// A Profile holds the author's vCard data.
type Profile struct {
	FullName  string `json:"fullname,omitempty"`
	Role      string `json:"role,omitempty"`
	Image     []byte `json:"image,omitempty"`
	ImageType string `json:"image_type,omitempty"`
}

// IsMeCommand reports whether the record is a "/me" self-action message.
func (r *Record) IsMeCommand() bool {
	return strings.HasPrefix(r.Text, meCommand)
}

// IsRetracted reports whether the record was retracted by its author or by
// a moderator.
func (r *Record) IsRetracted() bool {
	return r.Retracted || r.Moderated == "retracted"
}

// DisplayName is the name shown next to the message.
func (r *Record) DisplayName() string {
	if r.Type == TypeGroupchat && r.Nick != "" {
		return r.Nick
	}
	if r.Profile != nil && r.Profile.FullName != "" {
		return r.Profile.FullName
	}
	if r.Nick != "" {
		return r.Nick
	}
	return r.From
}

// Roles splits the comma-separated profile role into a list.
func (r *Record) Roles() []string {
	if r.Profile == nil || r.Profile.Role == "" {
		return nil
	}
	var roles []string
	for _, role := range strings.Split(r.Profile.Role, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// A Chat identifies the conversation a collection belongs to and who is
// looking at it.
type Chat struct {
	JID    string `json:"jid" validate:"required,jid"`
	Viewer string `json:"viewer"`
	Nick   string `json:"nick"`
}
