// Package domain holds the messaging entities the bridge mirrors and the
// collaborator interfaces it consumes.
package domain

import (
	"strings"
	"time"
)

// Kind distinguishes single from group conversations.
type Kind string

const (
	KindContact Kind = "contact"
	KindGroup   Kind = "group"
)

// Receiver addresses a conversation partner: a contact identity or a hex group id.
type Receiver struct {
	Kind Kind
	ID   string
}

// Contact states.
const (
	StateActive   = "ACTIVE"
	StateInactive = "INACTIVE"
	StateInvalid  = "INVALID"
)

// Contact is a known identity.
type Contact struct {
	Identity          string
	PublicKey         []byte
	FirstName         string
	LastName          string
	PublicNickname    string
	VerificationLevel int // 0-based
	State             string
	FeatureMask       int
	IsWork            bool
	Avatar            []byte
}

// DisplayName returns the best human-readable name for the contact.
func (c *Contact) DisplayName() string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name != "" {
		return name
	}
	if c.PublicNickname != "" && c.PublicNickname != c.Identity {
		return "~" + c.PublicNickname
	}
	return c.Identity
}

// IsGateway reports whether the identity belongs to a gateway (server-side) id.
func IsGateway(identity string) bool {
	return strings.HasPrefix(identity, "*")
}

// Group is a group chat. ID is empty until the group is persisted.
type Group struct {
	ID         string
	Creator    string
	Name       string
	Members    []string
	MyIdentity string
	DidLeave   bool
	Avatar     []byte
}

// IsOwn reports whether self created the group.
func (g *Group) IsOwn(self string) bool {
	return g.Creator == self
}

// DND modes for push settings.
type DNDMode string

const (
	DNDOff   DNDMode = "off"
	DNDOn    DNDMode = "on"
	DNDUntil DNDMode = "until"
)

// PushSetting controls notifications of a conversation.
type PushSetting struct {
	Muted       bool
	DND         DNDMode
	Until       time.Time
	MentionOnly bool
}

// UnreadMarker is the UnreadCount value of a conversation marked as unread.
const UnreadMarker = -1

// Conversation is a single or group chat thread.
type Conversation struct {
	ID              int64
	ContactIdentity string
	GroupID         string
	Pinned          bool
	Archived        bool
	UnreadCount     int
	LastUpdate      time.Time
	Push            PushSetting
}

// IsGroup reports whether the conversation belongs to a group.
func (c *Conversation) IsGroup() bool {
	return c.GroupID != ""
}

// Receiver returns the conversation partner.
func (c *Conversation) Receiver() Receiver {
	if c.IsGroup() {
		return Receiver{Kind: KindGroup, ID: c.GroupID}
	}
	return Receiver{Kind: KindContact, ID: c.ContactIdentity}
}

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageStatus MessageType = "status"
)

// MessageState tracks delivery of a message.
type MessageState string

const (
	StateSending      MessageState = "sending"
	StateSent         MessageState = "sent"
	StateDelivered    MessageState = "delivered"
	StateRead         MessageState = "read"
	StateReceived     MessageState = "received"
	StateUserAck      MessageState = "user-ack"
	StateUserDeclined MessageState = "user-dec"
	StateFailed       MessageState = "send-failed"
)

// Message is one entry of a conversation timeline.
type Message struct {
	ID              string
	ConversationID  int64
	SortKey         int64
	Sender          string
	IsOwn           bool
	Type            MessageType
	Body            string
	Caption         string
	FileName        string
	FileType        string
	FileSize        int64
	Thumbnail       []byte
	ThumbnailWidth  int
	ThumbnailHeight int
	Blob            []byte
	State           MessageState
	Read            bool
	Date            time.Time
	SentAt          time.Time
	DeliveredAt     time.Time
	ReadAt          time.Time
	AckAt           time.Time
	EditedAt        time.Time
}

// Profile is the local user's own identity.
type Profile struct {
	Identity       string
	PublicKey      []byte
	PublicNickname string
	Avatar         []byte
	IsWork         bool
}

// Restrictions are administrator (MDM) feature switches.
type Restrictions struct {
	DisableCreateContact bool
	DisableCreateGroup   bool
	DisableSendMessage   bool
	DisableExport        bool
}
