package protocol

// Color is the fixed color sent with every receiver.
const Color = "#181818"

// ContactAccess lists what the client may change on a contact.
type ContactAccess struct {
	CanDelete          bool `msgpack:"canDelete"`
	CanChangeAvatar    bool `msgpack:"canChangeAvatar"`
	CanChangeFirstName bool `msgpack:"canChangeFirstName"`
	CanChangeLastName  bool `msgpack:"canChangeLastName"`
}

// Contact is the wire form of a contact.
type Contact struct {
	ID                string        `msgpack:"id"`
	DisplayName       string        `msgpack:"displayName"`
	FirstName         string        `msgpack:"firstName,omitempty"`
	LastName          string        `msgpack:"lastName,omitempty"`
	PublicNickname    string        `msgpack:"publicNickname,omitempty"`
	VerificationLevel int           `msgpack:"verificationLevel"`
	State             string        `msgpack:"state"`
	FeatureMask       int           `msgpack:"featureMask"`
	IsWork            bool          `msgpack:"isWork"`
	PublicKey         []byte        `msgpack:"publicKey"`
	IsBlocked         bool          `msgpack:"isBlocked"`
	Color             string        `msgpack:"color"`
	Access            ContactAccess `msgpack:"access"`
}

// GroupAccess lists what the client may change on a group.
type GroupAccess struct {
	CanDelete        bool `msgpack:"canDelete"`
	CanChangeAvatar  bool `msgpack:"canChangeAvatar"`
	CanChangeName    bool `msgpack:"canChangeName"`
	CanChangeMembers bool `msgpack:"canChangeMembers"`
	CanLeave         bool `msgpack:"canLeave"`
	CanSync          bool `msgpack:"canSync"`
}

// Group is the wire form of a group.
type Group struct {
	ID            string      `msgpack:"id"`
	DisplayName   string      `msgpack:"displayName"`
	Members       []string    `msgpack:"members"`
	Administrator string      `msgpack:"administrator"`
	Disabled      bool        `msgpack:"disabled"`
	Color         string      `msgpack:"color"`
	Access        GroupAccess `msgpack:"access"`
}

// Receivers is the payload of response/receivers.
type Receivers struct {
	Contacts []Contact `msgpack:"contact"`
	Groups   []Group   `msgpack:"group"`
}

// SoundSettings is the sound part of a conversation's notification settings.
type SoundSettings struct {
	Mode string `msgpack:"mode"`
}

// DNDSettings is the do-not-disturb part of a conversation's notification settings.
type DNDSettings struct {
	Mode        string `msgpack:"mode"`
	Until       int64  `msgpack:"until,omitempty"`
	MentionOnly bool   `msgpack:"mentionOnly,omitempty"`
}

// NotificationSettings is the wire form of a conversation's push settings.
type NotificationSettings struct {
	Sound SoundSettings `msgpack:"sound"`
	DND   DNDSettings   `msgpack:"dnd"`
}

// Notification modes.
const (
	SoundMuted   = "muted"
	SoundDefault = "default"
	DNDOn        = "on"
	DNDOff       = "off"
	DNDUntil     = "until"
)

// Conversation is the wire form of a conversation list entry.
type Conversation struct {
	Type          ReceiverType         `msgpack:"type"`
	ID            string               `msgpack:"id"`
	Position      int                  `msgpack:"position"`
	MessageCount  int                  `msgpack:"messageCount"`
	UnreadCount   int                  `msgpack:"unreadCount"`
	LatestMessage *Message             `msgpack:"latestMessage,omitempty"`
	Receiver      any                  `msgpack:"receiver,omitempty"`
	Avatar        []byte               `msgpack:"avatar,omitempty"`
	Notifications NotificationSettings `msgpack:"notifications"`
	IsStarred     bool                 `msgpack:"isStarred"`
	IsUnread      bool                 `msgpack:"isUnread"`
	IsArchived    bool                 `msgpack:"isArchived"`
}

// Quote is a quoted message embedded in a text message.
type Quote struct {
	Identity string `msgpack:"identity"`
	Text     string `msgpack:"text"`
}

// File describes an attached file.
type File struct {
	Name string `msgpack:"name"`
	Size int64  `msgpack:"size"`
	Type string `msgpack:"type"`
}

// Thumbnail describes a message's preview image.
type Thumbnail struct {
	Height  int    `msgpack:"height"`
	Width   int    `msgpack:"width"`
	Preview []byte `msgpack:"preview,omitempty"`
}

// MessageEvent is a timestamped delivery milestone.
type MessageEvent struct {
	Type string `msgpack:"type"`
	Date int64  `msgpack:"date"`
}

// Message is the wire form of a message.
type Message struct {
	Type         string         `msgpack:"type"`
	ID           string         `msgpack:"id"`
	Date         int64          `msgpack:"date"`
	SortKey      int64          `msgpack:"sortKey"`
	PartnerID    string         `msgpack:"partnerId,omitempty"`
	IsOutbox     bool           `msgpack:"isOutbox"`
	IsStatus     bool           `msgpack:"isStatus"`
	Body         string         `msgpack:"body,omitempty"`
	Caption      string         `msgpack:"caption,omitempty"`
	StatusType   string         `msgpack:"statusType,omitempty"`
	Unread       bool           `msgpack:"unread"`
	State        string         `msgpack:"state,omitempty"`
	Quote        *Quote         `msgpack:"quote,omitempty"`
	File         *File          `msgpack:"file,omitempty"`
	Thumbnail    *Thumbnail     `msgpack:"thumbnail,omitempty"`
	Events       []MessageEvent `msgpack:"events,omitempty"`
	LastEditedAt int64          `msgpack:"lastEditedAt,omitempty"`
}

// Profile is the payload of response/profile and update/profile.
type Profile struct {
	Identity       string `msgpack:"identity"`
	PublicKey      []byte `msgpack:"publicKey"`
	PublicNickname string `msgpack:"publicNickname"`
	Avatar         []byte `msgpack:"avatar,omitempty"`
}

// ReceiverPayload wraps a single receiver in create and update responses.
type ReceiverPayload struct {
	Receiver any `msgpack:"receiver"`
}

// CreatedMessage is the payload of create/textMessage and create/fileMessage.
type CreatedMessage struct {
	MessageID string `msgpack:"messageId"`
}

// Blob is the payload of response/blob.
type Blob struct {
	Type string `msgpack:"type"`
	Name string `msgpack:"name"`
	Blob []byte `msgpack:"blob"`
}

// BatteryStatus is the payload of update/batteryStatus.
type BatteryStatus struct {
	Percent    int  `msgpack:"percent"`
	IsCharging bool `msgpack:"isCharging"`
}

// Typing is the payload of update/typing.
type Typing struct {
	IsTyping bool `msgpack:"isTyping"`
}

// Resume names the connection a client may replay frames from.
type Resume struct {
	ID             []byte `msgpack:"id"`
	SequenceNumber uint32 `msgpack:"sequenceNumber"`
}

// ConnectionInfo is the payload of update/connectionInfo in both directions.
type ConnectionInfo struct {
	ID     []byte  `msgpack:"id"`
	Resume *Resume `msgpack:"resume,omitempty"`
}

// ConnectionAck is the payload of update/connectionAck.
type ConnectionAck struct {
	SequenceNumber uint32 `msgpack:"sequenceNumber"`
}

// ContactDetail is the payload of response/contactDetail.
type ContactDetail struct {
	Receiver Contact `msgpack:"receiver"`
}

// Restrictions mirrors the administrator switches the client must honor.
type Restrictions struct {
	DisableAddContact  bool `msgpack:"disableAddContact"`
	DisableCreateGroup bool `msgpack:"disableCreateGroup"`
	DisableSendMessage bool `msgpack:"disableSendMessage"`
	DisableExport      bool `msgpack:"disableExport"`
}

// ClientInfoReply is the payload of response/clientInfo.
type ClientInfoReply struct {
	Device       string       `msgpack:"device"`
	OS           string       `msgpack:"os"`
	AppVersion   string       `msgpack:"appVersion"`
	IsWork       bool         `msgpack:"isWork"`
	MaxFileSize  int64        `msgpack:"maxFileSize"`
	MaxGroupSize int          `msgpack:"maxGroupSize"`
	Restrictions Restrictions `msgpack:"mdm"`
}
