package domain

import "context"

// Reader is the read side of the domain store.
type Reader interface {
	Profile() (*Profile, error)
	Contact(identity string) (*Contact, error)
	Contacts() ([]Contact, error)
	Group(id string) (*Group, error)
	Groups() ([]Group, error)
	GroupCountOfMember(identity string) (int, error)
	IsBlocked(identity string) (bool, error)
	Blocked() ([]string, error)
	ConversationByIdentity(identity string) (*Conversation, error)
	ConversationByGroupID(groupID string) (*Conversation, error)
	Conversation(id int64) (*Conversation, error)
	ConversationsSorted() ([]Conversation, error)
	CountMessages(conversationID int64) (int, error)
	// MessagesInConversation returns up to count messages starting at offset
	// of the newest-first timeline.
	MessagesInConversation(conversationID int64, offset, count int) ([]Message, error)
	LatestMessage(conversationID int64) (*Message, error)
	Message(id string) (*Message, error)
	// UnreadMessages returns incoming unread messages, oldest first.
	UnreadMessages(conversationID int64) ([]Message, error)
}

// Tx is a write transaction. Mutations record change events that are published
// after commit, in commit order.
type Tx interface {
	Reader
	SaveProfile(p *Profile) error
	SaveContact(c *Contact) error
	SetContactAvatar(identity string, avatar []byte) error
	DeleteContact(identity string) error
	SetBlocked(identity string, blocked bool) error
	SaveGroup(g *Group) error
	SetGroupAvatar(id string, avatar []byte) error
	AddGroupMember(groupID, identity string) error
	RemoveGroupMember(groupID, identity string) error
	DeleteGroup(id string) error
	SaveConversation(c *Conversation) error
	DeleteConversation(id int64) error
	SaveMessage(m *Message) error
	DeleteMessage(id string) error
	DeleteMessages(conversationID int64) error
	Emit(kind string, payload any)
}

// Repository is the domain store consumed by handlers and the notifier.
type Repository interface {
	Reader
	// Atomic runs fn in a single transaction. Events recorded by fn are
	// published only if it commits.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Delivery reports the outcome of an asynchronous send.
type Delivery <-chan error

// Messenger dispatches outgoing traffic to the host's message queue.
type Messenger interface {
	SendMessage(ctx context.Context, to Receiver, messageID string) (Delivery, error)
	SendTyping(ctx context.Context, identity string, typing bool) error
	SendGroupCreate(ctx context.Context, groupID string) error
	SendGroupRename(ctx context.Context, groupID, name string) error
	SendGroupPhoto(ctx context.Context, groupID string, photo []byte) (Delivery, error)
	SendGroupMembers(ctx context.Context, groupID string, added, removed []string) error
	SendGroupLeave(ctx context.Context, groupID string) error
	SyncGroup(ctx context.Context, groupID string) error
	SendReadReceipts(ctx context.Context, to Receiver, messageIDs []string) error
	SendUserAck(ctx context.Context, to Receiver, messageID string, acknowledged bool) error
}

// Policy answers permission questions during validation.
type Policy interface {
	Restrictions() Restrictions
	// CanSend returns ErrBlocked, ErrDisabledByPolicy or ErrNotAllowed when
	// the conversation may not receive messages.
	CanSend(r Reader, conv *Conversation) error
	MaxFileSize() int64
}

// Device exposes host status mirrored to the client.
type Device interface {
	Battery() (percent int, charging bool)
}
