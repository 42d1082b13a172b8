package domain

// Event kinds published on the bus after a committed mutation.
const (
	EventNamespace = "domain."

	EventMessageCreated       = "domain.message.created"
	EventMessageModified      = "domain.message.modified"
	EventMessageRemoved       = "domain.message.removed"
	EventConversationCreated  = "domain.conversation.created"
	EventConversationModified = "domain.conversation.modified"
	EventConversationRemoved  = "domain.conversation.removed"
	EventContactCreated       = "domain.contact.created"
	EventContactModified      = "domain.contact.modified"
	EventContactRemoved       = "domain.contact.removed"
	EventGroupCreated         = "domain.group.created"
	EventGroupModified        = "domain.group.modified"
	EventGroupRemoved         = "domain.group.removed"
	EventAvatarModified       = "domain.avatar.modified"
	EventTyping               = "domain.typing"
	EventProfileModified      = "domain.profile.modified"
	EventBlocklistModified    = "domain.blocklist.modified"
)

// MessageRef is the payload of message events.
type MessageRef struct {
	MessageID      string
	ConversationID int64
	Receiver       Receiver
}

// ConversationRef is the payload of conversation events. Receiver is kept so a
// removed conversation can still be addressed.
type ConversationRef struct {
	ConversationID int64
	Receiver       Receiver
}

// ReceiverRef is the payload of contact, group and avatar events.
type ReceiverRef struct {
	Receiver Receiver
}

// TypingChange is the payload of typing events.
type TypingChange struct {
	Identity string
	Typing   bool
}
