// Package protocol defines the subtypes, typed request payloads and wire
// records exchanged with a paired web client.
package protocol

// Subtypes understood by the bridge.
const (
	SubClientInfo           = "clientInfo"
	SubProfile              = "profile"
	SubReceivers            = "receivers"
	SubReceiver             = "receiver"
	SubConversations        = "conversations"
	SubConversation         = "conversation"
	SubBatteryStatus        = "batteryStatus"
	SubMessages             = "messages"
	SubMessage              = "message"
	SubAvatar               = "avatar"
	SubThumbnail            = "thumbnail"
	SubBlob                 = "blob"
	SubContactDetail        = "contactDetail"
	SubRead                 = "read"
	SubAck                  = "ack"
	SubGroupSync            = "groupSync"
	SubConnectionAck        = "connectionAck"
	SubConnectionInfo       = "connectionInfo"
	SubConnectionDisconnect = "connectionDisconnect"
	SubContact              = "contact"
	SubGroup                = "group"
	SubTextMessage          = "textMessage"
	SubFileMessage          = "fileMessage"
	SubTyping               = "typing"
	SubActiveConversation   = "activeConversation"
	SubCleanConversation    = "cleanReceiverConversation"
	SubBlocked              = "blocked"
)

// ReceiverType tags the kind of conversation partner.
type ReceiverType string

const (
	ReceiverContact ReceiverType = "contact"
	ReceiverGroup   ReceiverType = "group"
)

// Mode tells the client whether an updated object is new, changed or gone.
type Mode string

const (
	ModeNew      Mode = "new"
	ModeModified Mode = "modified"
	ModeRemoved  Mode = "removed"
)

// Volatile reports whether frames of this subtype are excluded from the replay
// buffer.
func Volatile(subType string) bool {
	switch subType {
	case SubTyping, SubConnectionInfo, SubConnectionAck, SubBatteryStatus:
		return true
	}
	return false
}

// Size limits enforced on client input.
const (
	MaxGroupNameBytes = 256
	MaxNicknameBytes  = 32
	MaxNameBytes      = 256
	MaxTextBytes      = 7000
	MaxGroupMembers   = 256
)
