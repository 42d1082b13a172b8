package protocol

import (
	"strconv"

	"github.com/matheus3301/wbridge/internal/envelope"
)

// ReceiverRef addresses a conversation by partner type and id.
type ReceiverRef struct {
	Type ReceiverType
	ID   string
}

// Key is a stable string form of the reference, used for requested-conversation tracking.
func (r ReceiverRef) Key() string {
	return string(r.Type) + ":" + r.ID
}

func parseReceiver(a envelope.Args) (ReceiverRef, error) {
	typ, err := a.String("type")
	if err != nil {
		return ReceiverRef{}, err
	}
	id, err := a.String("id")
	if err != nil {
		return ReceiverRef{}, err
	}
	switch ReceiverType(typ) {
	case ReceiverContact, ReceiverGroup:
	default:
		return ReceiverRef{}, &envelope.FieldError{Field: "type", Want: "contact or group"}
	}
	if id == "" {
		return ReceiverRef{}, &envelope.FieldError{Field: "id", Missing: true}
	}
	return ReceiverRef{Type: ReceiverType(typ), ID: id}, nil
}

// ClientInfo is request/clientInfo.
type ClientInfo struct {
	UserAgent       string
	BrowserName     string
	BrowserVersion  string
	ProtocolVersion string
}

func ParseClientInfo(e *envelope.Envelope) (ClientInfo, error) {
	var ci ClientInfo
	if !e.HasData() {
		return ci, nil
	}
	d, err := e.DataMap()
	if err != nil {
		return ci, err
	}
	if ci.UserAgent, _, err = d.OptString("userAgent"); err != nil {
		return ci, err
	}
	if ci.BrowserName, _, err = d.OptString("browserName"); err != nil {
		return ci, err
	}
	if ci.ProtocolVersion, _, err = d.OptString("protocolVersion"); err != nil {
		return ci, err
	}
	// browserVersion arrives as a number from older clients.
	switch v := d["browserVersion"].(type) {
	case nil:
	case string:
		ci.BrowserVersion = v
	case float32:
		ci.BrowserVersion = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		ci.BrowserVersion = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		n, err := d.Int("browserVersion")
		if err != nil {
			return ci, err
		}
		ci.BrowserVersion = strconv.FormatInt(n, 10)
	}
	return ci, nil
}

// Conversations is request/conversations.
type Conversations struct {
	MaxSize int
}

func ParseConversations(e *envelope.Envelope) (Conversations, error) {
	n, _, err := e.Args.OptInt("maxSize")
	if err != nil {
		return Conversations{}, err
	}
	return Conversations{MaxSize: int(n)}, nil
}

// Messages is request/messages.
type Messages struct {
	Receiver ReceiverRef
	RefMsgID string
}

func ParseMessages(e *envelope.Envelope) (Messages, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return Messages{}, err
	}
	ref, _, err := e.Args.OptString("refMsgId")
	if err != nil {
		return Messages{}, err
	}
	return Messages{Receiver: r, RefMsgID: ref}, nil
}

// Avatar is request/avatar.
type Avatar struct {
	Receiver       ReceiverRef
	HighResolution bool
}

func ParseAvatar(e *envelope.Envelope) (Avatar, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return Avatar{}, err
	}
	hi, _, err := e.Args.OptBool("highResolution")
	if err != nil {
		return Avatar{}, err
	}
	return Avatar{Receiver: r, HighResolution: hi}, nil
}

// MessageRef addresses one message of a conversation; used by thumbnail,
// blob, read and delete requests.
type MessageRef struct {
	Receiver  ReceiverRef
	MessageID string
}

func ParseMessageRef(e *envelope.Envelope) (MessageRef, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return MessageRef{}, err
	}
	id, err := e.Args.String("messageId")
	if err != nil {
		return MessageRef{}, err
	}
	return MessageRef{Receiver: r, MessageID: id}, nil
}

// ContactDetailRequest is request/contactDetail.
type ContactDetailRequest struct {
	Identity string
}

func ParseContactDetail(e *envelope.Envelope) (ContactDetailRequest, error) {
	id, err := e.Args.String("identity")
	return ContactDetailRequest{Identity: id}, err
}

// AckRequest is request/ack.
type AckRequest struct {
	MessageRef
	Acknowledged bool
}

func ParseAck(e *envelope.Envelope) (AckRequest, error) {
	ref, err := ParseMessageRef(e)
	if err != nil {
		return AckRequest{}, err
	}
	ack, err := e.Args.Bool("acknowledged")
	if err != nil {
		return AckRequest{}, err
	}
	return AckRequest{MessageRef: ref, Acknowledged: ack}, nil
}

// GroupRef addresses a group by id; used by groupSync and delete/group.
type GroupRef struct {
	ID         string
	DeleteType string
}

func ParseGroupRef(e *envelope.Envelope) (GroupRef, error) {
	id, err := e.Args.String("id")
	if err != nil {
		return GroupRef{}, err
	}
	dt, _, err := e.Args.OptString("deleteType")
	if err != nil {
		return GroupRef{}, err
	}
	return GroupRef{ID: id, DeleteType: dt}, nil
}

// CreateContact is create/contact.
type CreateContact struct {
	Identity string
}

func ParseCreateContact(e *envelope.Envelope) (CreateContact, error) {
	d, err := e.DataMap()
	if err != nil {
		return CreateContact{}, err
	}
	id, err := d.String("identity")
	return CreateContact{Identity: id}, err
}

// OptionalBytes distinguishes a field that was not sent from one sent as nil.
type OptionalBytes struct {
	Set   bool
	Value []byte
}

func optionalBytes(d envelope.Args, key string) (OptionalBytes, error) {
	if !d.Has(key) {
		return OptionalBytes{}, nil
	}
	if d.IsNil(key) {
		return OptionalBytes{Set: true}, nil
	}
	b, err := d.Bytes(key)
	if err != nil {
		return OptionalBytes{}, err
	}
	return OptionalBytes{Set: true, Value: b}, nil
}

// OptionalString distinguishes a field that was not sent from one that was.
type OptionalString struct {
	Set   bool
	Value string
}

func optionalString(d envelope.Args, key string) (OptionalString, error) {
	s, ok, err := d.OptString(key)
	if err != nil {
		return OptionalString{}, err
	}
	return OptionalString{Set: ok || d.IsNil(key), Value: s}, nil
}

// CreateGroup is create/group.
type CreateGroup struct {
	Members []string
	Name    OptionalString
	Avatar  OptionalBytes
}

func ParseCreateGroup(e *envelope.Envelope) (CreateGroup, error) {
	d, err := e.DataMap()
	if err != nil {
		return CreateGroup{}, err
	}
	var g CreateGroup
	if g.Members, err = d.Strings("members"); err != nil {
		return g, err
	}
	if g.Name, err = optionalString(d, "name"); err != nil {
		return g, err
	}
	if g.Avatar, err = optionalBytes(d, "avatar"); err != nil {
		return g, err
	}
	return g, nil
}

// TextMessage is create/textMessage.
type TextMessage struct {
	Receiver ReceiverRef
	Text     string
	Quote    *Quote
}

func ParseTextMessage(e *envelope.Envelope) (TextMessage, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return TextMessage{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return TextMessage{}, err
	}
	text, err := d.String("text")
	if err != nil {
		return TextMessage{}, err
	}
	tm := TextMessage{Receiver: r, Text: text}
	q, ok, err := d.Map("quote")
	if err != nil {
		return TextMessage{}, err
	}
	if ok {
		identity, err := q.String("identity")
		if err != nil {
			return TextMessage{}, err
		}
		qtext, err := q.String("text")
		if err != nil {
			return TextMessage{}, err
		}
		tm.Quote = &Quote{Identity: identity, Text: qtext}
	}
	return tm, nil
}

// FileMessage is create/fileMessage.
type FileMessage struct {
	Receiver   ReceiverRef
	Name       string
	FileType   string
	Size       int64
	Data       []byte
	Caption    string
	SendAsFile bool
}

func ParseFileMessage(e *envelope.Envelope) (FileMessage, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return FileMessage{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return FileMessage{}, err
	}
	fm := FileMessage{Receiver: r}
	if fm.Name, err = d.String("name"); err != nil {
		return fm, err
	}
	if fm.FileType, err = d.String("fileType"); err != nil {
		return fm, err
	}
	if fm.Data, err = d.Bytes("data"); err != nil {
		return fm, err
	}
	size, ok, err := d.OptInt("size")
	if err != nil {
		return fm, err
	}
	fm.Size = int64(len(fm.Data))
	if ok {
		fm.Size = size
	}
	if fm.Caption, _, err = d.OptString("caption"); err != nil {
		return fm, err
	}
	if fm.SendAsFile, _, err = d.OptBool("sendAsFile"); err != nil {
		return fm, err
	}
	return fm, nil
}

func ParseConnectionInfo(e *envelope.Envelope) (ConnectionInfo, error) {
	var ci ConnectionInfo
	if err := e.DecodeData(&ci); err != nil {
		return ci, err
	}
	if len(ci.ID) == 0 {
		return ci, &envelope.FieldError{Field: "id", Missing: true}
	}
	return ci, nil
}

// UpdateContact is update/contact.
type UpdateContact struct {
	Identity  string
	FirstName OptionalString
	LastName  OptionalString
	Avatar    OptionalBytes
}

func ParseUpdateContact(e *envelope.Envelope) (UpdateContact, error) {
	id, err := e.Args.String("identity")
	if err != nil {
		return UpdateContact{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return UpdateContact{}, err
	}
	uc := UpdateContact{Identity: id}
	if uc.FirstName, err = optionalString(d, "firstName"); err != nil {
		return uc, err
	}
	if uc.LastName, err = optionalString(d, "lastName"); err != nil {
		return uc, err
	}
	if uc.Avatar, err = optionalBytes(d, "avatar"); err != nil {
		return uc, err
	}
	return uc, nil
}

// UpdateProfile is update/profile.
type UpdateProfile struct {
	PublicNickname OptionalString
	Avatar         OptionalBytes
}

func ParseUpdateProfile(e *envelope.Envelope) (UpdateProfile, error) {
	d, err := e.DataMap()
	if err != nil {
		return UpdateProfile{}, err
	}
	var up UpdateProfile
	if up.PublicNickname, err = optionalString(d, "publicNickname"); err != nil {
		return up, err
	}
	if up.Avatar, err = optionalBytes(d, "avatar"); err != nil {
		return up, err
	}
	return up, nil
}

// UpdateGroup is update/group.
type UpdateGroup struct {
	ID      string
	Members []string
	Name    OptionalString
	Avatar  OptionalBytes
}

func ParseUpdateGroup(e *envelope.Envelope) (UpdateGroup, error) {
	id, err := e.Args.String("id")
	if err != nil {
		return UpdateGroup{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return UpdateGroup{}, err
	}
	ug := UpdateGroup{ID: id}
	if ug.Members, err = d.Strings("members"); err != nil {
		return ug, err
	}
	if ug.Name, err = optionalString(d, "name"); err != nil {
		return ug, err
	}
	if ug.Avatar, err = optionalBytes(d, "avatar"); err != nil {
		return ug, err
	}
	return ug, nil
}

// TypingUpdate is update/typing.
type TypingUpdate struct {
	Identity string
	IsTyping bool
}

func ParseTyping(e *envelope.Envelope) (TypingUpdate, error) {
	id, err := e.Args.String("id")
	if err != nil {
		return TypingUpdate{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return TypingUpdate{}, err
	}
	typing, err := d.Bool("isTyping")
	return TypingUpdate{Identity: id, IsTyping: typing}, err
}

// UpdateConversation is update/conversation.
type UpdateConversation struct {
	Receiver   ReceiverRef
	IsStarred  *bool
	IsArchived *bool
}

func ParseUpdateConversation(e *envelope.Envelope) (UpdateConversation, error) {
	r, err := parseReceiver(e.Args)
	if err != nil {
		return UpdateConversation{}, err
	}
	d, err := e.DataMap()
	if err != nil {
		return UpdateConversation{}, err
	}
	uc := UpdateConversation{Receiver: r}
	if v, ok, err := d.OptBool("isStarred"); err != nil {
		return uc, err
	} else if ok {
		uc.IsStarred = &v
	}
	if v, ok, err := d.OptBool("isArchived"); err != nil {
		return uc, err
	} else if ok {
		uc.IsArchived = &v
	}
	return uc, nil
}

// Disconnect reasons sent with update/connectionDisconnect.
const (
	DisconnectStop    = "stop"
	DisconnectDelete  = "delete"
	DisconnectDisable = "disable"
	DisconnectReplace = "replace"
)

// ConnectionDisconnect is update/connectionDisconnect.
type ConnectionDisconnect struct {
	Reason string
}

func ParseConnectionDisconnect(e *envelope.Envelope) (ConnectionDisconnect, error) {
	if !e.HasData() {
		return ConnectionDisconnect{Reason: DisconnectStop}, nil
	}
	d, err := e.DataMap()
	if err != nil {
		return ConnectionDisconnect{}, err
	}
	reason, ok, err := d.OptString("reason")
	if err != nil {
		return ConnectionDisconnect{}, err
	}
	if !ok {
		reason = DisconnectStop
	}
	return ConnectionDisconnect{Reason: reason}, nil
}

func ParseConnectionAck(e *envelope.Envelope) (ConnectionAck, error) {
	d, err := e.DataMap()
	if err != nil {
		return ConnectionAck{}, err
	}
	n, err := d.Int("sequenceNumber")
	if err != nil {
		return ConnectionAck{}, err
	}
	if n < 0 || n > 1<<32-1 {
		return ConnectionAck{}, &envelope.FieldError{Field: "sequenceNumber", Want: "uint32"}
	}
	return ConnectionAck{SequenceNumber: uint32(n)}, nil
}

// ParseReceiver parses the type and id args shared by several requests.
func ParseReceiver(e *envelope.Envelope) (ReceiverRef, error) {
	return parseReceiver(e.Args)
}
