// Package projection turns domain entities into the records sent to web
// clients. Projection only reads; the same store state always yields the same
// records.
package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/protocol"
)

// AvatarLimit is how many conversations of a list carry their avatar inline.
const AvatarLimit = 16

// Projector reads from a domain.Reader on behalf of the local identity Self.
type Projector struct {
	r    domain.Reader
	Self string
}

// New creates a projector.
func New(r domain.Reader, self string) *Projector {
	return &Projector{r: r, Self: self}
}

// GroupID returns the wire id of a group. A group without a stored id gets a
// stable id derived from its name; the "~" prefix keeps it apart from real ids.
func GroupID(g *domain.Group) string {
	if g.ID != "" {
		return g.ID
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(g.Name))))
	return "~" + hex.EncodeToString(sum[:])[:16]
}

// Contact projects a contact.
func (p *Projector) Contact(c *domain.Contact) (protocol.Contact, error) {
	blocked, err := p.r.IsBlocked(c.Identity)
	if err != nil {
		return protocol.Contact{}, fmt.Errorf("blocked lookup: %w", err)
	}
	groups, err := p.r.GroupCountOfMember(c.Identity)
	if err != nil {
		return protocol.Contact{}, fmt.Errorf("group count: %w", err)
	}

	level := c.VerificationLevel + 1
	// Work contacts are trusted one level above a plain server match.
	if c.IsWork && level == 1 {
		level = 2
	}
	state := c.State
	if state == "" {
		state = domain.StateActive
	}

	gateway := domain.IsGateway(c.Identity)
	return protocol.Contact{
		ID:                c.Identity,
		DisplayName:       c.DisplayName(),
		FirstName:         c.FirstName,
		LastName:          c.LastName,
		PublicNickname:    c.PublicNickname,
		VerificationLevel: level,
		State:             state,
		FeatureMask:       c.FeatureMask,
		IsWork:            c.IsWork,
		PublicKey:         c.PublicKey,
		IsBlocked:         blocked,
		Color:             protocol.Color,
		Access: protocol.ContactAccess{
			CanDelete:          groups == 0,
			CanChangeAvatar:    !gateway,
			CanChangeFirstName: !gateway,
			CanChangeLastName:  !gateway,
		},
	}, nil
}

// Group projects a group. The local identity is listed first while the group
// has not been left; stored members never include it. Members whose contact
// is invalid are left out.
func (p *Projector) Group(g *domain.Group) (protocol.Group, error) {
	members := make([]string, 0, len(g.Members)+1)
	if !g.DidLeave {
		members = append(members, p.Self)
	}
	for _, m := range g.Members {
		if m == p.Self {
			continue
		}
		c, err := p.r.Contact(m)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return protocol.Group{}, fmt.Errorf("member lookup: %w", err)
		case c.State == domain.StateInvalid:
			continue
		}
		members = append(members, m)
	}

	own := g.IsOwn(p.Self)
	admin := g.Creator
	switch {
	case own:
		admin = p.Self
	case admin == "":
		admin = g.MyIdentity
	}

	return protocol.Group{
		ID:            GroupID(g),
		DisplayName:   g.Name,
		Members:       members,
		Administrator: admin,
		Disabled:      g.DidLeave,
		Color:         protocol.Color,
		Access: protocol.GroupAccess{
			CanDelete:        true,
			CanChangeAvatar:  own,
			CanChangeName:    own,
			CanChangeMembers: own,
			CanLeave:         !own && !g.DidLeave,
			CanSync:          own,
		},
	}, nil
}

// Receivers projects every contact and group.
func (p *Projector) Receivers() (protocol.Receivers, error) {
	out := protocol.Receivers{Contacts: []protocol.Contact{}, Groups: []protocol.Group{}}

	contacts, err := p.r.Contacts()
	if err != nil {
		return out, fmt.Errorf("list contacts: %w", err)
	}
	for i := range contacts {
		wc, err := p.Contact(&contacts[i])
		if err != nil {
			return out, err
		}
		out.Contacts = append(out.Contacts, wc)
	}

	groups, err := p.r.Groups()
	if err != nil {
		return out, fmt.Errorf("list groups: %w", err)
	}
	for i := range groups {
		wg, err := p.Group(&groups[i])
		if err != nil {
			return out, err
		}
		out.Groups = append(out.Groups, wg)
	}
	return out, nil
}

// Receiver projects the contact or group r refers to.
func (p *Projector) Receiver(r domain.Receiver) (any, error) {
	if r.Kind == domain.KindGroup {
		g, err := p.r.Group(r.ID)
		if err != nil {
			return nil, err
		}
		return p.Group(g)
	}
	c, err := p.r.Contact(r.ID)
	if err != nil {
		return nil, err
	}
	return p.Contact(c)
}

// Avatar returns the stored avatar of a receiver, nil when it has none.
func (p *Projector) Avatar(r domain.Receiver) ([]byte, error) {
	if r.Kind == domain.KindGroup {
		g, err := p.r.Group(r.ID)
		if err != nil {
			return nil, err
		}
		return g.Avatar, nil
	}
	c, err := p.r.Contact(r.ID)
	if err != nil {
		return nil, err
	}
	return c.Avatar, nil
}

// NotificationSettings projects push settings.
func NotificationSettings(s domain.PushSetting) protocol.NotificationSettings {
	ns := protocol.NotificationSettings{
		Sound: protocol.SoundSettings{Mode: protocol.SoundDefault},
		DND:   protocol.DNDSettings{Mode: protocol.DNDOff, MentionOnly: s.MentionOnly},
	}
	if s.Muted {
		ns.Sound.Mode = protocol.SoundMuted
	}
	switch s.DND {
	case domain.DNDOn:
		ns.DND.Mode = protocol.DNDOn
	case domain.DNDUntil:
		ns.DND.Mode = protocol.DNDUntil
		if !s.Until.IsZero() {
			ns.DND.Until = s.Until.Unix()
		}
	}
	return ns
}

// Conversations projects the conversation list: unarchived conversations
// first, then archived ones. Conversations whose partner no longer exists are
// skipped and do not take a position.
func (p *Projector) Conversations() ([]protocol.Conversation, error) {
	convs, err := p.r.ConversationsSorted()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	ordered := make([]domain.Conversation, 0, len(convs))
	for _, c := range convs {
		if !c.Archived {
			ordered = append(ordered, c)
		}
	}
	for _, c := range convs {
		if c.Archived {
			ordered = append(ordered, c)
		}
	}

	out := []protocol.Conversation{}
	for i := range ordered {
		wc, err := p.Conversation(&ordered[i], len(out)+1, len(out) < AvatarLimit)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, wc)
	}
	return out, nil
}

// Conversation projects one conversation at position. It returns
// domain.ErrNotFound when the conversation's partner is gone.
func (p *Projector) Conversation(c *domain.Conversation, position int, withAvatar bool) (protocol.Conversation, error) {
	wc := protocol.Conversation{
		ID:            c.Receiver().ID,
		Position:      position,
		UnreadCount:   max(0, c.UnreadCount),
		Notifications: NotificationSettings(c.Push),
		IsStarred:     c.Pinned,
		IsUnread:      c.UnreadCount == domain.UnreadMarker,
		IsArchived:    c.Archived,
	}

	var avatar []byte
	if c.IsGroup() {
		g, err := p.r.Group(c.GroupID)
		if err != nil {
			return wc, err
		}
		wg, err := p.Group(g)
		if err != nil {
			return wc, err
		}
		wc.Type, wc.ID, wc.Receiver, avatar = protocol.ReceiverGroup, wg.ID, wg, g.Avatar
	} else {
		ct, err := p.r.Contact(c.ContactIdentity)
		if err != nil {
			return wc, err
		}
		rc, err := p.Contact(ct)
		if err != nil {
			return wc, err
		}
		wc.Type, wc.Receiver, avatar = protocol.ReceiverContact, rc, ct.Avatar
	}
	if withAvatar {
		wc.Avatar = avatar
	}

	n, err := p.r.CountMessages(c.ID)
	if err != nil {
		return wc, fmt.Errorf("count messages: %w", err)
	}
	wc.MessageCount = n

	latest, err := p.r.LatestMessage(c.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return wc, fmt.Errorf("latest message: %w", err)
	default:
		wm := p.message(latest, c, false)
		wc.LatestMessage = &wm
	}
	return wc, nil
}

// Message projects a message of conv, thumbnail preview included.
func (p *Projector) Message(m *domain.Message, conv *domain.Conversation) protocol.Message {
	return p.message(m, conv, true)
}

// Messages projects messages in the order given.
func (p *Projector) Messages(ms []domain.Message, conv *domain.Conversation) []protocol.Message {
	out := make([]protocol.Message, 0, len(ms))
	for i := range ms {
		out = append(out, p.message(&ms[i], conv, true))
	}
	return out
}

func wireState(s domain.MessageState) string {
	switch s {
	case domain.StateReceived:
		return string(domain.StateSent)
	case "":
		return ""
	}
	return string(s)
}

func (p *Projector) message(m *domain.Message, conv *domain.Conversation, preview bool) protocol.Message {
	wm := protocol.Message{
		Type:     string(m.Type),
		ID:       m.ID,
		Date:     m.Date.Unix(),
		SortKey:  m.SortKey,
		IsOutbox: m.IsOwn,
		IsStatus: m.Type == domain.MessageStatus,
		Unread:   !m.Read && !m.IsOwn,
		State:    wireState(m.State),
	}
	switch {
	case m.IsOwn:
		wm.PartnerID = p.Self
	case m.Sender != "":
		wm.PartnerID = m.Sender
	case conv != nil && !conv.IsGroup():
		wm.PartnerID = conv.ContactIdentity
	}
	if !m.EditedAt.IsZero() {
		wm.LastEditedAt = m.EditedAt.Unix()
	}

	switch m.Type {
	case domain.MessageText, domain.MessageStatus, "":
		wm.StatusType = "text"
		wm.Body = m.Body
		if identity, text, rest, ok := ParseQuote(m.Body); ok {
			wm.Quote = &protocol.Quote{Identity: identity, Text: text}
			wm.Body = rest
		}
	case domain.MessageFile, domain.MessageImage:
		wm.Caption = m.Caption
		wm.File = &protocol.File{Name: m.FileName, Size: m.FileSize, Type: m.FileType}
	}
	if len(m.Thumbnail) > 0 || m.ThumbnailWidth > 0 {
		wm.Thumbnail = &protocol.Thumbnail{Height: m.ThumbnailHeight, Width: m.ThumbnailWidth}
		if preview {
			wm.Thumbnail.Preview = m.Thumbnail
		}
	}
	wm.Events = events(m)
	return wm
}

func events(m *domain.Message) []protocol.MessageEvent {
	var evs []protocol.MessageEvent
	add := func(typ string, at time.Time) {
		if !at.IsZero() {
			evs = append(evs, protocol.MessageEvent{Type: typ, Date: at.Unix()})
		}
	}
	sent := m.Date
	if m.IsOwn {
		sent = m.SentAt
	}
	add("sent", sent)
	add("delivered", m.DeliveredAt)
	add("read", m.ReadAt)
	if !m.IsOwn {
		add("acked", m.AckAt)
	}
	return evs
}

// Profile projects the local profile.
func Profile(pr *domain.Profile) protocol.Profile {
	return protocol.Profile{
		Identity:       pr.Identity,
		PublicKey:      pr.PublicKey,
		PublicNickname: pr.PublicNickname,
		Avatar:         pr.Avatar,
	}
}

// ContactDetail projects the detail view of a contact.
func (p *Projector) ContactDetail(c *domain.Contact) (protocol.ContactDetail, error) {
	wc, err := p.Contact(c)
	if err != nil {
		return protocol.ContactDetail{}, err
	}
	return protocol.ContactDetail{Receiver: wc}, nil
}
