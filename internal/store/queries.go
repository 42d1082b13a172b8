package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/wbridge/internal/domain"
)

// queries implements domain.Reader over a querier.
type queries struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Profile returns the local user's profile.
func (s queries) Profile() (*domain.Profile, error) {
	var p domain.Profile
	err := s.q.QueryRow(`SELECT identity, public_key, public_nickname, avatar, is_work FROM profile WHERE id = 1`).
		Scan(&p.Identity, &p.PublicKey, &p.PublicNickname, &p.Avatar, &p.IsWork)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

const contactColumns = `identity, public_key, first_name, last_name, public_nickname,
	verification_level, state, feature_mask, is_work, avatar`

func scanContact(row scanner) (*domain.Contact, error) {
	var c domain.Contact
	err := row.Scan(&c.Identity, &c.PublicKey, &c.FirstName, &c.LastName, &c.PublicNickname,
		&c.VerificationLevel, &c.State, &c.FeatureMask, &c.IsWork, &c.Avatar)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Contact returns a contact by identity.
func (s queries) Contact(identity string) (*domain.Contact, error) {
	c, err := scanContact(s.q.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE identity = ?`, identity))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// Contacts returns all contacts ordered by identity.
func (s queries) Contacts() ([]domain.Contact, error) {
	rows, err := s.q.Query(`SELECT ` + contactColumns + ` FROM contacts ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s queries) groupMembers(id string) ([]string, error) {
	rows, err := s.q.Query(`SELECT identity FROM group_members WHERE group_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const groupColumns = `id, creator, name, my_identity, did_leave, avatar`

func scanGroup(row scanner) (*domain.Group, error) {
	var g domain.Group
	if err := row.Scan(&g.ID, &g.Creator, &g.Name, &g.MyIdentity, &g.DidLeave, &g.Avatar); err != nil {
		return nil, err
	}
	return &g, nil
}

// Group returns a group with its members.
func (s queries) Group(id string) (*domain.Group, error) {
	g, err := scanGroup(s.q.QueryRow(`SELECT `+groupColumns+` FROM groups WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	if g.Members, err = s.groupMembers(id); err != nil {
		return nil, fmt.Errorf("group members: %w", err)
	}
	return g, nil
}

// Groups returns all groups with their members, ordered by id.
func (s queries) Groups() ([]domain.Group, error) {
	rows, err := s.q.Query(`SELECT ` + groupColumns + ` FROM groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	var out []domain.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, *g)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	// Members are loaded after the cursor is closed; a transaction has a single connection.
	for i := range out {
		if out[i].Members, err = s.groupMembers(out[i].ID); err != nil {
			return nil, fmt.Errorf("group members: %w", err)
		}
	}
	return out, nil
}

// GroupCountOfMember returns the number of groups identity belongs to.
func (s queries) GroupCountOfMember(identity string) (int, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM group_members WHERE identity = ?`, identity).Scan(&n)
	return n, err
}

// IsBlocked reports whether identity is on the blocklist.
func (s queries) IsBlocked(identity string) (bool, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM blocked WHERE identity = ?`, identity).Scan(&n)
	return n > 0, err
}

// Blocked returns the blocklist ordered by identity.
func (s queries) Blocked() ([]string, error) {
	rows, err := s.q.Query(`SELECT identity FROM blocked ORDER BY identity`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const conversationColumns = `id, COALESCE(contact_identity, ''), COALESCE(group_id, ''), pinned, archived,
	unread_count, last_update, push_muted, push_dnd, push_until, push_mention_only`

func scanConversation(row scanner) (*domain.Conversation, error) {
	var (
		c          domain.Conversation
		lastUpdate int64
		until      int64
		dnd        string
	)
	err := row.Scan(&c.ID, &c.ContactIdentity, &c.GroupID, &c.Pinned, &c.Archived,
		&c.UnreadCount, &lastUpdate, &c.Push.Muted, &dnd, &until, &c.Push.MentionOnly)
	if err != nil {
		return nil, err
	}
	c.LastUpdate = fromMillis(lastUpdate)
	c.Push.DND = domain.DNDMode(dnd)
	c.Push.Until = fromMillis(until)
	return &c, nil
}

func (s queries) conversationWhere(where string, arg any) (*domain.Conversation, error) {
	c, err := scanConversation(s.q.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE `+where, arg))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ConversationByIdentity returns the single conversation with identity.
func (s queries) ConversationByIdentity(identity string) (*domain.Conversation, error) {
	return s.conversationWhere(`contact_identity = ?`, identity)
}

// ConversationByGroupID returns the conversation of a group.
func (s queries) ConversationByGroupID(groupID string) (*domain.Conversation, error) {
	return s.conversationWhere(`group_id = ?`, groupID)
}

// Conversation returns a conversation by its row id.
func (s queries) Conversation(id int64) (*domain.Conversation, error) {
	return s.conversationWhere(`id = ?`, id)
}

// ConversationsSorted returns every conversation, pinned first, then most
// recently updated.
func (s queries) ConversationsSorted() ([]domain.Conversation, error) {
	rows, err := s.q.Query(`SELECT ` + conversationColumns + ` FROM conversations
		ORDER BY pinned DESC, last_update DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages in a conversation.
func (s queries) CountMessages(conversationID int64) (int, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

const messageColumns = `seq, id, conversation_id, sender, is_own, type, body, caption,
	file_name, file_type, file_size, thumbnail, thumbnail_width, thumbnail_height, blob,
	state, read, date, sent_at, delivered_at, read_at, ack_at, edited_at`

// timelineOrder is newest first; seq breaks ties between equal dates.
const timelineOrder = ` ORDER BY date DESC, seq DESC`

func scanMessage(row scanner) (*domain.Message, error) {
	var (
		m                                       domain.Message
		typ, state                              string
		date, sent, delivered, read, ack, edits int64
	)
	err := row.Scan(&m.SortKey, &m.ID, &m.ConversationID, &m.Sender, &m.IsOwn, &typ, &m.Body, &m.Caption,
		&m.FileName, &m.FileType, &m.FileSize, &m.Thumbnail, &m.ThumbnailWidth, &m.ThumbnailHeight, &m.Blob,
		&state, &m.Read, &date, &sent, &delivered, &read, &ack, &edits)
	if err != nil {
		return nil, err
	}
	m.Type = domain.MessageType(typ)
	m.State = domain.MessageState(state)
	m.Date = fromMillis(date)
	m.SentAt = fromMillis(sent)
	m.DeliveredAt = fromMillis(delivered)
	m.ReadAt = fromMillis(read)
	m.AckAt = fromMillis(ack)
	m.EditedAt = fromMillis(edits)
	return &m, nil
}

func (s queries) messages(query string, args ...any) ([]domain.Message, error) {
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MessagesInConversation returns up to count messages of the newest-first
// timeline, skipping offset.
func (s queries) MessagesInConversation(conversationID int64, offset, count int) ([]domain.Message, error) {
	if count <= 0 || offset < 0 {
		return nil, nil
	}
	return s.messages(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`+timelineOrder+` LIMIT ? OFFSET ?`,
		conversationID, count, offset)
}

// LatestMessage returns the newest message of a conversation.
func (s queries) LatestMessage(conversationID int64) (*domain.Message, error) {
	m, err := scanMessage(s.q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`+timelineOrder+` LIMIT 1`, conversationID))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// Message returns a message by id.
func (s queries) Message(id string) (*domain.Message, error) {
	m, err := scanMessage(s.q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

// UnreadMessages returns the unread incoming messages of a conversation, oldest first.
func (s queries) UnreadMessages(conversationID int64) ([]domain.Message, error) {
	return s.messages(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND is_own = 0 AND read = 0
		ORDER BY date ASC, seq ASC`, conversationID)
}
