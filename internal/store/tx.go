package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
)

// tx implements domain.Tx. Every mutation records the change event(s) that
// Atomic publishes after commit.
type tx struct {
	queries
	events []bus.Event
	seen   map[eventKey]struct{}
}

type eventKey struct {
	kind    string
	payload any
}

// Emit records an event. Identical events within one transaction are collapsed.
func (t *tx) Emit(kind string, payload any) {
	k := eventKey{kind, payload}
	if t.seen == nil {
		t.seen = make(map[eventKey]struct{})
	}
	if _, ok := t.seen[k]; ok {
		return
	}
	t.seen[k] = struct{}{}
	t.events = append(t.events, bus.NewEvent(kind, payload))
}

func contactRef(identity string) domain.ReceiverRef {
	return domain.ReceiverRef{Receiver: domain.Receiver{Kind: domain.KindContact, ID: identity}}
}

func groupRef(id string) domain.ReceiverRef {
	return domain.ReceiverRef{Receiver: domain.Receiver{Kind: domain.KindGroup, ID: id}}
}

func (t *tx) exists(query string, arg any) (bool, error) {
	var n int
	if err := t.q.QueryRow(query, arg).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *tx) SaveProfile(p *domain.Profile) error {
	_, err := t.q.Exec(`
		INSERT INTO profile (id, identity, public_key, public_nickname, avatar, is_work)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			identity = excluded.identity,
			public_key = excluded.public_key,
			public_nickname = excluded.public_nickname,
			avatar = excluded.avatar,
			is_work = excluded.is_work`,
		p.Identity, p.PublicKey, p.PublicNickname, p.Avatar, p.IsWork)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	t.Emit(domain.EventProfileModified, nil)
	return nil
}

func (t *tx) SaveContact(c *domain.Contact) error {
	existed, err := t.exists(`SELECT COUNT(*) FROM contacts WHERE identity = ?`, c.Identity)
	if err != nil {
		return err
	}
	state := c.State
	if state == "" {
		state = domain.StateActive
	}
	_, err = t.q.Exec(`
		INSERT INTO contacts (identity, public_key, first_name, last_name, public_nickname,
			verification_level, state, feature_mask, is_work, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			public_key = excluded.public_key,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			public_nickname = excluded.public_nickname,
			verification_level = excluded.verification_level,
			state = excluded.state,
			feature_mask = excluded.feature_mask,
			is_work = excluded.is_work,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at`,
		c.Identity, c.PublicKey, c.FirstName, c.LastName, c.PublicNickname,
		c.VerificationLevel, state, c.FeatureMask, c.IsWork, c.Avatar, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save contact: %w", err)
	}
	if existed {
		t.Emit(domain.EventContactModified, contactRef(c.Identity))
	} else {
		t.Emit(domain.EventContactCreated, contactRef(c.Identity))
	}
	return nil
}

func (t *tx) SetContactAvatar(identity string, avatar []byte) error {
	res, err := t.q.Exec(`UPDATE contacts SET avatar = ?, updated_at = ? WHERE identity = ?`,
		avatar, time.Now().UnixMilli(), identity)
	if err != nil {
		return fmt.Errorf("set contact avatar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	t.Emit(domain.EventAvatarModified, contactRef(identity))
	return nil
}

func (t *tx) DeleteContact(identity string) error {
	res, err := t.q.Exec(`DELETE FROM contacts WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	t.Emit(domain.EventContactRemoved, contactRef(identity))
	return nil
}

func (t *tx) SetBlocked(identity string, blocked bool) error {
	var err error
	if blocked {
		_, err = t.q.Exec(`INSERT OR IGNORE INTO blocked (identity) VALUES (?)`, identity)
	} else {
		_, err = t.q.Exec(`DELETE FROM blocked WHERE identity = ?`, identity)
	}
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	t.Emit(domain.EventBlocklistModified, nil)
	return nil
}

// NewGroupID returns a random 8-byte group id in hex.
func NewGroupID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// SaveGroup upserts a group and replaces its member list. A group without an
// id is assigned a fresh one.
func (t *tx) SaveGroup(g *domain.Group) error {
	if g.ID == "" {
		g.ID = NewGroupID()
	}
	existed, err := t.exists(`SELECT COUNT(*) FROM groups WHERE id = ?`, g.ID)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(`
		INSERT INTO groups (id, creator, name, my_identity, did_leave, avatar, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			creator = excluded.creator,
			name = excluded.name,
			my_identity = excluded.my_identity,
			did_leave = excluded.did_leave,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at`,
		g.ID, g.Creator, g.Name, g.MyIdentity, g.DidLeave, g.Avatar, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save group: %w", err)
	}
	if _, err := t.q.Exec(`DELETE FROM group_members WHERE group_id = ?`, g.ID); err != nil {
		return fmt.Errorf("reset group members: %w", err)
	}
	for i, m := range g.Members {
		if _, err := t.q.Exec(`INSERT OR IGNORE INTO group_members (group_id, identity, position) VALUES (?, ?, ?)`,
			g.ID, m, i); err != nil {
			return fmt.Errorf("insert group member: %w", err)
		}
	}
	if existed {
		t.Emit(domain.EventGroupModified, groupRef(g.ID))
	} else {
		t.Emit(domain.EventGroupCreated, groupRef(g.ID))
	}
	return nil
}

func (t *tx) SetGroupAvatar(id string, avatar []byte) error {
	res, err := t.q.Exec(`UPDATE groups SET avatar = ?, updated_at = ? WHERE id = ?`, avatar, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("set group avatar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	t.Emit(domain.EventAvatarModified, groupRef(id))
	return nil
}

func (t *tx) AddGroupMember(groupID, identity string) error {
	_, err := t.q.Exec(`
		INSERT OR IGNORE INTO group_members (group_id, identity, position)
		SELECT ?, ?, COALESCE(MAX(position), -1) + 1 FROM group_members WHERE group_id = ?`,
		groupID, identity, groupID)
	if err != nil {
		return fmt.Errorf("add group member: %w", err)
	}
	t.Emit(domain.EventGroupModified, groupRef(groupID))
	return nil
}

func (t *tx) RemoveGroupMember(groupID, identity string) error {
	if _, err := t.q.Exec(`DELETE FROM group_members WHERE group_id = ? AND identity = ?`, groupID, identity); err != nil {
		return fmt.Errorf("remove group member: %w", err)
	}
	t.Emit(domain.EventGroupModified, groupRef(groupID))
	return nil
}

func (t *tx) DeleteGroup(id string) error {
	res, err := t.q.Exec(`DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	t.Emit(domain.EventGroupRemoved, groupRef(id))
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// SaveConversation inserts a conversation when its ID is zero and updates it
// otherwise. On insert c.ID is set.
func (t *tx) SaveConversation(c *domain.Conversation) error {
	dnd := c.Push.DND
	if dnd == "" {
		dnd = domain.DNDOff
	}
	if c.LastUpdate.IsZero() {
		c.LastUpdate = time.Now()
	}
	ref := domain.ConversationRef{Receiver: c.Receiver()}
	if c.ID == 0 {
		res, err := t.q.Exec(`
			INSERT INTO conversations (contact_identity, group_id, pinned, archived, unread_count,
				last_update, push_muted, push_dnd, push_until, push_mention_only)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			nullable(c.ContactIdentity), nullable(c.GroupID), c.Pinned, c.Archived, c.UnreadCount,
			millis(c.LastUpdate), c.Push.Muted, string(dnd), millis(c.Push.Until), c.Push.MentionOnly)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		ref.ConversationID = c.ID
		t.Emit(domain.EventConversationCreated, ref)
		return nil
	}
	res, err := t.q.Exec(`
		UPDATE conversations SET pinned = ?, archived = ?, unread_count = ?, last_update = ?,
			push_muted = ?, push_dnd = ?, push_until = ?, push_mention_only = ?
		WHERE id = ?`,
		c.Pinned, c.Archived, c.UnreadCount, millis(c.LastUpdate),
		c.Push.Muted, string(dnd), millis(c.Push.Until), c.Push.MentionOnly, c.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	ref.ConversationID = c.ID
	t.Emit(domain.EventConversationModified, ref)
	return nil
}

func (t *tx) DeleteConversation(id int64) error {
	c, err := t.Conversation(id)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	t.Emit(domain.EventConversationRemoved, domain.ConversationRef{ConversationID: id, Receiver: c.Receiver()})
	return nil
}

// SaveMessage upserts a message by id. A new message gets its SortKey and
// advances the conversation's last update.
func (t *tx) SaveMessage(m *domain.Message) error {
	conv, err := t.Conversation(m.ConversationID)
	if err != nil {
		return fmt.Errorf("message conversation: %w", err)
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}
	if m.Type == "" {
		m.Type = domain.MessageText
	}
	existed, err := t.exists(`SELECT COUNT(*) FROM messages WHERE id = ?`, m.ID)
	if err != nil {
		return err
	}
	args := []any{m.Sender, m.IsOwn, string(m.Type), m.Body, m.Caption,
		m.FileName, m.FileType, m.FileSize, m.Thumbnail, m.ThumbnailWidth, m.ThumbnailHeight, m.Blob,
		string(m.State), m.Read, millis(m.Date), millis(m.SentAt), millis(m.DeliveredAt),
		millis(m.ReadAt), millis(m.AckAt), millis(m.EditedAt)}
	ref := domain.MessageRef{MessageID: m.ID, ConversationID: m.ConversationID, Receiver: conv.Receiver()}

	if existed {
		_, err := t.q.Exec(`
			UPDATE messages SET sender = ?, is_own = ?, type = ?, body = ?, caption = ?,
				file_name = ?, file_type = ?, file_size = ?, thumbnail = ?, thumbnail_width = ?,
				thumbnail_height = ?, blob = ?, state = ?, read = ?, date = ?, sent_at = ?,
				delivered_at = ?, read_at = ?, ack_at = ?, edited_at = ?
			WHERE id = ?`, append(args, m.ID)...)
		if err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		t.Emit(domain.EventMessageModified, ref)
		return nil
	}

	res, err := t.q.Exec(`
		INSERT INTO messages (id, conversation_id, sender, is_own, type, body, caption,
			file_name, file_type, file_size, thumbnail, thumbnail_width, thumbnail_height, blob,
			state, read, date, sent_at, delivered_at, read_at, ack_at, edited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append([]any{m.ID, m.ConversationID}, args...)...)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if m.SortKey, err = res.LastInsertId(); err != nil {
		return err
	}
	if m.Date.After(conv.LastUpdate) {
		if _, err := t.q.Exec(`UPDATE conversations SET last_update = ? WHERE id = ?`, millis(m.Date), conv.ID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}
	t.Emit(domain.EventMessageCreated, ref)
	t.Emit(domain.EventConversationModified, domain.ConversationRef{ConversationID: conv.ID, Receiver: conv.Receiver()})
	return nil
}

func (t *tx) DeleteMessage(id string) error {
	m, err := t.Message(id)
	if err != nil {
		return err
	}
	conv, err := t.Conversation(m.ConversationID)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(`DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	t.Emit(domain.EventMessageRemoved, domain.MessageRef{MessageID: id, ConversationID: conv.ID, Receiver: conv.Receiver()})
	t.Emit(domain.EventConversationModified, domain.ConversationRef{ConversationID: conv.ID, Receiver: conv.Receiver()})
	return nil
}

func (t *tx) DeleteMessages(conversationID int64) error {
	conv, err := t.Conversation(conversationID)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := t.q.Exec(`UPDATE conversations SET unread_count = 0 WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	t.Emit(domain.EventConversationModified, domain.ConversationRef{ConversationID: conv.ID, Receiver: conv.Receiver()})
	return nil
}
