// Package outbox queues outgoing traffic in the store and drains it to the
// upstream chat network. Handlers see it as a domain.Messenger.
package outbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/store"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Item kinds.
const (
	KindMessage      = "message"
	KindTyping       = "typing"
	KindGroupCreate  = "group-create"
	KindGroupRename  = "group-rename"
	KindGroupPhoto   = "group-photo"
	KindGroupMembers = "group-members"
	KindGroupLeave   = "group-leave"
	KindGroupSync    = "group-sync"
	KindReadReceipts = "read-receipts"
	KindUserAck      = "user-ack"
)

// Payload is the kind-specific part of an item, stored msgpack-encoded.
type Payload struct {
	MessageID    string   `msgpack:"messageId,omitempty"`
	MessageIDs   []string `msgpack:"messageIds,omitempty"`
	Name         string   `msgpack:"name,omitempty"`
	Photo        []byte   `msgpack:"photo,omitempty"`
	Added        []string `msgpack:"added,omitempty"`
	Removed      []string `msgpack:"removed,omitempty"`
	Typing       bool     `msgpack:"typing,omitempty"`
	Acknowledged bool     `msgpack:"acknowledged,omitempty"`
}

// Item is one unit of outgoing traffic.
type Item struct {
	ClientID string
	Kind     string
	Target   domain.Receiver
	Payload
}

func target(r domain.Receiver) string {
	return string(r.Kind) + ":" + r.ID
}

func parseTarget(s string) (domain.Receiver, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return domain.Receiver{}, fmt.Errorf("invalid outbox target %q", s)
	}
	switch domain.Kind(kind) {
	case domain.KindContact, domain.KindGroup:
		return domain.Receiver{Kind: domain.Kind(kind), ID: id}, nil
	}
	return domain.Receiver{}, fmt.Errorf("invalid outbox target kind %q", kind)
}

// Outbox implements domain.Messenger on top of the outbox table.
type Outbox struct {
	db      *store.DB
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan error
	wake    chan struct{}
}

// New creates an outbox.
func New(db *store.DB, m *metrics.Metrics, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		db:      db,
		metrics: m,
		logger:  logger,
		waiters: make(map[string]chan error),
		wake:    make(chan struct{}, 1),
	}
}

var _ domain.Messenger = (*Outbox)(nil)

// queue stores an item. With wait set, the returned Delivery resolves when
// the sender is done with it.
func (o *Outbox) queue(kind string, to domain.Receiver, p Payload, wait bool) (domain.Delivery, error) {
	data, err := msgpack.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	e := &store.OutboxEntry{ClientID: uuid.NewString(), Kind: kind, Target: target(to), Payload: data}

	var ch chan error
	if wait {
		ch = make(chan error, 1)
		o.mu.Lock()
		o.waiters[e.ClientID] = ch
		o.mu.Unlock()
	}
	if err := o.db.QueueOutbox(e); err != nil {
		if wait {
			o.mu.Lock()
			delete(o.waiters, e.ClientID)
			o.mu.Unlock()
		}
		return nil, err
	}
	o.metrics.OutboxItem(kind, store.OutboxQueued)
	o.logger.Debug("queued outgoing item", zap.String("kind", kind), zap.String("client_id", e.ClientID), zap.String("target", e.Target))

	select {
	case o.wake <- struct{}{}:
	default:
	}
	return ch, nil
}

// resolve completes the delivery waiting on clientID, if any.
func (o *Outbox) resolve(clientID string, err error) {
	o.mu.Lock()
	ch, ok := o.waiters[clientID]
	delete(o.waiters, clientID)
	o.mu.Unlock()
	if ok {
		ch <- err
	}
}

// Waiting returns the number of unresolved deliveries.
func (o *Outbox) Waiting() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.waiters)
}

func group(id string) domain.Receiver {
	return domain.Receiver{Kind: domain.KindGroup, ID: id}
}

func (o *Outbox) SendMessage(_ context.Context, to domain.Receiver, messageID string) (domain.Delivery, error) {
	return o.queue(KindMessage, to, Payload{MessageID: messageID}, true)
}

func (o *Outbox) SendTyping(_ context.Context, identity string, typing bool) error {
	_, err := o.queue(KindTyping, domain.Receiver{Kind: domain.KindContact, ID: identity}, Payload{Typing: typing}, false)
	return err
}

func (o *Outbox) SendGroupCreate(_ context.Context, groupID string) error {
	_, err := o.queue(KindGroupCreate, group(groupID), Payload{}, false)
	return err
}

func (o *Outbox) SendGroupRename(_ context.Context, groupID, name string) error {
	_, err := o.queue(KindGroupRename, group(groupID), Payload{Name: name}, false)
	return err
}

// SendGroupPhoto queues a group photo; a nil photo removes it.
func (o *Outbox) SendGroupPhoto(_ context.Context, groupID string, photo []byte) (domain.Delivery, error) {
	return o.queue(KindGroupPhoto, group(groupID), Payload{Photo: photo}, true)
}

func (o *Outbox) SendGroupMembers(_ context.Context, groupID string, added, removed []string) error {
	_, err := o.queue(KindGroupMembers, group(groupID), Payload{Added: added, Removed: removed}, false)
	return err
}

func (o *Outbox) SendGroupLeave(_ context.Context, groupID string) error {
	_, err := o.queue(KindGroupLeave, group(groupID), Payload{}, false)
	return err
}

func (o *Outbox) SyncGroup(_ context.Context, groupID string) error {
	_, err := o.queue(KindGroupSync, group(groupID), Payload{}, false)
	return err
}

func (o *Outbox) SendReadReceipts(_ context.Context, to domain.Receiver, messageIDs []string) error {
	_, err := o.queue(KindReadReceipts, to, Payload{MessageIDs: messageIDs}, false)
	return err
}

func (o *Outbox) SendUserAck(_ context.Context, to domain.Receiver, messageID string, acknowledged bool) error {
	_, err := o.queue(KindUserAck, to, Payload{MessageID: messageID, Acknowledged: acknowledged}, false)
	return err
}
