// Package notifier pushes committed domain changes to every ready session.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/projection"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

// Notifier subscribes to "domain." events on the bus and turns each one into
// an unsolicited update. Events are handled one at a time in publish order.
type Notifier struct {
	repo     domain.Reader
	registry *bridge.Registry
	bus      *bus.Bus
	proj     *projection.Projector
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a notifier.
func New(repo domain.Reader, registry *bridge.Registry, b *bus.Bus, self string, m *metrics.Metrics, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		repo:     repo,
		registry: registry,
		bus:      b,
		proj:     projection.New(repo, self),
		metrics:  m,
		logger:   logger,
	}
}

// Start subscribes to domain events.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	ch, unsub := n.bus.SubscribeQueued(domain.EventNamespace)

	go func() {
		defer close(n.done)
		defer unsub()
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return
				}
				n.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the notifier and waits for the event in flight.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}
}

func (n *Notifier) handleEvent(evt bus.Event) {
	sessions := n.registry.Ready()
	if len(sessions) == 0 {
		return
	}
	var err error
	switch p := evt.Payload.(type) {
	case domain.MessageRef:
		err = n.message(sessions, evt.Kind, p)
	case domain.ConversationRef:
		err = n.conversation(sessions, evt.Kind, p)
	case domain.ReceiverRef:
		if evt.Kind == domain.EventAvatarModified {
			err = n.avatar(sessions, p.Receiver)
		} else {
			err = n.receiver(sessions, evt.Kind, p.Receiver)
		}
	case domain.TypingChange:
		n.push(sessions, envelope.NewUpdate(protocol.SubTyping).
			WithArgs(envelope.Args{"identity": p.Identity}).
			WithData(protocol.Typing{IsTyping: p.Typing}))
	default:
		switch evt.Kind {
		case domain.EventProfileModified:
			err = n.profile(sessions)
		case domain.EventBlocklistModified:
			err = n.blocked(sessions)
		}
	}
	if err != nil {
		n.logger.Error("failed to project event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

// mode derives the update mode from the event kind suffix.
func mode(kind string) protocol.Mode {
	switch {
	case strings.HasSuffix(kind, ".created"):
		return protocol.ModeNew
	case strings.HasSuffix(kind, ".removed"):
		return protocol.ModeRemoved
	}
	return protocol.ModeModified
}

func wireType(r domain.Receiver) protocol.ReceiverType {
	if r.Kind == domain.KindGroup {
		return protocol.ReceiverGroup
	}
	return protocol.ReceiverContact
}

func receiverArgs(r domain.Receiver, m protocol.Mode) envelope.Args {
	return envelope.Args{"type": string(wireType(r)), "id": r.ID, "mode": string(m)}
}

// message sends update/messages to the sessions that opened the conversation.
func (n *Notifier) message(sessions []*bridge.Session, kind string, ref domain.MessageRef) error {
	key := string(wireType(ref.Receiver)) + ":" + ref.Receiver.ID
	var targets []*bridge.Session
	for _, s := range sessions {
		if s.Requested(key) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	m := mode(kind)
	data := []protocol.Message{{ID: ref.MessageID}}
	if m != protocol.ModeRemoved {
		conv, err := n.repo.Conversation(ref.ConversationID)
		if err != nil {
			return fmt.Errorf("load conversation: %w", err)
		}
		msg, err := n.repo.Message(ref.MessageID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load message: %w", err)
		}
		data = []protocol.Message{n.proj.Message(msg, conv)}
	}
	n.push(targets, envelope.NewUpdate(protocol.SubMessages).
		WithArgs(receiverArgs(ref.Receiver, m)).
		WithData(data))
	return nil
}

// conversation sends update/conversation with the conversation's current
// position in the list.
func (n *Notifier) conversation(sessions []*bridge.Session, kind string, ref domain.ConversationRef) error {
	m := mode(kind)
	wc := protocol.Conversation{Type: wireType(ref.Receiver), ID: ref.Receiver.ID}
	if m != protocol.ModeRemoved {
		convs, err := n.proj.Conversations()
		if err != nil {
			return err
		}
		found := false
		for _, c := range convs {
			if c.Type == wc.Type && (c.ID == wc.ID || n.sameGroup(c, ref.Receiver)) {
				wc, found = c, true
				break
			}
		}
		if !found {
			// Orphaned conversations are not shown to clients.
			return nil
		}
	}
	n.push(sessions, envelope.NewUpdate(protocol.SubConversation).
		WithArgs(envelope.Args{"mode": string(m)}).
		WithData(wc))
	return nil
}

// sameGroup matches a projected group conversation whose wire id was derived
// from the group name.
func (n *Notifier) sameGroup(c protocol.Conversation, r domain.Receiver) bool {
	if r.Kind != domain.KindGroup {
		return false
	}
	g, err := n.repo.Group(r.ID)
	if err != nil {
		return false
	}
	return projection.GroupID(g) == c.ID
}

// receiver sends update/receiver for a contact or group change.
func (n *Notifier) receiver(sessions []*bridge.Session, kind string, r domain.Receiver) error {
	m := mode(kind)
	env := envelope.NewUpdate(protocol.SubReceiver).WithArgs(receiverArgs(r, m))
	if m != protocol.ModeRemoved {
		rec, err := n.proj.Receiver(r)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("project receiver: %w", err)
		}
		env.WithData(rec)
	}
	n.push(sessions, env)
	return nil
}

func (n *Notifier) avatar(sessions []*bridge.Session, r domain.Receiver) error {
	avatar, err := n.proj.Avatar(r)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load avatar: %w", err)
	}
	env := envelope.NewUpdate(protocol.SubAvatar).
		WithArgs(envelope.Args{"type": string(wireType(r)), "id": r.ID})
	if avatar != nil {
		env.WithData(avatar)
	}
	n.push(sessions, env)
	return nil
}

func (n *Notifier) profile(sessions []*bridge.Session) error {
	p, err := n.repo.Profile()
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	n.push(sessions, envelope.NewUpdate(protocol.SubProfile).WithData(projection.Profile(p)))
	return nil
}

func (n *Notifier) blocked(sessions []*bridge.Session) error {
	ids, err := n.repo.Blocked()
	if err != nil {
		return fmt.Errorf("load blocklist: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	n.push(sessions, envelope.NewUpdate(protocol.SubBlocked).WithData(ids))
	return nil
}

func (n *Notifier) push(sessions []*bridge.Session, env *envelope.Envelope) {
	for _, s := range sessions {
		if err := s.Send(s.Context(), env); err != nil {
			s.Logger().Warn("failed to push update", zap.String("sub_type", env.SubType), zap.Error(err))
			continue
		}
		n.metrics.FrameSent(string(env.Type), env.SubType)
	}
}
