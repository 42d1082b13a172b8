package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/projection"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

func newMessageID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (h *Handler) createContact(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.CreateContact) (Result, error) {
	if h.Policy.Restrictions().DisableCreateContact {
		return Result{}, domain.ErrDisabledByPolicy
	}
	identity := strings.ToUpper(strings.TrimSpace(req.Identity))
	if !identityPattern.MatchString(identity) || identity == h.Self {
		return Result{}, fail(envelope.CodeInvalidIdentity, "identity %q", req.Identity)
	}

	var contact *domain.Contact
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		c, err := tx.Contact(identity)
		if err == nil {
			contact = c
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		contact = &domain.Contact{Identity: identity, State: domain.StateActive}
		return tx.SaveContact(contact)
	})
	if err != nil {
		return Result{}, err
	}
	wc, err := h.proj.Contact(contact)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: envelope.New(envelope.TypeCreate, protocol.SubContact).
		WithAck(env.ID).
		WithData(protocol.ReceiverPayload{Receiver: wc})}, nil
}

// members normalizes a requested member list: duplicates and the local
// identity are dropped, every other member must be a valid known contact.
func (h *Handler) members(r domain.Reader, requested []string) ([]string, error) {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, id := range requested {
		if id == h.Self || seen[id] {
			continue
		}
		seen[id] = true
		c, err := r.Contact(id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fail(envelope.CodeInvalidContact, "member %s", id)
		}
		if err != nil {
			return nil, err
		}
		if c.State == domain.StateInvalid {
			return nil, fail(envelope.CodeInvalidContact, "member %s is invalid", id)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fail(envelope.CodeBadRequest, "noMembers")
	}
	if len(out)+1 > protocol.MaxGroupMembers {
		return nil, fail(envelope.CodeBadRequest, "too many members: %d", len(out))
	}
	return out, nil
}

func (h *Handler) createGroup(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.CreateGroup) (Result, error) {
	if h.Policy.Restrictions().DisableCreateGroup {
		return Result{}, domain.ErrDisabledByPolicy
	}
	if len(req.Name.Value) > protocol.MaxGroupNameBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "group name is %d bytes", len(req.Name.Value))
	}

	g := &domain.Group{Creator: h.Self, MyIdentity: h.Self, Name: req.Name.Value, Avatar: req.Avatar.Value}
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		members, err := h.members(tx, req.Members)
		if err != nil {
			return err
		}
		g.Members = members
		if err := tx.SaveGroup(g); err != nil {
			return err
		}
		return tx.SaveConversation(&domain.Conversation{GroupID: g.ID, LastUpdate: time.Now()})
	})
	if err != nil {
		return Result{}, err
	}
	if err := h.Messenger.SendGroupCreate(ctx, g.ID); err != nil {
		return Result{}, fmt.Errorf("send group create: %w", err)
	}
	wg, err := h.proj.Group(g)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: envelope.New(envelope.TypeCreate, protocol.SubGroup).
		WithAck(env.ID).
		WithData(protocol.ReceiverPayload{Receiver: wg})}, nil
}

// checkSend resolves the conversation of ref for an outgoing message and asks
// the policy whether it may be sent.
func (h *Handler) checkSend(ref protocol.ReceiverRef) error {
	if ref.Type == protocol.ReceiverContact {
		if blocked, err := h.Repo.IsBlocked(ref.ID); err != nil {
			return err
		} else if blocked {
			return domain.ErrBlocked
		}
	}
	conv, err := lookupConversation(h.Repo, ref)
	var he *Error
	if errors.As(err, &he) && he.Code == envelope.CodeInvalidConversation && ref.Type == protocol.ReceiverContact {
		conv = &domain.Conversation{ContactIdentity: ref.ID}
	} else if err != nil {
		return err
	}
	return h.Policy.CanSend(h.Repo, conv)
}

// send stores m as an outgoing message of ref and queues it. The returned
// pending result answers the client once the message left the queue.
func (h *Handler) send(ctx context.Context, env *envelope.Envelope, subType string, ref protocol.ReceiverRef, m *domain.Message) (Result, error) {
	var conv *domain.Conversation
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		var err error
		if conv, err = conversationFor(tx, ref); err != nil {
			return err
		}
		m.ConversationID = conv.ID
		return tx.SaveMessage(m)
	})
	if err != nil {
		return Result{}, err
	}
	delivery, err := h.Messenger.SendMessage(ctx, conv.Receiver(), m.ID)
	if err != nil {
		return Result{}, fmt.Errorf("queue message: %w", err)
	}

	requestID := env.ID
	return Result{Pending: func(ctx context.Context) *envelope.Envelope {
		select {
		case err := <-delivery:
			if err != nil {
				h.Logger.Warn("message not sent", zap.String("message_id", m.ID), zap.Error(err))
				return Failure(requestID, envelope.CodeSendError)
			}
			return envelope.New(envelope.TypeCreate, subType).
				WithAck(requestID).
				WithArgs(receiverArgs(ref)).
				WithData(protocol.CreatedMessage{MessageID: m.ID})
		case <-ctx.Done():
			return nil
		}
	}}, nil
}

func (h *Handler) createTextMessage(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.TextMessage) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, fail(envelope.CodeBadRequest, "empty text")
	}
	if len(req.Text) > protocol.MaxTextBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "text is %d bytes", len(req.Text))
	}
	if err := h.checkSend(req.Receiver); err != nil {
		return Result{}, err
	}
	body := req.Text
	if req.Quote != nil {
		body = projection.FormatQuote(req.Quote.Identity, req.Quote.Text, req.Text)
	}
	now := time.Now()
	m := &domain.Message{
		ID:     newMessageID(),
		Sender: h.Self,
		IsOwn:  true,
		Type:   domain.MessageText,
		Body:   body,
		State:  domain.StateSending,
		Read:   true,
		Date:   now,
	}
	return h.send(ctx, env, protocol.SubTextMessage, req.Receiver, m)
}

func (h *Handler) createFileMessage(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.FileMessage) (Result, error) {
	limit := h.Policy.MaxFileSize()
	if limit > 0 && (req.Size > limit || int64(len(req.Data)) > limit) {
		return Result{}, fail(envelope.CodeFileTooLarge, "file is %d bytes, limit %d", max(req.Size, int64(len(req.Data))), limit)
	}
	if len(req.Caption) > protocol.MaxTextBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "caption is %d bytes", len(req.Caption))
	}
	if err := h.checkSend(req.Receiver); err != nil {
		return Result{}, err
	}
	typ := domain.MessageFile
	if !req.SendAsFile && strings.HasPrefix(req.FileType, "image/") {
		typ = domain.MessageImage
	}
	m := &domain.Message{
		ID:       newMessageID(),
		Sender:   h.Self,
		IsOwn:    true,
		Type:     typ,
		Caption:  req.Caption,
		FileName: req.Name,
		FileType: req.FileType,
		FileSize: int64(len(req.Data)),
		Blob:     req.Data,
		State:    domain.StateSending,
		Read:     true,
		Date:     time.Now(),
	}
	return h.send(ctx, env, protocol.SubFileMessage, req.Receiver, m)
}
