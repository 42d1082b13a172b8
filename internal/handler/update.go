package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/projection"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

func (h *Handler) connectionInfo(ctx context.Context, s *bridge.Session, env *envelope.Envelope, ci protocol.ConnectionInfo) (Result, error) {
	res, err := s.ConnectionInfo(ctx, ci)
	if err != nil {
		return Result{}, fmt.Errorf("apply connection info: %w", err)
	}
	s.Logger().Info("client connection info",
		zap.Bool("resume_requested", res.Requested),
		zap.Bool("resumed", res.Resumed),
		zap.Int("retransmitted", res.Retransmitted),
		zap.String("state", string(s.State())),
	)
	return confirm(env), nil
}

func (h *Handler) updateContact(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.UpdateContact) (Result, error) {
	if domain.IsGateway(req.Identity) {
		return Result{}, fail(envelope.CodeNotAllowed, "gateway contact %s", req.Identity)
	}
	if len(req.FirstName.Value) > protocol.MaxNameBytes || len(req.LastName.Value) > protocol.MaxNameBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "contact name too long")
	}

	var contact *domain.Contact
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		c, err := tx.Contact(req.Identity)
		if errors.Is(err, domain.ErrNotFound) {
			return fail(envelope.CodeInvalidContact, "contact %s", req.Identity)
		}
		if err != nil {
			return err
		}
		if req.FirstName.Set {
			c.FirstName = req.FirstName.Value
		}
		if req.LastName.Set {
			c.LastName = req.LastName.Value
		}
		if err := tx.SaveContact(c); err != nil {
			return err
		}
		if req.Avatar.Set {
			if err := tx.SetContactAvatar(c.Identity, req.Avatar.Value); err != nil {
				return err
			}
			c.Avatar = req.Avatar.Value
		}
		contact = c
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	wc, err := h.proj.Contact(contact)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: envelope.NewUpdate(protocol.SubContact).
		WithAck(env.ID).
		WithArgs(envelope.Args{"identity": contact.Identity}).
		WithData(protocol.ReceiverPayload{Receiver: wc})}, nil
}

func (h *Handler) updateProfile(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.UpdateProfile) (Result, error) {
	if len(req.PublicNickname.Value) > protocol.MaxNicknameBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "nickname is %d bytes", len(req.PublicNickname.Value))
	}
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		p, err := tx.Profile()
		if err != nil {
			return err
		}
		if req.PublicNickname.Set {
			p.PublicNickname = req.PublicNickname.Value
		}
		if req.Avatar.Set {
			p.Avatar = req.Avatar.Value
		}
		return tx.SaveProfile(p)
	})
	if err != nil {
		return Result{}, err
	}
	return confirm(env), nil
}

func (h *Handler) typing(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.TypingUpdate) (Result, error) {
	if err := h.Messenger.SendTyping(ctx, req.Identity, req.IsTyping); err != nil {
		return Result{}, fmt.Errorf("send typing: %w", err)
	}
	return confirm(env), nil
}

func (h *Handler) updateConversation(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.UpdateConversation) (Result, error) {
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		conv, err := lookupConversation(tx, req.Receiver)
		if err != nil {
			return err
		}
		if req.IsStarred != nil {
			conv.Pinned = *req.IsStarred
		}
		if req.IsArchived != nil {
			conv.Archived = *req.IsArchived
		}
		return tx.SaveConversation(conv)
	})
	if err != nil {
		return Result{}, err
	}
	return confirm(env), nil
}

// connectionDisconnect closes the connection after its confirm, if any, is out.
func (h *Handler) connectionDisconnect(_ context.Context, s *bridge.Session, env *envelope.Envelope, req protocol.ConnectionDisconnect) (Result, error) {
	s.Logger().Info("client disconnects", zap.String("reason", req.Reason))
	if req.Reason == protocol.DisconnectDelete {
		s.ForgetHistory()
		if h.Pairings != nil {
			if err := h.Pairings.RevokePairing(s.ID()); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.Logger().Warn("failed to revoke pairing", zap.Error(err))
			}
		}
	}
	res := confirm(env)
	res.After = s.Disconnect
	return res, nil
}

// connectionAck prunes the replay buffer. A client that acknowledges frames we
// never sent is out of sync, so the connection is dropped.
func (h *Handler) connectionAck(_ context.Context, s *bridge.Session, env *envelope.Envelope) (Result, error) {
	ack, err := protocol.ParseConnectionAck(env)
	if err == nil {
		err = s.Acknowledge(int64(ack.SequenceNumber))
	}
	if err != nil {
		s.Logger().Warn("invalid connection ack, closing connection", zap.Error(err))
		s.Disconnect()
	}
	return Result{}, nil
}

func (h *Handler) activeConversation(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, ref protocol.ReceiverRef) (Result, error) {
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		conv, err := lookupConversation(tx, ref)
		if err != nil {
			return err
		}
		if conv.UnreadCount != domain.UnreadMarker {
			return nil
		}
		conv.UnreadCount = 0
		return tx.SaveConversation(conv)
	})
	if err != nil {
		return Result{}, err
	}
	return confirm(env), nil
}

// groupReply answers an update/group request with the stored group.
func (h *Handler) groupReply(requestID, groupID string) (*envelope.Envelope, error) {
	g, err := h.Repo.Group(groupID)
	if err != nil {
		return nil, err
	}
	wg, err := h.proj.Group(g)
	if err != nil {
		return nil, err
	}
	return envelope.NewUpdate(protocol.SubGroup).
		WithAck(requestID).
		WithArgs(envelope.Args{"id": projection.GroupID(g)}).
		WithData(protocol.ReceiverPayload{Receiver: wg}), nil
}
