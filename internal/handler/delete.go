package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/protocol"
)

// Group delete types.
const (
	deleteLeave = "leave"
	deleteGroup = "delete"
)

func (h *Handler) deleteMessage(ctx context.Context, s *bridge.Session, env *envelope.Envelope, req protocol.MessageRef) (Result, error) {
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		conv, err := lookupConversation(tx, req.Receiver)
		if err != nil {
			return err
		}
		m, err := lookupMessage(tx, conv, req.MessageID)
		if err != nil {
			return err
		}
		return tx.DeleteMessage(m.ID)
	})
	if err != nil {
		return Result{}, err
	}
	s.Cursors().Forget(req.MessageID)
	return confirm(env), nil
}

// deleteGroup leaves a group, or leaves it and removes it with its
// conversation.
func (h *Handler) deleteGroup(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.GroupRef) (Result, error) {
	if req.DeleteType != deleteLeave && req.DeleteType != deleteGroup {
		return Result{}, &envelope.FieldError{Field: "deleteType", Want: "leave or delete"}
	}
	g, err := h.Repo.Group(req.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, fail(envelope.CodeInvalidGroup, "group %s", req.ID)
	}
	if err != nil {
		return Result{}, err
	}
	if req.DeleteType == deleteLeave && g.DidLeave {
		return Result{}, fail(envelope.CodeNotAllowed, "group %s already left", g.ID)
	}

	if !g.DidLeave {
		if err := h.Messenger.SendGroupLeave(ctx, g.ID); err != nil {
			return Result{}, fmt.Errorf("send group leave: %w", err)
		}
	}
	err = h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		if req.DeleteType == deleteLeave {
			g.DidLeave = true
			return tx.SaveGroup(g)
		}
		conv, err := tx.ConversationByGroupID(g.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := tx.DeleteConversation(conv.ID); err != nil {
				return err
			}
		}
		return tx.DeleteGroup(g.ID)
	})
	if err != nil {
		return Result{}, err
	}
	return confirm(env), nil
}

func (h *Handler) cleanConversation(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, ref protocol.ReceiverRef) (Result, error) {
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		conv, err := lookupConversation(tx, ref)
		if err != nil {
			return err
		}
		return tx.DeleteMessages(conv.ID)
	})
	if err != nil {
		return Result{}, err
	}
	return confirm(env), nil
}
