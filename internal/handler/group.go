package handler

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

// diffMembers returns the members to remove (current but not desired) and to
// add (desired but not current), each in the order of its source list.
func diffMembers(current, desired []string) (toRemove, toAdd []string) {
	for _, m := range current {
		if !slices.Contains(desired, m) {
			toRemove = append(toRemove, m)
		}
	}
	for _, m := range desired {
		if !slices.Contains(current, m) {
			toAdd = append(toAdd, m)
		}
	}
	return toRemove, toAdd
}

func (h *Handler) ownGroup(r domain.Reader, id string) (*domain.Group, error) {
	g, err := r.Group(id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail(envelope.CodeInvalidGroup, "group %s", id)
	}
	if err != nil {
		return nil, err
	}
	if !g.IsOwn(h.Self) || g.DidLeave {
		return nil, fail(envelope.CodeNotAllowed, "group %s is not administered here", id)
	}
	return g, nil
}

// updateGroup applies membership changes at once. A name-only change is
// stored and announced directly; when the avatar is set or removed the photo
// goes out first and the stored name and avatar change together once it is
// delivered.
func (h *Handler) updateGroup(ctx context.Context, s *bridge.Session, env *envelope.Envelope, req protocol.UpdateGroup) (Result, error) {
	if len(req.Name.Value) > protocol.MaxGroupNameBytes {
		return Result{}, fail(envelope.CodeValueTooLong, "group name is %d bytes", len(req.Name.Value))
	}

	var toRemove, toAdd []string
	var renamed bool
	photo := req.Avatar.Set
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		g, err := h.ownGroup(tx, req.ID)
		if err != nil {
			return err
		}
		desired, err := h.members(tx, req.Members)
		if err != nil {
			return err
		}
		current := slices.DeleteFunc(slices.Clone(g.Members), func(m string) bool { return m == h.Self })
		toRemove, toAdd = diffMembers(current, desired)
		for _, m := range toRemove {
			if err := tx.RemoveGroupMember(g.ID, m); err != nil {
				return err
			}
		}
		for _, m := range toAdd {
			if err := tx.AddGroupMember(g.ID, m); err != nil {
				return err
			}
		}
		renamed = req.Name.Set && req.Name.Value != g.Name
		if !renamed || photo {
			return nil
		}
		g, err = tx.Group(g.ID)
		if err != nil {
			return err
		}
		g.Name = req.Name.Value
		return tx.SaveGroup(g)
	})
	if err != nil {
		return Result{}, err
	}

	if len(toRemove) > 0 || len(toAdd) > 0 {
		if err := h.Messenger.SendGroupMembers(ctx, req.ID, toAdd, toRemove); err != nil {
			return Result{}, fmt.Errorf("send group members: %w", err)
		}
	}

	if !photo {
		if renamed {
			if err := h.Messenger.SendGroupRename(ctx, req.ID, req.Name.Value); err != nil {
				return Result{}, fmt.Errorf("send group rename: %w", err)
			}
		}
		reply, err := h.groupReply(env.ID, req.ID)
		if err != nil {
			return Result{}, err
		}
		return Result{Reply: reply}, nil
	}

	delivery, err := h.Messenger.SendGroupPhoto(ctx, req.ID, req.Avatar.Value)
	if err != nil {
		return Result{}, fmt.Errorf("send group photo: %w", err)
	}
	requestID := env.ID
	logger := s.Logger().With(zap.String("group_id", req.ID))
	return Result{Pending: func(ctx context.Context) *envelope.Envelope {
		select {
		case err := <-delivery:
			if err != nil {
				logger.Warn("group photo not sent", zap.Error(err))
				return Failure(requestID, envelope.CodeSendError)
			}
		case <-ctx.Done():
			return nil
		}
		reply, err := h.finishGroupPhoto(ctx, req, renamed)
		if err != nil {
			logger.Error("failed to store group photo", zap.Error(err))
			return Failure(requestID, Code(err))
		}
		return reply.WithAck(requestID)
	}}, nil
}

// finishGroupPhoto stores the delivered avatar together with a pending rename.
func (h *Handler) finishGroupPhoto(ctx context.Context, req protocol.UpdateGroup, renamed bool) (*envelope.Envelope, error) {
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		if err := tx.SetGroupAvatar(req.ID, req.Avatar.Value); err != nil {
			return err
		}
		if !renamed {
			return nil
		}
		g, err := tx.Group(req.ID)
		if err != nil {
			return err
		}
		g.Name = req.Name.Value
		return tx.SaveGroup(g)
	})
	if err != nil {
		return nil, err
	}
	if renamed {
		if err := h.Messenger.SendGroupRename(ctx, req.ID, req.Name.Value); err != nil {
			return nil, fmt.Errorf("send group rename: %w", err)
		}
	}
	return h.groupReply("", req.ID)
}
