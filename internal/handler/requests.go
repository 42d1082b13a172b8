package handler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/pager"
	"github.com/matheus3301/wbridge/internal/projection"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

func (h *Handler) clientInfo(_ context.Context, s *bridge.Session, env *envelope.Envelope, ci protocol.ClientInfo) (Result, error) {
	if h.ClientVersion != nil && ci.ProtocolVersion != "" {
		v, err := semver.NewVersion(ci.ProtocolVersion)
		if err != nil {
			return Result{}, fail(envelope.CodeNotAllowed, "protocol version %q: %v", ci.ProtocolVersion, err)
		}
		if !h.ClientVersion.Check(v) {
			return Result{}, fail(envelope.CodeNotAllowed, "protocol version %s not supported", v)
		}
	}
	s.SetClientInfo(ci)
	if h.Pairings != nil {
		if err := h.Pairings.UpdatePairingClient(s.ID(), ci.UserAgent, ci.BrowserName, ci.BrowserVersion); err != nil {
			s.Logger().Warn("failed to record client info", zap.Error(err))
		}
	}

	profile, err := h.Repo.Profile()
	if err != nil {
		return Result{}, fmt.Errorf("load profile: %w", err)
	}
	rs := h.Policy.Restrictions()
	reply := protocol.ClientInfoReply{
		Device:       "wbridge",
		OS:           runtime.GOOS,
		AppVersion:   h.AppVersion,
		IsWork:       profile.IsWork,
		MaxFileSize:  h.Policy.MaxFileSize(),
		MaxGroupSize: protocol.MaxGroupMembers,
		Restrictions: protocol.Restrictions{
			DisableAddContact:  rs.DisableCreateContact,
			DisableCreateGroup: rs.DisableCreateGroup,
			DisableSendMessage: rs.DisableSendMessage,
			DisableExport:      rs.DisableExport,
		},
	}
	return Result{Reply: envelope.NewResponse(protocol.SubClientInfo, env.ID).WithData(reply)}, nil
}

func (h *Handler) profile(_ context.Context, _ *bridge.Session, env *envelope.Envelope, _ struct{}) (Result, error) {
	p, err := h.Repo.Profile()
	if err != nil {
		return Result{}, fmt.Errorf("load profile: %w", err)
	}
	return Result{Reply: envelope.NewResponse(protocol.SubProfile, env.ID).WithData(projection.Profile(p))}, nil
}

func (h *Handler) receivers(_ context.Context, _ *bridge.Session, env *envelope.Envelope, _ struct{}) (Result, error) {
	rs, err := h.proj.Receivers()
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: envelope.NewResponse(protocol.SubReceivers, env.ID).WithData(rs)}, nil
}

func (h *Handler) conversations(_ context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.Conversations) (Result, error) {
	convs, err := h.proj.Conversations()
	if err != nil {
		return Result{}, err
	}
	if req.MaxSize > 0 && len(convs) > req.MaxSize {
		convs = convs[:req.MaxSize]
	}
	return Result{Reply: envelope.NewResponse(protocol.SubConversations, env.ID).WithData(convs)}, nil
}

func (h *Handler) batteryStatus(_ context.Context, _ *bridge.Session, env *envelope.Envelope, _ struct{}) (Result, error) {
	percent, charging := h.Device.Battery()
	status := protocol.BatteryStatus{Percent: percent, IsCharging: charging}
	reply := envelope.NewUpdate(protocol.SubBatteryStatus).WithData(status)
	reply.ID = env.ID
	return Result{Reply: reply}, nil
}

func (h *Handler) messages(_ context.Context, s *bridge.Session, env *envelope.Envelope, req protocol.Messages) (Result, error) {
	conv, err := lookupConversation(h.Repo, req.Receiver)
	if err != nil {
		return Result{}, err
	}
	s.AddRequested(req.Receiver.Key())

	p := pager.New(h.PageSize, s.Cursors())
	page, err := p.Page(pager.ConversationTimeline{R: h.Repo, ConversationID: conv.ID}, req.RefMsgID)
	switch {
	case errors.Is(err, pager.ErrReferenceNotFound):
		s.Logger().Info("reference message gone, returning empty page", zap.String("ref_msg_id", req.RefMsgID))
		page = pager.Page{}
	case err != nil:
		return Result{}, fmt.Errorf("page messages: %w", err)
	default:
		h.Metrics.ObservePagerRounds(page.Rounds)
	}

	args := receiverArgs(req.Receiver)
	args["more"] = page.More
	return Result{Reply: envelope.NewResponse(protocol.SubMessages, env.ID).
		WithArgs(args).
		WithData(h.proj.Messages(page.Messages, conv))}, nil
}

func (h *Handler) avatar(_ context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.Avatar) (Result, error) {
	avatar, err := h.proj.Avatar(receiverOf(req.Receiver))
	if errors.Is(err, domain.ErrNotFound) {
		if req.Receiver.Type == protocol.ReceiverGroup {
			return Result{}, fail(envelope.CodeInvalidGroup, "group %s", req.Receiver.ID)
		}
		return Result{}, fail(envelope.CodeInvalidContact, "contact %s", req.Receiver.ID)
	}
	if err != nil {
		return Result{}, err
	}
	// Only one resolution is stored; highResolution gets the same image.
	reply := envelope.NewResponse(protocol.SubAvatar, env.ID).WithArgs(receiverArgs(req.Receiver))
	if len(avatar) > 0 {
		reply.WithData(avatar)
	}
	return Result{Reply: reply}, nil
}

func (h *Handler) thumbnail(_ context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.MessageRef) (Result, error) {
	conv, err := lookupConversation(h.Repo, req.Receiver)
	if err != nil {
		return Result{}, err
	}
	m, err := lookupMessage(h.Repo, conv, req.MessageID)
	if err != nil {
		return Result{}, err
	}
	if len(m.Thumbnail) == 0 {
		return Result{}, fmt.Errorf("message %s has no thumbnail", m.ID)
	}
	args := receiverArgs(req.Receiver)
	args["messageId"] = m.ID
	return Result{Reply: envelope.NewResponse(protocol.SubThumbnail, env.ID).WithArgs(args).WithData(m.Thumbnail)}, nil
}

func (h *Handler) blob(_ context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.MessageRef) (Result, error) {
	if h.Policy.Restrictions().DisableExport {
		return Result{}, domain.ErrDisabledByPolicy
	}
	conv, err := lookupConversation(h.Repo, req.Receiver)
	if err != nil {
		return Result{}, err
	}
	m, err := lookupMessage(h.Repo, conv, req.MessageID)
	if err != nil {
		return Result{}, err
	}
	if m.Type != domain.MessageFile && m.Type != domain.MessageImage {
		return Result{}, fail(envelope.CodeInvalidMessage, "message %s carries no file", m.ID)
	}
	if len(m.Blob) == 0 {
		return Result{}, fmt.Errorf("blob of message %s not available", m.ID)
	}
	args := receiverArgs(req.Receiver)
	args["messageId"] = m.ID
	return Result{Reply: envelope.NewResponse(protocol.SubBlob, env.ID).
		WithArgs(args).
		WithData(protocol.Blob{Type: m.FileType, Name: m.FileName, Blob: m.Blob})}, nil
}

func (h *Handler) contactDetail(_ context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.ContactDetailRequest) (Result, error) {
	c, err := h.Repo.Contact(req.Identity)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, fail(envelope.CodeInvalidIdentity, "contact %s", req.Identity)
	}
	if err != nil {
		return Result{}, err
	}
	detail, err := h.proj.ContactDetail(c)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: envelope.NewResponse(protocol.SubContactDetail, env.ID).
		WithArgs(envelope.Args{"identity": c.Identity}).
		WithData(detail)}, nil
}

// read marks every unread incoming message up to and including the referenced
// one as read and sends read receipts for them.
func (h *Handler) read(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.MessageRef) (Result, error) {
	var conv *domain.Conversation
	var ids []string
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		var err error
		if conv, err = lookupConversation(tx, req.Receiver); err != nil {
			return err
		}
		target, err := lookupMessage(tx, conv, req.MessageID)
		if err != nil {
			return err
		}
		unread, err := tx.UnreadMessages(conv.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		remaining := 0
		for i := range unread {
			m := &unread[i]
			if m.Date.After(target.Date) || (m.Date.Equal(target.Date) && m.SortKey > target.SortKey) {
				remaining++
				continue
			}
			m.Read, m.ReadAt = true, now
			if err := tx.SaveMessage(m); err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		if len(ids) == 0 {
			return fail(envelope.CodeAlreadyRead, "nothing unread up to %s", target.ID)
		}
		conv.UnreadCount = remaining
		return tx.SaveConversation(conv)
	})
	if err != nil {
		return Result{}, err
	}
	if !conv.IsGroup() {
		if err := h.Messenger.SendReadReceipts(ctx, conv.Receiver(), ids); err != nil {
			return Result{}, fmt.Errorf("send read receipts: %w", err)
		}
	}
	return confirm(env), nil
}

func (h *Handler) ack(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.AckRequest) (Result, error) {
	var conv *domain.Conversation
	var msg *domain.Message
	err := h.Repo.Atomic(ctx, func(tx domain.Tx) error {
		var err error
		if conv, err = lookupConversation(tx, req.Receiver); err != nil {
			return err
		}
		if msg, err = lookupMessage(tx, conv, req.MessageID); err != nil {
			return err
		}
		if msg.IsOwn || msg.Type == domain.MessageStatus {
			return fail(envelope.CodeInvalidMessage, "message %s cannot be acknowledged", msg.ID)
		}
		msg.State = domain.StateUserDeclined
		if req.Acknowledged {
			msg.State = domain.StateUserAck
		}
		msg.AckAt = time.Now()
		return tx.SaveMessage(msg)
	})
	if err != nil {
		return Result{}, err
	}
	if err := h.Messenger.SendUserAck(ctx, conv.Receiver(), msg.ID, req.Acknowledged); err != nil {
		return Result{}, fmt.Errorf("send user ack: %w", err)
	}

	args := receiverArgs(req.Receiver)
	args["mode"] = string(protocol.ModeModified)
	reply := envelope.NewUpdate(protocol.SubMessages).
		WithArgs(args).
		WithData([]protocol.Message{h.proj.Message(msg, conv)})
	if env.ID != "" {
		reply.WithAck(env.ID)
	}
	return Result{Reply: reply}, nil
}

func (h *Handler) groupSync(ctx context.Context, _ *bridge.Session, env *envelope.Envelope, req protocol.GroupRef) (Result, error) {
	g, err := h.Repo.Group(req.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, fail(envelope.CodeInvalidGroup, "group %s", req.ID)
	}
	if err != nil {
		return Result{}, err
	}
	if !g.IsOwn(h.Self) || g.DidLeave {
		return Result{}, fail(envelope.CodeNotAllowed, "group %s is not administered here", g.ID)
	}
	if err := h.Messenger.SyncGroup(ctx, g.ID); err != nil {
		return Result{}, fmt.Errorf("sync group: %w", err)
	}
	return confirm(env), nil
}

func (h *Handler) requestConnectionAck(_ context.Context, s *bridge.Session, env *envelope.Envelope, _ struct{}) (Result, error) {
	ack := protocol.ConnectionAck{SequenceNumber: uint32(s.IncomingCount())}
	reply := envelope.NewUpdate(protocol.SubConnectionAck).WithData(ack)
	reply.ID = env.ID
	return Result{Reply: reply}, nil
}
