// Package handler implements the request handlers of the bridge protocol.
// Every handler follows the same template: parse the envelope, resolve the
// referenced entities, check policy, mutate inside one store transaction and
// answer with an ack or a projected record.
package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/projection"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

// Result is the outcome of a handled envelope. Reply is sent at once. Pending,
// when set, is run off the session's serial worker and its envelope is sent
// when it returns; a nil envelope means nothing is sent. After runs once Reply
// has been handed to the session.
type Result struct {
	Reply   *envelope.Envelope
	Pending func(ctx context.Context) *envelope.Envelope
	After   func()
}

// Error is a handler failure reported to the client as an ack error code.
type Error struct {
	Code envelope.Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(code envelope.Code, format string, args ...any) *Error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

// Code maps an error to the ack code sent to the client.
func Code(err error) envelope.Code {
	var he *Error
	var fe *envelope.FieldError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.As(err, &fe):
		return envelope.CodeBadRequest
	case errors.Is(err, domain.ErrBlocked):
		return envelope.CodeBlocked
	case errors.Is(err, domain.ErrDisabledByPolicy):
		return envelope.CodeDisabledByPolicy
	case errors.Is(err, domain.ErrNotAllowed):
		return envelope.CodeNotAllowed
	}
	return envelope.CodeInternalError
}

// Pairings is the part of the pairing store handlers update.
type Pairings interface {
	UpdatePairingClient(id, userAgent, browserName, browserVersion string) error
	RevokePairing(id string) error
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Repo      domain.Repository
	Messenger domain.Messenger
	Policy    domain.Policy
	Device    domain.Device
	Pairings  Pairings
	Self      string
	PageSize  int
	// ClientVersion, when set, must be satisfied by the protocolVersion a
	// client announces in request/clientInfo.
	ClientVersion *semver.Constraints
	AppVersion    string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

type handleFunc func(ctx context.Context, s *bridge.Session, env *envelope.Envelope) (Result, error)

// route binds a parser to the handler consuming its typed request.
func route[T any](parse func(*envelope.Envelope) (T, error), handle func(context.Context, *bridge.Session, *envelope.Envelope, T) (Result, error)) handleFunc {
	return func(ctx context.Context, s *bridge.Session, env *envelope.Envelope) (Result, error) {
		req, err := parse(env)
		if err != nil {
			return Result{}, err
		}
		return handle(ctx, s, env, req)
	}
}

func noArgs(*envelope.Envelope) (struct{}, error) { return struct{}{}, nil }

// Handler routes envelopes to their handlers.
type Handler struct {
	Deps
	proj   *projection.Projector
	routes map[envelope.Key]handleFunc
}

// New creates a handler with the full route table.
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &Handler{Deps: deps, proj: projection.New(deps.Repo, deps.Self)}
	req := func(sub string) envelope.Key { return envelope.Key{Type: envelope.TypeRequest, SubType: sub} }
	create := func(sub string) envelope.Key { return envelope.Key{Type: envelope.TypeCreate, SubType: sub} }
	update := func(sub string) envelope.Key { return envelope.Key{Type: envelope.TypeUpdate, SubType: sub} }
	del := func(sub string) envelope.Key { return envelope.Key{Type: envelope.TypeDelete, SubType: sub} }

	h.routes = map[envelope.Key]handleFunc{
		req(protocol.SubClientInfo):    route(protocol.ParseClientInfo, h.clientInfo),
		req(protocol.SubProfile):       route(noArgs, h.profile),
		req(protocol.SubReceivers):     route(noArgs, h.receivers),
		req(protocol.SubConversations): route(protocol.ParseConversations, h.conversations),
		req(protocol.SubBatteryStatus): route(noArgs, h.batteryStatus),
		req(protocol.SubMessages):      route(protocol.ParseMessages, h.messages),
		req(protocol.SubAvatar):        route(protocol.ParseAvatar, h.avatar),
		req(protocol.SubThumbnail):     route(protocol.ParseMessageRef, h.thumbnail),
		req(protocol.SubBlob):          route(protocol.ParseMessageRef, h.blob),
		req(protocol.SubContactDetail): route(protocol.ParseContactDetail, h.contactDetail),
		req(protocol.SubRead):          route(protocol.ParseMessageRef, h.read),
		req(protocol.SubAck):           route(protocol.ParseAck, h.ack),
		req(protocol.SubGroupSync):     route(protocol.ParseGroupRef, h.groupSync),
		req(protocol.SubConnectionAck): route(noArgs, h.requestConnectionAck),

		create(protocol.SubContact):     route(protocol.ParseCreateContact, h.createContact),
		create(protocol.SubGroup):       route(protocol.ParseCreateGroup, h.createGroup),
		create(protocol.SubTextMessage): route(protocol.ParseTextMessage, h.createTextMessage),
		create(protocol.SubFileMessage): route(protocol.ParseFileMessage, h.createFileMessage),

		update(protocol.SubConnectionInfo):       route(protocol.ParseConnectionInfo, h.connectionInfo),
		update(protocol.SubContact):              route(protocol.ParseUpdateContact, h.updateContact),
		update(protocol.SubProfile):              route(protocol.ParseUpdateProfile, h.updateProfile),
		update(protocol.SubGroup):                route(protocol.ParseUpdateGroup, h.updateGroup),
		update(protocol.SubTyping):               route(protocol.ParseTyping, h.typing),
		update(protocol.SubConversation):         route(protocol.ParseUpdateConversation, h.updateConversation),
		update(protocol.SubConnectionDisconnect): route(protocol.ParseConnectionDisconnect, h.connectionDisconnect),
		update(protocol.SubConnectionAck):        h.connectionAck,
		update(protocol.SubActiveConversation):   route(protocol.ParseReceiver, h.activeConversation),

		del(protocol.SubMessage):           route(protocol.ParseMessageRef, h.deleteMessage),
		del(protocol.SubGroup):             route(protocol.ParseGroupRef, h.deleteGroup),
		del(protocol.SubCleanConversation): route(protocol.ParseReceiver, h.cleanConversation),
	}
	return h
}

// Routes reports whether a handler exists for key.
func (h *Handler) Routes(key envelope.Key) bool {
	_, ok := h.routes[key]
	return ok
}

// Handle runs the handler for env. Failures become update/confirm acks
// carrying the request id; an envelope without id gets no reply.
func (h *Handler) Handle(ctx context.Context, s *bridge.Session, env *envelope.Envelope) Result {
	fn, ok := h.routes[env.Key()]
	if !ok {
		code := envelope.CodeUnknownSubtype
		if !env.Type.Known() {
			code = envelope.CodeUnknownType
		}
		return h.failure(s, env, &Error{Code: code, Err: fmt.Errorf("no handler for %s", env.Key())})
	}
	res, err := fn(ctx, s, env)
	if err != nil {
		return h.failure(s, env, err)
	}
	return res
}

func (h *Handler) failure(s *bridge.Session, env *envelope.Envelope, err error) Result {
	code := Code(err)
	logger := s.Logger().With(
		zap.String("type", string(env.Type)),
		zap.String("sub_type", env.SubType),
		zap.String("request_id", env.ID),
		zap.String("code", string(code)),
	)
	if code == envelope.CodeInternalError {
		logger.Error("handler failed", zap.Error(err))
	} else {
		logger.Info("request rejected", zap.Error(err))
	}
	if env.ID == "" {
		return Result{}
	}
	return Result{Reply: envelope.NewConfirm(env.ID, false, code)}
}

// Failure builds the ack for a request that failed outside a handler, such as
// a recovered panic.
func Failure(requestID string, code envelope.Code) *envelope.Envelope {
	if requestID == "" {
		return nil
	}
	return envelope.NewConfirm(requestID, false, code)
}

func confirm(env *envelope.Envelope) Result {
	if env.ID == "" {
		return Result{}
	}
	return Result{Reply: envelope.NewConfirm(env.ID, true, "")}
}

var identityPattern = regexp.MustCompile(`^[A-Z0-9*][A-Z0-9]{7}$`)

func receiverOf(ref protocol.ReceiverRef) domain.Receiver {
	if ref.Type == protocol.ReceiverGroup {
		return domain.Receiver{Kind: domain.KindGroup, ID: ref.ID}
	}
	return domain.Receiver{Kind: domain.KindContact, ID: ref.ID}
}

func receiverArgs(ref protocol.ReceiverRef) envelope.Args {
	return envelope.Args{"type": string(ref.Type), "id": ref.ID}
}

// lookupConversation resolves the conversation ref points at.
func lookupConversation(r domain.Reader, ref protocol.ReceiverRef) (*domain.Conversation, error) {
	if ref.Type == protocol.ReceiverGroup {
		if _, err := r.Group(ref.ID); errors.Is(err, domain.ErrNotFound) {
			return nil, fail(envelope.CodeInvalidGroup, "group %s", ref.ID)
		} else if err != nil {
			return nil, err
		}
		conv, err := r.ConversationByGroupID(ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fail(envelope.CodeInvalidConversation, "no conversation for group %s", ref.ID)
		}
		return conv, err
	}
	if _, err := r.Contact(ref.ID); errors.Is(err, domain.ErrNotFound) {
		return nil, fail(envelope.CodeInvalidContact, "contact %s", ref.ID)
	} else if err != nil {
		return nil, err
	}
	conv, err := r.ConversationByIdentity(ref.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fail(envelope.CodeInvalidConversation, "no conversation with %s", ref.ID)
	}
	return conv, err
}

// conversationFor resolves the conversation of ref, starting one for a known
// contact that has none yet.
func conversationFor(tx domain.Tx, ref protocol.ReceiverRef) (*domain.Conversation, error) {
	conv, err := lookupConversation(tx, ref)
	var he *Error
	if ref.Type == protocol.ReceiverContact && errors.As(err, &he) && he.Code == envelope.CodeInvalidConversation {
		conv = &domain.Conversation{ContactIdentity: ref.ID}
		if err := tx.SaveConversation(conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	return conv, err
}

// lookupMessage resolves a message and checks it belongs to conv.
func lookupMessage(r domain.Reader, conv *domain.Conversation, id string) (*domain.Message, error) {
	m, err := r.Message(id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && m.ConversationID != conv.ID) {
		return nil, fail(envelope.CodeInvalidMessage, "message %s", id)
	}
	return m, err
}
