package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/pairing"
	"github.com/matheus3301/wbridge/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// qrSize is the edge length in pixels of the pairing QR PNG.
const qrSize = 256

// ControlService implements ControlServer.
type ControlService struct {
	profile    string
	listenAddr string
	self       string
	started    time.Time
	db         *store.DB
	registry   *bridge.Registry
	pairings   *pairing.Manager
	events     *bus.Bus
	logger     *zap.Logger
}

// ControlOptions are the static values reported by Status.
type ControlOptions struct {
	Profile    string
	ListenAddr string
	Self       string
}

// NewControlService creates a control service.
func NewControlService(opts ControlOptions, db *store.DB, registry *bridge.Registry, pairings *pairing.Manager, events *bus.Bus, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		profile:    opts.Profile,
		listenAddr: opts.ListenAddr,
		self:       opts.Self,
		started:    time.Now(),
		db:         db,
		registry:   registry,
		pairings:   pairings,
		events:     events,
		logger:     logger,
	}
}

func (s *ControlService) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	states := map[string]any{}
	for _, sess := range s.registry.List() {
		st := string(sess.State())
		n, _ := states[st].(int)
		states[st] = n + 1
	}
	counts, err := s.db.OutboxCounts()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "outbox counts: %v", err)
	}
	outbox := map[string]any{}
	for k, v := range counts {
		outbox[k] = v
	}
	schema, err := s.db.SchemaVersion()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "schema version: %v", err)
	}
	return newStruct(map[string]any{
		"schema_version": int64(schema),
		"profile":        s.profile,
		"listen_addr":    s.listenAddr,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"sessions":       states,
		"outbox":         outbox,
	})
}

func (s *ControlService) ListSessions(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list := make([]any, 0, s.registry.Len())
	for _, sess := range s.registry.List() {
		info := sess.Info()
		entry := map[string]any{
			"id":              info.ID,
			"state":           string(info.State),
			"connection_id":   info.ConnectionID,
			"browser":         info.Client.BrowserName,
			"browser_version": info.Client.BrowserVersion,
			"outgoing":        info.Outgoing,
			"incoming":        info.Incoming,
			"replay_frames":   info.ReplayFrames,
			"replay_bytes":    info.ReplayBytes,
			"cursors":         info.Cursors,
		}
		if !info.LastSeen.IsZero() {
			entry["last_seen"] = info.LastSeen.UTC().Format(time.RFC3339)
		}
		list = append(list, entry)
	}
	return newStruct(map[string]any{"sessions": list})
}

func (s *ControlService) CreatePairing(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "name is required")
	}
	p, offer, err := s.pairings.Create(name)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "create pairing: %v", err)
	}
	png, err := pairing.QRCode(offer.URL, qrSize)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "render qr: %v", err)
	}
	return newStruct(map[string]any{
		"id":     p.ID,
		"name":   p.Name,
		"token":  offer.Token,
		"url":    offer.URL,
		"qr_png": png,
	})
}

func (s *ControlService) ListPairings(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	pairings, err := s.pairings.List()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list pairings: %v", err)
	}
	list := make([]any, 0, len(pairings))
	for _, p := range pairings {
		entry := map[string]any{
			"id":         p.ID,
			"name":       p.Name,
			"browser":    p.BrowserName,
			"user_agent": p.UserAgent,
			"created_at": p.CreatedAt.UTC().Format(time.RFC3339),
			"revoked":    p.Revoked,
		}
		if !p.LastSeenAt.IsZero() {
			entry["last_seen_at"] = p.LastSeenAt.UTC().Format(time.RFC3339)
		}
		list = append(list, entry)
	}
	return newStruct(map[string]any{"pairings": list})
}

// RevokePairing revokes the pairing and drops its session, closing any live
// connection.
func (s *ControlService) RevokePairing(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := req.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.pairings.Revoke(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, grpcstatus.Errorf(codes.NotFound, "pairing %s not found", id)
		}
		return nil, grpcstatus.Errorf(codes.Internal, "revoke pairing: %v", err)
	}
	s.registry.Remove(id)
	s.logger.Info("pairing revoked via control api", zap.String("pairing_id", id))
	return &emptypb.Empty{}, nil
}

func (s *ControlService) DisconnectSession(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	id := req.GetFields()["id"].GetStringValue()
	sess, ok := s.registry.Get(id)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "session %s not found", id)
	}
	sess.Disconnect()
	return &emptypb.Empty{}, nil
}

// Seed fills an empty store with demo data.
func (s *ControlService) Seed(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.db.Seed(ctx, s.self)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "seed: %v", err)
	}
	return newStruct(map[string]any{
		"contacts":      res.Contacts,
		"groups":        res.Groups,
		"conversations": res.Conversations,
		"messages":      res.Messages,
	})
}

// Typing announces a contact's typing state to every ready session. It is the
// inbound typing source while the daemon runs without a chat network.
func (s *ControlService) Typing(_ context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	identity := fields["identity"].GetStringValue()
	if identity == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "identity is required")
	}
	if _, err := s.db.Contact(identity); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, grpcstatus.Errorf(codes.NotFound, "contact %s not found", identity)
		}
		return nil, grpcstatus.Errorf(codes.Internal, "contact lookup: %v", err)
	}
	s.events.Publish(bus.Event{
		Kind:    domain.EventTyping,
		Payload: domain.TypingChange{Identity: identity, Typing: fields["typing"].GetBoolValue()},
	})
	return &emptypb.Empty{}, nil
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	return st, nil
}
