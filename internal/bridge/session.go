// Package bridge holds the per-client session state: connection lifecycle,
// frame numbering, the replay buffer used to resume dropped connections and
// the cursor cache used by the history pager.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/pager"
	"github.com/matheus3301/wbridge/internal/protocol"
	"github.com/matheus3301/wbridge/internal/sequence"
	"github.com/matheus3301/wbridge/internal/status"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned when a volatile frame is sent without a connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrSequenceExhausted means a sequence counter reached its bound.
	ErrSequenceExhausted = errors.New("sequence number space exhausted")
)

// Conn is one transport connection of a session.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Options configures new sessions.
type Options struct {
	CursorCacheSize int
	ReplayFrames    int
	Bus             *bus.Bus
	Logger          *zap.Logger
}

// Session is the state of one paired web client. It outlives its transport
// connections so that a dropped connection can be resumed.
type Session struct {
	id      string
	logger  *zap.Logger
	state   *status.Machine
	cursors *pager.Cache

	mu         sync.Mutex
	conn       Conn
	ctx        context.Context
	cancel     context.CancelFunc
	connID     []byte
	prevConnID []byte
	sentOnConn int64
	recvOnConn int64
	outgoing   *sequence.Counter
	incoming   *sequence.Counter
	replay     *ReplayBuffer
	requested  map[string]struct{}
	client     protocol.ClientInfo
	ownInfo    bool
	peerInfo   bool
	lastSeen   time.Time
}

// NewSession creates a disconnected session for pairing id.
func NewSession(id string, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Session{
		id:        id,
		logger:    logger.With(zap.String("session_id", id)),
		state:     status.NewMachine(id, opts.Bus),
		cursors:   pager.NewCache(opts.CursorCacheSize),
		ctx:       ctx,
		cancel:    cancel,
		outgoing:  sequence.NewUint32(),
		incoming:  sequence.NewUint32(),
		replay:    NewReplayBuffer(opts.ReplayFrames),
		requested: make(map[string]struct{}),
	}
}

// ID returns the pairing id of the session.
func (s *Session) ID() string { return s.id }

// Logger returns the session logger, tagged with the current connection.
func (s *Session) Logger() *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connID == nil {
		return s.logger
	}
	return s.logger.With(zap.String("conn_id", connIDString(s.connID)))
}

// State returns the connection state.
func (s *Session) State() status.State { return s.state.Current() }

// Ready reports whether the session accepts all traffic.
func (s *Session) Ready() bool { return s.state.Is(status.Ready) }

// Cursors returns the session's cursor cache.
func (s *Session) Cursors() *pager.Cache { return s.cursors }

// Context is cancelled when the current connection ends.
func (s *Session) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func connIDString(id []byte) string {
	u, err := uuid.FromBytes(id)
	if err != nil {
		return fmt.Sprintf("%x", id)
	}
	return u.String()
}

// Attach makes conn the session's connection and sends our connectionInfo.
// A previous connection is closed.
func (s *Session) Attach(conn Conn) error {
	s.mu.Lock()
	if s.conn != nil {
		s.cancel()
		_ = s.conn.Close()
		s.conn = nil
	}
	if !s.state.Is(status.New, status.Disconnected) {
		_ = s.state.Transition(status.Disconnected)
	}
	if err := s.state.Transition(status.Connecting); err != nil {
		s.mu.Unlock()
		return err
	}

	id := uuid.New()
	s.prevConnID = s.connID
	s.connID = id[:]
	s.conn = conn
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sentOnConn, s.recvOnConn = 0, 0
	s.ownInfo, s.peerInfo = false, false
	s.lastSeen = time.Now()

	info := protocol.ConnectionInfo{ID: s.connID}
	if s.prevConnID != nil {
		info.Resume = &protocol.Resume{ID: s.prevConnID, SequenceNumber: uint32(s.incoming.Value())}
	}
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.Send(ctx, envelope.NewUpdate(protocol.SubConnectionInfo).WithData(info)); err != nil {
		return fmt.Errorf("send connection info: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownInfo = true
	return s.advance()
}

// advance moves the handshake forward once one side's connectionInfo is known.
// Caller holds s.mu.
func (s *Session) advance() error {
	switch {
	case s.ownInfo && s.peerInfo:
		return s.state.Transition(status.Ready)
	case s.ownInfo:
		return s.state.Transition(status.ConnectionInfoSend)
	case s.peerInfo:
		return s.state.Transition(status.ConnectionInfoReceived)
	}
	return nil
}

// Detach forgets conn if it is still the current connection. Pending work
// bound to the connection context is abandoned.
func (s *Session) Detach(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn || conn == nil {
		return
	}
	s.cancel()
	s.conn = nil
	if !s.state.Is(status.Disconnected) {
		_ = s.state.Transition(status.Disconnected)
	}
}

// Disconnect closes the current connection on request of either side.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	if conn != nil && !s.state.Is(status.Disconnected, status.Disconnecting) {
		_ = s.state.Transition(status.Disconnecting)
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
		s.Detach(conn)
	}
}

// Send numbers and transmits an envelope. Non-volatile frames are kept for
// replay; without a connection they wait for the next resume.
func (s *Session) Send(ctx context.Context, env *envelope.Envelope) error {
	frame, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	volatile := protocol.Volatile(env.SubType)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil && volatile {
		return ErrNotConnected
	}
	seq, ok := s.outgoing.Increment(1)
	if !ok {
		return ErrSequenceExhausted
	}
	if volatile {
		s.replay.Sent(seq, nil)
	} else {
		s.replay.Sent(seq, frame)
	}
	if s.conn == nil {
		return nil
	}
	s.sentOnConn++
	return s.conn.Send(ctx, frame)
}

// CountIncoming numbers an inbound frame.
func (s *Session) CountIncoming() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.incoming.Increment(1)
	if !ok {
		return n, ErrSequenceExhausted
	}
	s.recvOnConn++
	s.lastSeen = time.Now()
	return n, nil
}

// IncomingCount returns how many frames the session received.
func (s *Session) IncomingCount() int64 {
	return s.incoming.Value()
}

// Resume reports the outcome of a client's connectionInfo.
type Resume struct {
	Requested     bool
	Resumed       bool
	Retransmitted int
}

// ConnectionInfo applies the client's connectionInfo. When the client resumes
// our previous connection, acknowledged frames are pruned and the rest are
// retransmitted; otherwise numbering restarts with this connection.
func (s *Session) ConnectionInfo(ctx context.Context, ci protocol.ConnectionInfo) (Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res Resume
	var frames []Frame
	if ci.Resume != nil {
		res.Requested = true
		if s.prevConnID != nil && bytes.Equal(ci.Resume.ID, s.prevConnID) {
			if err := s.replay.Prune(int64(ci.Resume.SequenceNumber)); err != nil {
				s.logger.Warn("cannot resume, discarding replay buffer", zap.Error(err))
			} else {
				res.Resumed = true
				frames = s.replay.Pending()
			}
		} else {
			s.logger.Info("resume id does not match previous connection")
		}
	}
	if !res.Resumed {
		// Numbering restarts with the frames of this connection.
		s.outgoing.Set(s.sentOnConn)
		s.incoming.Set(s.recvOnConn)
		s.replay.Reset(s.sentOnConn)
		s.requested = make(map[string]struct{})
	}

	s.peerInfo = true
	if err := s.advance(); err != nil {
		return res, err
	}
	if s.conn == nil {
		return res, nil
	}
	for _, f := range frames {
		if err := s.conn.Send(ctx, f.Data); err != nil {
			return res, fmt.Errorf("retransmit %d: %w", f.Seq, err)
		}
		res.Retransmitted++
	}
	return res, nil
}

// Acknowledge prunes the replay buffer up to the client's sequence number.
func (s *Session) Acknowledge(theirSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replay.Prune(theirSeq)
}

// AddRequested marks a conversation as opened by the client; only those
// receive message updates.
func (s *Session) AddRequested(key string) {
	s.mu.Lock()
	s.requested[key] = struct{}{}
	s.mu.Unlock()
}

// Requested reports whether the client opened the conversation.
func (s *Session) Requested(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.requested[key]
	return ok
}

// SetClientInfo records the client's browser details.
func (s *Session) SetClientInfo(ci protocol.ClientInfo) {
	s.mu.Lock()
	s.client = ci
	s.mu.Unlock()
}

// ForgetHistory drops state tied to the pairing, such as cursors.
func (s *Session) ForgetHistory() {
	s.cursors.Reset()
	s.mu.Lock()
	s.requested = make(map[string]struct{})
	s.mu.Unlock()
}

// Info is a snapshot of a session for status reporting.
type Info struct {
	ID           string
	State        status.State
	ConnectionID string
	Client       protocol.ClientInfo
	Outgoing     int64
	Incoming     int64
	ReplayFrames int
	ReplayBytes  int
	Cursors      int
	LastSeen     time.Time
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:           s.id,
		State:        s.state.Current(),
		Client:       s.client,
		Outgoing:     s.outgoing.Value(),
		Incoming:     s.incoming.Value(),
		ReplayFrames: s.replay.Len(),
		ReplayBytes:  s.replay.Size(),
		Cursors:      s.cursors.Len(),
		LastSeen:     s.lastSeen,
	}
	if s.connID != nil {
		info.ConnectionID = connIDString(s.connID)
	}
	return info
}
