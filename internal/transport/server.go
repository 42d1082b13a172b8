// Package transport accepts paired web clients over WebSocket and connects
// each one to its session.
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/dispatch"
	"github.com/matheus3301/wbridge/internal/handler"
	"github.com/matheus3301/wbridge/internal/pairing"
	"github.com/matheus3301/wbridge/internal/store"
	"go.uber.org/zap"
)

// Authenticator resolves a pairing token.
type Authenticator interface {
	Authenticate(token string) (*store.Pairing, error)
}

// HostPolicy decides which web hosts may open connections.
type HostPolicy interface {
	AllowedHost(host string) bool
}

// Options configures a Server.
type Options struct {
	// MaxFrameSize bounds inbound frames.
	MaxFrameSize int64
	Dispatch     dispatch.Options
}

// Server upgrades HTTP requests to WebSocket sessions.
type Server struct {
	auth     Authenticator
	hosts    HostPolicy
	registry *bridge.Registry
	handler  *handler.Handler
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
	ctx      context.Context
}

// NewServer creates a server. Connections end when ctx does.
func NewServer(ctx context.Context, auth Authenticator, hosts HostPolicy, registry *bridge.Registry, h *handler.Handler, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 1 << 20
	}
	s := &Server{
		auth:     auth,
		hosts:    hosts,
		registry: registry,
		handler:  h,
		opts:     opts,
		logger:   logger,
		ctx:      ctx,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if !s.hosts.AllowedHost(u.Hostname()) {
		s.logger.Warn("rejected connection from unauthorized origin", zap.String("origin", origin))
		return false
	}
	return true
}

// ServeWS handles WebSocket upgrade requests with token auth (header or query param).
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := ""
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}

	p, err := s.auth.Authenticate(token)
	if errors.Is(err, pairing.ErrUnauthorized) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err != nil {
		s.logger.Error("pairing lookup failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	go s.serve(ws, p)
}

// serve runs one connection: attach to the session, pump frames through the
// dispatcher and detach when either side goes away.
func (s *Server) serve(ws *websocket.Conn, p *store.Pairing) {
	session := s.registry.Session(p.ID)
	conn := newConn(ws, session.Logger())
	go conn.writePump()

	if err := session.Attach(conn); err != nil {
		session.Logger().Error("failed to attach connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	logger := session.Logger()
	logger.Info("client connected", zap.String("pairing_name", p.Name))

	ctx, cancel := context.WithCancel(s.ctx)
	d := dispatch.New(session, s.handler, s.opts.Dispatch)
	go func() {
		_ = d.Serve(ctx)
	}()
	go func() {
		// Server shutdown or a replaced connection ends the read loop.
		select {
		case <-ctx.Done():
		case <-conn.done:
		}
		_ = ws.Close()
	}()

	conn.readPump(s.opts.MaxFrameSize, func(frame []byte) error {
		return d.Receive(ctx, frame)
	})

	cancel()
	session.Detach(conn)
	logger.Info("client disconnected")
}
