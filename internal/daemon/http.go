package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const readHeaderTimeout = 10 * time.Second

// httpServer serves one handler on an already bound listener.
type httpServer struct {
	name   string
	srv    *http.Server
	lis    net.Listener
	logger *zap.Logger
}

func newHTTPServer(name string, lis net.Listener, h http.Handler, logger *zap.Logger) *httpServer {
	return &httpServer{
		name:   name,
		srv:    &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout},
		lis:    lis,
		logger: logger.With(zap.String("server", name)),
	}
}

// Start serves in the background. Safe to call on nil receiver.
func (s *httpServer) Start() {
	if s == nil {
		return
	}
	s.logger.Info("http server starting", zap.String("addr", s.lis.Addr().String()))
	go func() {
		if err := s.srv.Serve(s.lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
}

// Stop shuts the server down. Hijacked WebSocket connections are not waited
// for; they end with the daemon context.
func (s *httpServer) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.logger.Info("http server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown", zap.Error(err))
	}
}

// Addr returns the bound address.
func (s *httpServer) Addr() net.Addr {
	return s.lis.Addr()
}

type webServer struct{ *httpServer }

type metricsServer struct{ *httpServer }

func provideWebServer(wl *webListener, t *transport.Server, logger *zap.Logger) *webServer {
	return &webServer{newHTTPServer("web", wl.Listener, t.Handler(), logger)}
}

// provideMetricsServer returns a server with no listener when metrics_addr
// is empty.
func provideMetricsServer(p Params, reg *prometheus.Registry, logger *zap.Logger) (*metricsServer, error) {
	if p.Config.MetricsAddr == "" {
		return &metricsServer{}, nil
	}
	lis, err := net.Listen("tcp", p.Config.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.Config.MetricsAddr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	return &metricsServer{newHTTPServer("metrics", lis, mux, logger)}, nil
}
