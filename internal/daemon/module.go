// Package daemon wires the bridge into an fx application for one profile.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/api"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/bus"
	"github.com/matheus3301/wbridge/internal/config"
	"github.com/matheus3301/wbridge/internal/device"
	"github.com/matheus3301/wbridge/internal/dispatch"
	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/handler"
	"github.com/matheus3301/wbridge/internal/lock"
	"github.com/matheus3301/wbridge/internal/logging"
	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/notifier"
	"github.com/matheus3301/wbridge/internal/outbox"
	"github.com/matheus3301/wbridge/internal/pairing"
	"github.com/matheus3301/wbridge/internal/policy"
	"github.com/matheus3301/wbridge/internal/profile"
	"github.com/matheus3301/wbridge/internal/store"
	"github.com/matheus3301/wbridge/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AppVersion is reported to clients in response/clientInfo.
var AppVersion = "0.1.0"

const (
	outboxInterval = time.Second
	gaugeInterval  = 5 * time.Second

	// cleanShutdownKey is "false" while a daemon runs on the store.
	cleanShutdownKey = "daemon.clean_shutdown"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	Config     *config.Config
	SocketPath string // optional override for testing; empty = use default
}

// Self is the identity of the local account.
type Self string

// root is the daemon-scoped context; sessions and workers end with it.
type root struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// webListener is the bound address of the client WebSocket endpoint.
type webListener struct{ net.Listener }

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideRoot,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideSelf,
			provideMetrics,
			provideRegistry,
			provideOutbox,
			provideSender,
			providePolicy,
			provideDevice,
			provideWebListener,
			providePairings,
			provideHandler,
			provideNotifier,
			provideTransport,
			provideWebServer,
			provideMetricsServer,
			provideControlService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideRoot() *root {
	ctx, cancel := context.WithCancel(context.Background())
	return &root{ctx: ctx, cancel: cancel}
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile), p.Config.ListenAddr)
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by two
// daemons.
func provideStore(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	db.SetPublisher(b)
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideSelf resolves the local identity: the configured one, then the one
// stored by a previous run, then a new random identity.
func provideSelf(p Params, db *store.DB, logger *zap.Logger) (Self, error) {
	want := p.Config.Identity
	var self string
	err := db.Atomic(context.Background(), func(tx domain.Tx) error {
		prof, err := tx.Profile()
		switch {
		case errors.Is(err, domain.ErrNotFound):
			prof = &domain.Profile{}
		case err != nil:
			return err
		}
		changed := false
		if want.Identity != "" && prof.Identity != want.Identity {
			prof.Identity = want.Identity
			changed = true
		}
		if prof.Identity == "" {
			prof.Identity = newIdentity()
			changed = true
		}
		if want.PublicNickname != "" && prof.PublicNickname != want.PublicNickname {
			prof.PublicNickname = want.PublicNickname
			changed = true
		}
		self = prof.Identity
		if !changed {
			return nil
		}
		return tx.SaveProfile(prof)
	})
	if err != nil {
		return "", fmt.Errorf("resolve identity: %w", err)
	}
	logger.Info("identity resolved", zap.String("identity", self))
	return Self(self), nil
}

func newIdentity() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:8])
}

func provideMetrics(b *bus.Bus) (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	m.WatchDropped("bus_events_dropped_total", "Events dropped because a subscriber was full.", func() float64 {
		return float64(b.Dropped())
	})
	m.WatchDropped("notifier_events_dropped_total", "Domain events the notifier missed.", func() float64 {
		return float64(b.DroppedFor(domain.EventNamespace))
	})
	return m, reg
}

func provideRegistry(p Params, b *bus.Bus, logger *zap.Logger) *bridge.Registry {
	return bridge.NewRegistry(bridge.Options{
		CursorCacheSize: p.Config.CursorCacheSize,
		ReplayFrames:    p.Config.ReplayFrames,
		Bus:             b,
		Logger:          logger,
	})
}

func provideOutbox(db *store.DB, m *metrics.Metrics, logger *zap.Logger) *outbox.Outbox {
	return outbox.New(db, m, logger)
}

// provideSender delivers outbox items to the loopback upstream; there is no
// network upstream in this daemon.
func provideSender(db *store.DB, o *outbox.Outbox, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, o, outbox.NewLoopback(logger), outboxInterval, logger)
}

func providePolicy(p Params) *policy.Policy {
	return policy.New(p.Config)
}

func provideDevice() *device.Host {
	return device.New("")
}

func provideWebListener(p Params) (*webListener, error) {
	lis, err := net.Listen("tcp", p.Config.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", p.Config.ListenAddr, err)
	}
	return &webListener{lis}, nil
}

func providePairings(db *store.DB, wl *webListener, logger *zap.Logger) *pairing.Manager {
	return pairing.NewManager(db, "ws://"+wl.Addr().String()+"/ws", logger)
}

func provideHandler(p Params, db *store.DB, o *outbox.Outbox, pol *policy.Policy, dev *device.Host, pm *pairing.Manager, self Self, m *metrics.Metrics, logger *zap.Logger) (*handler.Handler, error) {
	constraint, err := p.Config.ClientConstraint()
	if err != nil {
		return nil, err
	}
	return handler.New(handler.Deps{
		Repo:          db,
		Messenger:     o,
		Policy:        pol,
		Device:        dev,
		Pairings:      pm,
		Self:          string(self),
		PageSize:      p.Config.PageSize,
		ClientVersion: constraint,
		AppVersion:    AppVersion,
		Metrics:       m,
		Logger:        logger,
	}), nil
}

func provideNotifier(db *store.DB, registry *bridge.Registry, b *bus.Bus, self Self, m *metrics.Metrics, logger *zap.Logger) *notifier.Notifier {
	return notifier.New(db, registry, b, string(self), m, logger)
}

func provideTransport(p Params, r *root, pm *pairing.Manager, pol *policy.Policy, registry *bridge.Registry, h *handler.Handler, m *metrics.Metrics, logger *zap.Logger) *transport.Server {
	return transport.NewServer(r.ctx, pm, pol, registry, h, transport.Options{
		MaxFrameSize: p.Config.MaxFileSize + 64<<10,
		Dispatch: dispatch.Options{
			AckInterval: p.Config.ConnectionAckInterval.Duration,
			Metrics:     m,
			Logger:      logger,
		},
	}, logger)
}

func provideControlService(p Params, self Self, wl *webListener, db *store.DB, registry *bridge.Registry, pm *pairing.Manager, b *bus.Bus, logger *zap.Logger) *api.ControlService {
	return api.NewControlService(api.ControlOptions{
		Profile:    p.Profile,
		ListenAddr: wl.Addr().String(),
		Self:       string(self),
	}, db, registry, pm, b, logger)
}

type lifecycleParams struct {
	fx.In

	Root     *root
	Bus      *bus.Bus
	Server   *Server
	Web      *webServer
	Metrics  *metricsServer
	Lock     *lock.Lock
	DB       *store.DB
	Sender   *outbox.Sender
	Notifier *notifier.Notifier
	Registry *bridge.Registry
	Gauges   *metrics.Metrics
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if clean, ok, err := lp.DB.Checkpoint(cleanShutdownKey); err != nil {
				return err
			} else if ok && clean != "true" {
				logger.Warn("previous run did not shut down cleanly")
			}
			if err := lp.DB.SetCheckpoint(cleanShutdownKey, "false"); err != nil {
				return err
			}

			// The notifier subscribes before any client can connect.
			lp.Notifier.Start(lp.Root.ctx)
			lp.Sender.Start(lp.Root.ctx)

			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			lp.Web.Start()
			lp.Metrics.Start()
			go updateGauges(lp.Root.ctx, lp.Registry, lp.Gauges)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Web.Stop(ctx)
			lp.Metrics.Stop(ctx)
			lp.Root.cancel()
			for _, s := range lp.Registry.List() {
				s.Disconnect()
			}
			lp.Server.Stop(ctx)
			lp.Sender.Stop()
			lp.Notifier.Stop()
			lp.Bus.Close()
			if err := lp.DB.SetCheckpoint(cleanShutdownKey, "true"); err != nil {
				logger.Warn("error recording shutdown", zap.Error(err))
			}
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// updateGauges refreshes the session gauges until ctx is done.
func updateGauges(ctx context.Context, registry *bridge.Registry, m *metrics.Metrics) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()
	for {
		byState := map[string]int{}
		replay := 0
		for _, s := range registry.List() {
			info := s.Info()
			byState[string(info.State)]++
			replay += info.ReplayBytes
		}
		m.SetSessions(byState)
		m.SetReplayBytes(replay)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
