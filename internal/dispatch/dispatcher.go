// Package dispatch pumps the inbound frames of one session through the
// handlers and correlates replies to requests the bridge sends itself.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wbridge/internal/bridge"
	"github.com/matheus3301/wbridge/internal/envelope"
	"github.com/matheus3301/wbridge/internal/handler"
	"github.com/matheus3301/wbridge/internal/metrics"
	"github.com/matheus3301/wbridge/internal/protocol"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Receive when the worker falls behind.
var ErrQueueFull = errors.New("dispatch queue full")

// Options configures a Dispatcher.
type Options struct {
	QueueSize   int
	AckInterval time.Duration
	AckTimeout  time.Duration
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Dispatcher serializes handler execution for one session. Receive is called
// from the transport read loop and never blocks on a handler.
type Dispatcher struct {
	session    *bridge.Session
	handler    *handler.Handler
	correlator *Correlator
	queue      chan *envelope.Envelope
	opts       Options
	logger     *zap.Logger

	mu    sync.Mutex
	ackID string
}

// New creates a dispatcher for s.
func New(s *bridge.Session, h *handler.Handler, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = s.Logger()
	}
	return &Dispatcher{
		session:    s,
		handler:    h,
		correlator: NewCorrelator(),
		queue:      make(chan *envelope.Envelope, opts.QueueSize),
		opts:       opts,
		logger:     logger.With(zap.String("session_id", s.ID())),
	}
}

// Correlator returns the dispatcher's pending-request map.
func (d *Dispatcher) Correlator() *Correlator { return d.correlator }

// Receive decodes one inbound frame and queues it for the worker.
func (d *Dispatcher) Receive(ctx context.Context, frame []byte) error {
	if _, err := d.session.CountIncoming(); err != nil {
		return fmt.Errorf("count incoming: %w", err)
	}
	env, err := envelope.Decode(frame)
	if err != nil {
		d.opts.Metrics.DecodeFailure()
		var me *envelope.MalformedError
		if errors.As(err, &me) && me.ID != "" {
			d.logger.Info("malformed request", zap.String("request_id", me.ID), zap.Error(err))
			return d.send(ctx, handler.Failure(me.ID, envelope.CodeBadRequest))
		}
		d.logger.Warn("dropping undecodable frame", zap.Int("bytes", len(frame)), zap.Error(err))
		return nil
	}
	d.opts.Metrics.FrameReceived(string(env.Type), env.SubType)

	if env.Type == envelope.TypeResponse {
		if !d.correlator.Resolve(env) {
			d.logger.Debug("dropping uncorrelated response", zap.String("sub_type", env.SubType), zap.String("request_id", env.ID))
		}
		return nil
	}
	if env.Key() == (envelope.Key{Type: envelope.TypeUpdate, SubType: protocol.SubConnectionAck}) {
		d.resolveAck(env)
	}
	select {
	case d.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// resolveAck matches a client connectionAck to the request we sent. Clients
// may omit the id, in which case the outstanding request is assumed.
func (d *Dispatcher) resolveAck(env *envelope.Envelope) {
	id := env.ID
	if id == "" {
		d.mu.Lock()
		id = d.ackID
		d.mu.Unlock()
	}
	d.correlator.ResolveID(id, env)
}

// Serve runs the worker until ctx ends.
func (d *Dispatcher) Serve(ctx context.Context) error {
	var tick <-chan time.Time
	if d.opts.AckInterval > 0 {
		ticker := time.NewTicker(d.opts.AckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-d.queue:
			d.handle(ctx, env)
		case <-tick:
			if d.session.Ready() {
				go d.requestAck(ctx)
			}
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, env *envelope.Envelope) {
	// Checked here rather than in Receive so that a request queued right
	// behind the client's connectionInfo is not dropped.
	if !d.session.Ready() && env.Type != envelope.TypeUpdate {
		d.logger.Info("dropping frame before handshake", zap.String("type", string(env.Type)), zap.String("sub_type", env.SubType))
		return
	}
	start := time.Now()
	res := d.run(ctx, env)
	d.opts.Metrics.ObserveHandler(string(env.Type), env.SubType, time.Since(start))

	if res.Reply != nil {
		if err := d.send(ctx, res.Reply); err != nil {
			d.logger.Warn("failed to send reply", zap.String("request_id", env.ID), zap.Error(err))
		}
	}
	if res.After != nil {
		res.After()
	}
	if res.Pending == nil {
		return
	}
	// Pending work is bound to the current connection.
	sctx := d.session.Context()
	go func() {
		reply := res.Pending(sctx)
		if reply == nil || sctx.Err() != nil {
			return
		}
		if err := d.send(sctx, reply); err != nil {
			d.logger.Warn("failed to send pending reply", zap.String("request_id", env.ID), zap.Error(err))
		}
	}()
}

// run calls the handler, turning a panic into an internalError ack.
func (d *Dispatcher) run(ctx context.Context, env *envelope.Envelope) (res handler.Result) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.Metrics.Panic()
			d.logger.Error("handler panic",
				zap.String("type", string(env.Type)),
				zap.String("sub_type", env.SubType),
				zap.Any("panic", r),
			)
			res = handler.Result{Reply: handler.Failure(env.ID, envelope.CodeInternalError)}
		}
	}()
	return d.handler.Handle(ctx, d.session, env)
}

func (d *Dispatcher) send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return nil
	}
	if env.Ack != nil && !env.Ack.Success {
		d.opts.Metrics.AckError(string(env.Ack.Error))
	}
	if err := d.session.Send(ctx, env); err != nil {
		return err
	}
	d.opts.Metrics.FrameSent(string(env.Type), env.SubType)
	return nil
}

// requestAck asks the client for its incoming sequence number and waits for
// the matching update/connectionAck.
func (d *Dispatcher) requestAck(ctx context.Context) {
	id := uuid.NewString()
	d.mu.Lock()
	d.ackID = id
	d.mu.Unlock()

	ch := d.correlator.Expect(id)
	env := &envelope.Envelope{Type: envelope.TypeRequest, SubType: protocol.SubConnectionAck, ID: id}
	if err := d.send(ctx, env); err != nil {
		d.correlator.Cancel(id)
		d.logger.Debug("connection ack request not sent", zap.Error(err))
		return
	}
	if _, err := d.correlator.Wait(ctx, id, ch, d.opts.AckTimeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			d.logger.Warn("client did not acknowledge", zap.String("request_id", id), zap.Duration("timeout", d.opts.AckTimeout))
		}
	}
}
