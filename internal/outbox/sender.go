package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/wbridge/internal/domain"
	"github.com/matheus3301/wbridge/internal/store"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Upstream is the chat network outgoing items are delivered to.
type Upstream interface {
	Deliver(ctx context.Context, item Item) error
}

// Sender drains the outbox and delivers items upstream.
type Sender struct {
	db       *store.DB
	outbox   *Outbox
	upstream Upstream
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender. interval bounds how long a queued
// item waits when no wakeup arrives.
func NewSender(db *store.DB, o *Outbox, upstream Upstream, interval time.Duration, logger *zap.Logger) *Sender {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		outbox:   o,
		upstream: upstream,
		interval: interval,
		logger:   logger,
	}
}

// Start requeues items interrupted by a previous run and begins draining.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueSending(); err != nil {
		s.logger.Error("failed to requeue interrupted items", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted items", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-s.outbox.wake:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox(0)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := s.db.MarkOutboxSending(entry.ClientID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", entry.ClientID))
			continue
		}
		s.outbox.metrics.OutboxItem(entry.Kind, store.OutboxSending)

		item, err := decode(entry)
		if err == nil {
			err = s.upstream.Deliver(ctx, item)
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Left in 'sending'; requeued on the next start.
			return
		}
		s.finish(ctx, item, err)
	}
}

func decode(e store.OutboxEntry) (Item, error) {
	item := Item{ClientID: e.ClientID, Kind: e.Kind}
	to, err := parseTarget(e.Target)
	if err != nil {
		return item, err
	}
	item.Target = to
	if len(e.Payload) > 0 {
		if err := msgpack.Unmarshal(e.Payload, &item.Payload); err != nil {
			return item, fmt.Errorf("decode outbox payload: %w", err)
		}
	}
	return item, nil
}

// finish records the outcome, moves a sent message to its new state and
// resolves the waiting handler.
func (s *Sender) finish(ctx context.Context, item Item, sendErr error) {
	logger := s.logger.With(zap.String("kind", item.Kind), zap.String("client_id", item.ClientID))
	if sendErr != nil {
		logger.Error("failed to deliver item", zap.Error(sendErr))
		if err := s.db.MarkOutboxFailed(item.ClientID, sendErr.Error()); err != nil {
			logger.Error("failed to mark failed", zap.Error(err))
		}
		s.outbox.metrics.OutboxItem(item.Kind, store.OutboxFailed)
	} else {
		if err := s.db.MarkOutboxSent(item.ClientID); err != nil {
			logger.Error("failed to mark sent", zap.Error(err))
		}
		s.outbox.metrics.OutboxItem(item.Kind, store.OutboxSent)
		logger.Debug("item delivered")
	}

	if item.Kind == KindMessage && item.MessageID != "" {
		if err := s.updateMessage(ctx, item.MessageID, sendErr); err != nil {
			logger.Error("failed to update message state", zap.String("message_id", item.MessageID), zap.Error(err))
		}
	}
	s.outbox.resolve(item.ClientID, sendErr)
}

func (s *Sender) updateMessage(ctx context.Context, id string, sendErr error) error {
	return s.db.Atomic(context.WithoutCancel(ctx), func(tx domain.Tx) error {
		m, err := tx.Message(id)
		if errors.Is(err, domain.ErrNotFound) {
			// Deleted while queued.
			return nil
		}
		if err != nil {
			return err
		}
		if sendErr != nil {
			m.State = domain.StateFailed
		} else {
			m.State = domain.StateSent
			m.SentAt = time.Now()
		}
		return tx.SaveMessage(m)
	})
}
