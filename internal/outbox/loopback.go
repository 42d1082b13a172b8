package outbox

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Loopback accepts every item without a network. It stands in for the chat
// network when the bridge runs against a seeded store.
type Loopback struct {
	logger    *zap.Logger
	delivered atomic.Int64
}

// NewLoopback creates a loopback upstream.
func NewLoopback(logger *zap.Logger) *Loopback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loopback{logger: logger}
}

func (l *Loopback) Deliver(_ context.Context, item Item) error {
	l.delivered.Add(1)
	l.logger.Debug("loopback delivery",
		zap.String("kind", item.Kind),
		zap.String("target", target(item.Target)),
	)
	return nil
}

// Delivered returns the number of items accepted.
func (l *Loopback) Delivered() int64 {
	return l.delivered.Load()
}
