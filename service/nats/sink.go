package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solstream/service/stream"
)

// BalanceSink adapts a Publisher to the stream package's Sink interface,
// so a session's updates and status transitions fan out over JetStream.
// Publish failures are logged and dropped; the session must not be
// disturbed by a slow or unavailable bus.
type BalanceSink struct {
	address   string
	publisher Publisher
	logger    *slog.Logger

	// PublishTimeout bounds each publish call so the session's event
	// path cannot block indefinitely.
	PublishTimeout time.Duration
}

// NewBalanceSink creates a sink that publishes events for one address.
func NewBalanceSink(address string, publisher Publisher, logger *slog.Logger) *BalanceSink {
	return &BalanceSink{
		address:        address,
		publisher:      publisher,
		logger:         logger,
		PublishTimeout: 5 * time.Second,
	}
}

// OnBalanceUpdate publishes the update to "balances.{address}.updates".
func (s *BalanceSink) OnBalanceUpdate(update stream.BalanceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), s.PublishTimeout)
	defer cancel()

	event := FromBalanceUpdate(s.address, update)
	if err := s.publisher.PublishBalance(ctx, event); err != nil {
		s.logger.Error("failed to publish balance update",
			"address", s.address,
			"lamports", update.Lamports,
			"error", err,
		)
	}
}

// OnStatusChange publishes the transition to "balances.{address}.status".
func (s *BalanceSink) OnStatusChange(status stream.Status, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.PublishTimeout)
	defer cancel()

	event := &StatusEvent{
		Address:     s.address,
		Status:      status,
		Attempt:     attempt,
		PublishedAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		s.logger.Error("failed to publish status change",
			"address", s.address,
			"status", status,
			"error", err,
		)
	}
}
