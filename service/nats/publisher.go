package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solstream/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing balance events to NATS.
type Publisher interface {
	// PublishBalance publishes a single balance event to JetStream.
	// The event is published to the subject "balances.{address}.updates".
	PublishBalance(ctx context.Context, event *BalanceEvent) error

	// PublishStatus publishes a connection-status transition to
	// "balances.{address}.status".
	PublishStatus(ctx context.Context, event *StatusEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes balance events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for balance events.
	StreamName = "BALANCES"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "balances.>"

	// StreamRetention is how long messages are retained.
	StreamRetention = 7 * 24 * time.Hour
)

// UpdateSubject returns the subject balance updates are published to for
// an address.
func UpdateSubject(address string) string {
	return fmt.Sprintf("balances.%s.updates", address)
}

// StatusSubject returns the subject status transitions are published to
// for an address.
func StatusSubject(address string) string {
	return fmt.Sprintf("balances.%s.status", address)
}

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. metrics may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	// Connect to NATS
	nc, err := nats.Connect(natsURL,
		nats.Name("solstream-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	// Ensure stream exists
	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Try to get existing stream
	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		// Stream exists, log info
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	// Stream doesn't exist, create it
	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Balance events from monitored Solana accounts",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	_, err = p.js.CreateStream(ctx, streamConfig)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishBalance publishes a single balance event.
func (p *JetStreamPublisher) PublishBalance(ctx context.Context, event *BalanceEvent) error {
	subject := UpdateSubject(event.Address)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish balance event: %w", err)
	}

	p.logger.Debug("published balance event",
		"subject", subject,
		"address", event.Address,
		"lamports", event.Lamports,
	)
	return nil
}

// PublishStatus publishes a connection-status transition.
func (p *JetStreamPublisher) PublishStatus(ctx context.Context, event *StatusEvent) error {
	subject := StatusSubject(event.Address)

	if err := p.publish(ctx, subject, event); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	p.logger.Debug("published status event",
		"subject", subject,
		"address", event.Address,
		"status", event.Status,
	)
	return nil
}

func (p *JetStreamPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	start := time.Now()
	_, err = p.js.Publish(ctx, subject, data)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	return err
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
