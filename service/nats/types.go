package nats

import (
	"time"

	"github.com/brojonat/solstream/service/stream"
)

// BalanceEvent represents a balance update published to NATS.
// This is published to the subject "balances.{address}.updates" in JetStream.
type BalanceEvent struct {
	// Account information
	Address string `json:"address"`

	// Balance at the moment of observation
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"` // decimal string, derived from Lamports

	// Slot the update was confirmed at; absent for the seed update
	Slot *uint64 `json:"slot,omitempty"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// StatusEvent represents a connection-phase transition published to NATS.
// This is published to the subject "balances.{address}.status".
type StatusEvent struct {
	Address     string        `json:"address"`
	Status      stream.Status `json:"status"`
	Attempt     int           `json:"attempt,omitempty"`
	PublishedAt time.Time     `json:"published_at"`
}

// FromBalanceUpdate converts a stream update to a BalanceEvent for publishing.
func FromBalanceUpdate(address string, update stream.BalanceUpdate) *BalanceEvent {
	return &BalanceEvent{
		Address:     address,
		Lamports:    update.Lamports,
		SOL:         update.SOL().String(),
		Slot:        update.Slot,
		Timestamp:   update.Timestamp,
		PublishedAt: time.Now().UTC(),
	}
}
