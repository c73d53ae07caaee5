package core

import (
	"context"
	"time"
)

// UpgradeState is a state of the version reconciliation state machine.
type UpgradeState string

const (
	// StateUnchecked is the state before Init ran.
	StateUnchecked UpgradeState = "unchecked"

	// StateUpgrading is the state while DDL is being applied.
	StateUpgrading UpgradeState = "upgrading"

	// StateReady means the stored version equals the declared one.
	StateReady UpgradeState = "ready"

	// StateFailed means the table cannot be used until an operator steps in.
	StateFailed UpgradeState = "failed"
)

// UpgradeEvent records the outcome of an upgrade attempt.
type UpgradeEvent struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Table is the physical table name.
	Table string `json:"table"`

	// OptionName is the key the schema version is stored under.
	OptionName string `json:"option_name"`

	// FromVersion is the stored version before the attempt.
	FromVersion int `json:"from_version"`

	// ToVersion is the declared version.
	ToVersion int `json:"to_version"`

	// State is the resulting state (ready or failed).
	State UpgradeState `json:"state"`

	// Error holds the failure message for failed attempts.
	Error string `json:"error,omitempty"`

	// Timestamp is when the attempt finished.
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher ships upgrade events to operators.
type EventPublisher interface {
	// Publish sends one event.
	Publish(ctx context.Context, event *UpgradeEvent) error

	// Close flushes and releases resources.
	Close() error
}
