package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines next to Path
//   - "sqlite": SQLite database at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TelemetryRecord is one transmitted telemetry line plus the snapshot it was
// formatted from.
type TelemetryRecord struct {
	At          time.Time `json:"at"`
	Slot        uint64    `json:"slot"`
	Line        string    `json:"line"`
	FrequencyHz int       `json:"frequency_hz"`
	Switch      bool      `json:"switch"`
	Analog1     float64   `json:"analog1"`
	Analog2     float64   `json:"analog2"`
}

// EventRecord is a lifecycle event (start, halt, overrun, drop).
type EventRecord struct {
	At     time.Time `json:"at"`
	Type   string    `json:"type"`
	Slot   uint64    `json:"slot,omitempty"`
	Task   string    `json:"task,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// Counts is the number of stored records per kind.
type Counts struct {
	Telemetry int64
	Events    int64
}
