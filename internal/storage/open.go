package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "cyclex/pkg/logx"
)

// Store persists telemetry and events. Implementations are safe for
// concurrent use.
type Store interface {
	AppendTelemetry(ctx context.Context, r TelemetryRecord) error
	AppendEvent(ctx context.Context, e EventRecord) error
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Counts(ctx context.Context) (Counts, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
