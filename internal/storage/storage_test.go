package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "cyclex/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", d, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "var", "cyclex.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			ctx := context.Background()
			old := time.Now().Add(-48 * time.Hour)
			now := time.Now()

			must := func(err error) {
				t.Helper()
				if err != nil {
					t.Fatal(err)
				}
			}
			must(st.AppendTelemetry(ctx, TelemetryRecord{At: old, Slot: 9, Line: "0,0,0.0,0.0"}))
			must(st.AppendTelemetry(ctx, TelemetryRecord{At: now, Slot: 259, Line: "1000,1,2.5,0.5", FrequencyHz: 1000, Switch: true, Analog1: 5, Analog2: 1}))
			must(st.AppendEvent(ctx, EventRecord{At: old, Type: "executive.started"}))
			must(st.AppendEvent(ctx, EventRecord{At: now, Type: "tick.overrun", Slot: 102, Task: "display_update", Detail: "25ms"}))
			must(st.AppendEvent(ctx, EventRecord{Type: "executive.halted", Slot: 303}))

			c, err := st.Counts(ctx)
			must(err)
			if c.Telemetry != 2 || c.Events != 3 {
				t.Fatalf("counts = %+v", c)
			}

			n, err := st.Prune(ctx, now.Add(-time.Hour))
			must(err)
			if n != 2 {
				t.Fatalf("pruned %d, want 2", n)
			}
			c, err = st.Counts(ctx)
			must(err)
			if c.Telemetry != 1 || c.Events != 2 {
				t.Fatalf("counts after prune = %+v", c)
			}

			// Appends keep working after a prune, and counts survive reopening.
			must(st.AppendEvent(ctx, EventRecord{Type: "executive.started"}))
			must(st.Close())

			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			must(err)
			defer st.Close()
			c, err = st.Counts(ctx)
			must(err)
			if c.Telemetry != 1 || c.Events != 3 {
				t.Fatalf("counts after reopen = %+v", c)
			}
		})
	}
}
