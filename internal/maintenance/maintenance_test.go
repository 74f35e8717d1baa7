package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cyclex/internal/executive"
	"cyclex/internal/storage"
	logx "cyclex/pkg/logx"
)

func TestValidateSpec(t *testing.T) {
	t.Parallel()
	for _, ok := range []string{"", "@every 1m", "*/5 * * * *", "0 */10 * * * *", "@daily"} {
		if err := ValidateSpec(ok); err != nil {
			t.Fatalf("ValidateSpec(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"every minute", "61 * * * *", "@fortnightly"} {
		if err := ValidateSpec(bad); err == nil {
			t.Fatalf("ValidateSpec(%q) accepted", bad)
		}
	}
}

func TestServiceRunsScheduledJob(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var runs atomic.Int32
	done := make(chan struct{})
	s := New(logx.Nop())
	s.Register("tick", func(context.Context) error {
		if runs.Add(1) == 1 {
			close(done)
		}
		return nil
	})
	s.Register("never", func(context.Context) error { return errors.New("should not run") })

	if err := s.Start(ctx, Config{Enabled: true, Specs: map[string]string{"tick": "@every 1s"}}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	next := s.Next()
	if _, ok := next["never"]; ok || next["tick"].IsZero() {
		t.Fatalf("next = %v", next)
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("job did not run")
	}

	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(s.Next()) != 0 {
		t.Fatal("jobs still scheduled after disable")
	}
}

func TestStartRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop())
	s.Register(JobReport, func(context.Context) error { return nil })
	err := s.Start(context.Background(), Config{Enabled: true, Timezone: "Mars/Olympus", Specs: map[string]string{JobReport: "@hourly"}})
	if err == nil {
		t.Fatal("expected timezone error")
	}
}

func TestPruneAndReportJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "cyclex.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	_ = st.AppendTelemetry(ctx, storage.TelemetryRecord{At: time.Now().Add(-72 * time.Hour), Line: "old"})
	_ = st.AppendTelemetry(ctx, storage.TelemetryRecord{Line: "new"})

	s := New(logx.Nop())
	s.Register(JobPrune, PruneJob(st, 24*time.Hour, logx.Nop()))
	s.Register(JobReport, ReportJob(func() executive.Status {
		return executive.Status{Slot: 10, Ticks: 10, Runs: map[string]uint64{"measure_frequency": 1}}
	}, st, logx.Nop()))

	if err := s.RunNow(ctx, JobPrune); err != nil {
		t.Fatalf("prune: %v", err)
	}
	c, _ := st.Counts(ctx)
	if c.Telemetry != 1 {
		t.Fatalf("telemetry after prune = %d, want 1", c.Telemetry)
	}
	if err := s.RunNow(ctx, JobReport); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := s.RunNow(ctx, "missing"); err == nil {
		t.Fatal("expected unknown job error")
	}
	if err := PruneJob(nil, time.Hour, logx.Nop())(ctx); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("prune without store = %v", err)
	}
}
