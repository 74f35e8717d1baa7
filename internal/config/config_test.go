package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "cyclex/pkg/logx"
)

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := []byte(`
executive:
  tick: 10ms
  tasks:
    - {name: fast, action: measure_frequency, period: 5, phase: 1, slot_cost: 2}
board: {sim: {frequency_hz: 500, switch: true}}
telemetry: {console: true}
logging: {level: debug, console: true, file: {enabled: false, path: ""}}
storage: {driver: sqlite, path: ./x.db, retention: 24h}
maintenance: {enabled: true, report: "@every 1m"}
`)
	cfg, err := Decode("cyclex.yaml", yml)
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if cfg.Executive.Tick != "10ms" || len(cfg.Executive.Tasks) != 1 {
		t.Fatalf("executive = %+v", cfg.Executive)
	}
	task := cfg.Executive.Tasks[0]
	if task.Action != "measure_frequency" || task.Period != 5 || task.Phase != 1 || task.SlotCost != 2 {
		t.Fatalf("task = %+v", task)
	}
	if cfg.Storage == nil || cfg.Storage.Retention != "24h" || !cfg.Board.Sim.Switch || cfg.Board.Sim.FrequencyHz != 500 {
		t.Fatalf("cfg = %+v", cfg)
	}

	js := []byte(`{"executive":{"tick":"20ms"},"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}}}`)
	if _, err := Decode("cyclex.json", js); err != nil {
		t.Fatalf("json: %v", err)
	}
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("executive: {tick: 20ms, ticks: 3}\n")); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("unknown field err = %v", err)
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := Decode("c.yaml", []byte("executive: [")); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", " 150ms "); err != nil || d != 150*time.Millisecond {
		t.Fatalf("parsed = %v, %v", d, err)
	}
	if _, err := ParseDurationField("executive.tick", "-1s"); err == nil || !strings.Contains(err.Error(), "executive.tick") {
		t.Fatalf("negative err = %v", err)
	}
	if _, err := ParseDurationField("executive.tick", "soon"); err == nil {
		t.Fatal("invalid duration accepted")
	}
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{
		Executive: ExecutiveConfig{Tick: "10ms"},
		Telemetry: TelemetryConfig{Telegram: TelegramConfig{Enabled: true, Token: "secret-token", ChatID: 1}},
		Logging:   LoggingConfig{Level: "debug"},
	}
	sections, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(sections, ",") != "executive,logging,telemetry" {
		t.Fatalf("sections = %v", sections)
	}
	if got := RestartRequired(sections); strings.Join(got, ",") != "executive,telemetry" {
		t.Fatalf("restart = %v", got)
	}
}

func TestManagerWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "cyclex.yaml")
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("logging: {level: info, console: false, file: {enabled: false, path: \"\"}}\n")

	m := NewManager(path)
	m.SetLogger(logx.Nop())
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Logging.Level == "bogus" {
			return os.ErrInvalid
		}
		return nil
	})
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	write("logging: {level: bogus, console: false, file: {enabled: false, path: \"\"}}\n")
	time.Sleep(600 * time.Millisecond)
	select {
	case cfg := <-sub:
		t.Fatalf("rejected config published: %+v", cfg.Logging)
	default:
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("rejected config committed: %q", m.Get().Logging.Level)
	}

	write("logging: {level: debug, console: false, file: {enabled: false, path: \"\"}}\n")
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-ctx.Done():
		t.Fatal("no config published")
	}
}
