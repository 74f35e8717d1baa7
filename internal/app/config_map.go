package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cyclex/internal/config"
	"cyclex/internal/executive"
	"cyclex/internal/hal/sim"
	"cyclex/internal/maintenance"
	"cyclex/internal/observability/debugsrv"
	"cyclex/internal/storage"
	"cyclex/internal/tasks"
	"cyclex/internal/transport"
	logx "cyclex/pkg/logx"
)

// Validate checks everything New would reject, so a bad hot reload is refused
// before it is committed.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := mapTick(cfg)
	add(err)
	rows := mapRows(cfg)
	for i, r := range rows {
		name := r.Action
		if name == "" {
			name = r.Name
		}
		if !tasks.Known(name) {
			add(fmt.Errorf("executive.tasks[%d] %q: unknown action %q (known: %s)", i, r.Name, name, strings.Join(tasks.Names(), ", ")))
		}
	}
	add(tasks.Shape(rows).Validate(false))

	if d := strings.TrimSpace(cfg.Board.Driver); d != "" && !strings.EqualFold(d, "sim") {
		add(fmt.Errorf("board.driver: unknown driver %q", d))
	}
	s := cfg.Board.Sim
	if s.FrequencyHz < 0 {
		add(errors.New("board.sim.frequency_hz must be >= 0"))
	}
	if s.Noise < 0 || s.Noise > 1 {
		add(errors.New("board.sim.noise must be within [0,1]"))
	}

	t := cfg.Telemetry
	if t.QueueSize < 0 {
		add(errors.New("telemetry.queue_size must be >= 0"))
	}
	if t.File.Enabled && strings.TrimSpace(t.File.Path) == "" {
		add(errors.New("telemetry.file.path is required when telemetry.file.enabled"))
	}
	if t.Telegram.Enabled {
		if strings.TrimSpace(t.Telegram.Token) == "" {
			add(errors.New("telemetry.telegram.token is required when telemetry.telegram.enabled"))
		}
		if t.Telegram.ChatID == 0 {
			add(errors.New("telemetry.telegram.chat_id is required when telemetry.telegram.enabled"))
		}
	}
	if t.Telegram.RatePerSec < 0 {
		add(errors.New("telemetry.telegram.rate_per_sec must be >= 0"))
	}
	_, err = config.ParseDurationField("telemetry.telegram.poll_timeout", t.Telegram.PollTimeout)
	add(err)

	if cfg.Logging.Remote.RatePerSec < 0 {
		add(errors.New("logging.remote.rate_per_sec must be >= 0"))
	}

	_, _, err = mapStorageConfig(cfg)
	add(err)
	_, err = mapRetention(cfg)
	add(err)
	_, err = mapDebugConfig(cfg)
	add(err)
	_, err = mapMaintenanceConfig(cfg)
	add(err)
	return errors.Join(errs...)
}

func mapTick(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("executive.tick", cfg.Executive.Tick, executive.DefaultTick)
}

// mapRows returns the configured table, or the reference schedule when none
// is configured.
func mapRows(cfg *config.Config) []tasks.Row {
	if len(cfg.Executive.Tasks) == 0 {
		return tasks.ReferenceRows()
	}
	rows := make([]tasks.Row, len(cfg.Executive.Tasks))
	for i, tc := range cfg.Executive.Tasks {
		rows[i] = tasks.Row{
			Name:     strings.TrimSpace(tc.Name),
			Action:   strings.TrimSpace(tc.Action),
			Period:   tc.Period,
			Phase:    tc.Phase,
			SlotCost: tc.SlotCost,
		}
	}
	return rows
}

// Rows exposes the effective table rows (used by the audit command).
func Rows(cfg *config.Config) []tasks.Row { return mapRows(cfg) }

func mapSimConfig(cfg *config.Config) sim.Config {
	s := cfg.Board.Sim
	return sim.Config{
		FrequencyHz:      s.FrequencyHz,
		Analog1:          s.Analog1,
		Analog2:          s.Analog2,
		Noise:            s.Noise,
		Switch:           s.Switch,
		MasterSwitchFile: strings.TrimSpace(s.MasterSwitchFile),
		Seed:             s.Seed,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Remote: logx.RemoteConfig{
			Enabled:    cfg.Logging.Remote.Enabled,
			MinLevel:   cfg.Logging.Remote.MinLevel,
			RatePerSec: cfg.Logging.Remote.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (transport.TelegramConfig, error) {
	tg := cfg.Telemetry.Telegram
	poll, err := config.ParseDurationOrDefault("telemetry.telegram.poll_timeout", tg.PollTimeout, 10*time.Second)
	if err != nil {
		return transport.TelegramConfig{}, err
	}
	return transport.TelegramConfig{
		Token:       strings.TrimSpace(tg.Token),
		ChatID:      tg.ChatID,
		ThreadID:    tg.ThreadID,
		PollTimeout: poll,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapRetention returns 0 when pruning is off.
func mapRetention(cfg *config.Config) (time.Duration, error) {
	if cfg.Storage == nil {
		return 0, nil
	}
	return config.ParseDurationField("storage.retention", cfg.Storage.Retention)
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	mc := cfg.Metrics
	out := debugsrv.Config{
		Enabled:       mc.Enabled,
		Addr:          strings.TrimSpace(mc.Addr),
		Pprof:         mc.Pprof,
		Token:         strings.TrimSpace(mc.Token),
		AllowInsecure: mc.AllowInsecure,
	}
	if out.Addr == "" {
		out.Addr = debugsrv.DefaultAddr
	}
	if _, _, err := net.SplitHostPort(out.Addr); err != nil {
		return debugsrv.Config{}, fmt.Errorf("metrics.addr: %w", err)
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("metrics.read_timeout", mc.ReadTimeout, 5*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("metrics.write_timeout", mc.WriteTimeout, 30*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("metrics.idle_timeout", mc.IdleTimeout, 60*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	return out, nil
}

func mapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	mc := cfg.Maintenance
	specs := map[string]string{
		maintenance.JobReport: strings.TrimSpace(mc.Report),
		maintenance.JobPrune:  strings.TrimSpace(mc.Prune),
	}
	var errs []error
	for name, spec := range specs {
		if err := maintenance.ValidateSpec(spec); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.%s: %w", name, err))
		}
	}
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return maintenance.Config{}, err
	}
	return maintenance.Config{
		Enabled:  mc.Enabled,
		Timezone: strings.TrimSpace(mc.Timezone),
		Specs:    specs,
	}, nil
}
