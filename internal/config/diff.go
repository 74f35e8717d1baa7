package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "cyclex/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"executive": true,
	"board":     true,
	"storage":   true,
	"telemetry": true,
	"systemd":   true,
}

// SummarizeConfigChange returns (1) a sorted list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Executive, newCfg.Executive) {
		changed = append(changed, "executive")
		attrs = append(attrs,
			logx.String("executive.tick", strings.TrimSpace(newCfg.Executive.Tick)),
			logx.Int("executive.tasks", len(newCfg.Executive.Tasks)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Board, newCfg.Board) {
		changed = append(changed, "board")
		attrs = append(attrs, logx.String("board.driver", strings.TrimSpace(newCfg.Board.Driver)))
	}

	// Telemetry (never log token)
	ot, nt := oldCfg.Telemetry, newCfg.Telemetry
	if ot.Console != nt.Console || ot.File != nt.File || ot.QueueSize != nt.QueueSize ||
		ot.Telegram.Enabled != nt.Telegram.Enabled ||
		ot.Telegram.ChatID != nt.Telegram.ChatID ||
		ot.Telegram.ThreadID != nt.Telegram.ThreadID ||
		ot.Telegram.RatePerSec != nt.Telegram.RatePerSec ||
		ot.Telegram.PollTimeout != nt.Telegram.PollTimeout ||
		(strings.TrimSpace(ot.Telegram.Token) != "") != (strings.TrimSpace(nt.Telegram.Token) != "") {
		changed = append(changed, "telemetry")
		attrs = append(attrs,
			logx.Bool("telemetry.console", nt.Console),
			logx.Bool("telemetry.file_enabled", nt.File.Enabled),
			logx.Bool("telemetry.telegram_enabled", nt.Telegram.Enabled),
			logx.Bool("telemetry.telegram_token_set", strings.TrimSpace(nt.Telegram.Token) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.remote_enabled", newCfg.Logging.Remote.Enabled),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(newCfg.Metrics.Addr)),
			logx.Bool("metrics.pprof", newCfg.Metrics.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(newCfg.Metrics.Token) != ""),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.report", strings.TrimSpace(newCfg.Maintenance.Report)),
			logx.String("maintenance.prune", strings.TrimSpace(newCfg.Maintenance.Prune)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired filters sections that a running process cannot apply live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if restartSections[s] {
			out = append(out, s)
		}
	}
	return out
}

// hashBytes returns a stable 64-bit hash of bytes. Empty input returns 0.
func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
