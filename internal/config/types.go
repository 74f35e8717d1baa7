package config

// Config is the on-disk configuration of the executive (JSON or YAML).
//
// Durations are Go duration strings (e.g. "20ms", "10s").
type Config struct {
	Executive ExecutiveConfig `json:"executive"`
	Board     BoardConfig     `json:"board"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Logging   LoggingConfig   `json:"logging"`

	Storage     *StorageConfig    `json:"storage,omitempty"`
	Metrics     MetricsConfig     `json:"metrics,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Systemd     SystemdConfig     `json:"systemd,omitempty"`
}

// ExecutiveConfig controls the tick source and the static schedule table.
//
// The table is read once at startup. Changing it in a running process has no
// effect until restart.
//
// Defaults:
//   - tick: "20ms"
//   - tasks: the reference schedule (see executive.ReferenceSchedule)
type ExecutiveConfig struct {
	Tick  string       `json:"tick,omitempty"`
	Tasks []TaskConfig `json:"tasks,omitempty"`
}

// TaskConfig is one schedule table row. Row order is dispatch priority.
//
// Action names a built-in task action; it defaults to Name.
type TaskConfig struct {
	Name     string `json:"name"`
	Action   string `json:"action,omitempty"`
	Period   uint64 `json:"period"`
	Phase    uint64 `json:"phase"`
	SlotCost uint64 `json:"slot_cost,omitempty"`
}

// BoardConfig selects the I/O backend.
//
// Driver values:
//   - "sim": simulated board (default)
type BoardConfig struct {
	Driver string         `json:"driver,omitempty"`
	Sim    SimBoardConfig `json:"sim,omitempty"`
}

// SimBoardConfig drives the simulated board.
//
// Analog values are raw samples in [0,1]. The master switch reads active while
// MasterSwitchFile exists.
type SimBoardConfig struct {
	FrequencyHz      float64 `json:"frequency_hz,omitempty"`
	Analog1          float64 `json:"analog1,omitempty"`
	Analog2          float64 `json:"analog2,omitempty"`
	Noise            float64 `json:"noise,omitempty"`
	Switch           bool    `json:"switch,omitempty"`
	MasterSwitchFile string  `json:"master_switch_file,omitempty"`
	Seed             int64   `json:"seed,omitempty"`
}

// TelemetryConfig controls where transmitted lines go (the serial link).
//
// If no sink is enabled, console output is used.
type TelemetryConfig struct {
	Console   bool                `json:"console"`
	File      TelemetryFileConfig `json:"file,omitempty"`
	Telegram  TelegramConfig      `json:"telegram,omitempty"`
	QueueSize int                 `json:"queue_size,omitempty"`
}

type TelemetryFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// TelegramConfig forwards telemetry lines to a Telegram chat.
//
// Token is never logged.
type TelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Remote  LoggingRemote `json:"remote,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRemote forwards log lines at or above MinLevel to the telemetry sinks.
type LoggingRemote struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	storage: { driver: sqlite, path: ./var/cyclex.db, retention: 168h }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retention   string `json:"retention,omitempty"`
}

// MetricsConfig controls the debug HTTP server (/metrics, /healthz, pprof).
//
// Prefer binding to localhost (default "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	// Token is required when Addr is not loopback, unless AllowInsecure.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// MaintenanceConfig schedules housekeeping jobs with cron specs.
//
// Both 5-field and 6-field (seconds) specs are accepted, as well as
// descriptors like "@every 1m". An empty spec disables the job.
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Report   string `json:"report,omitempty"`
	Prune    string `json:"prune,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// SystemdConfig controls sd_notify integration.
type SystemdConfig struct {
	Notify   bool `json:"notify"`
	Watchdog bool `json:"watchdog,omitempty"`
}
