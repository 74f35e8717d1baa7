// Package app wires the executive to its board, telemetry sinks, storage,
// metrics, maintenance jobs and config hot reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cyclex/internal/config"
	"cyclex/internal/eventbus"
	"cyclex/internal/executive"
	"cyclex/internal/hal"
	"cyclex/internal/hal/sim"
	"cyclex/internal/maintenance"
	"cyclex/internal/observability/debugsrv"
	"cyclex/internal/observability/metrics"
	"cyclex/internal/runtime/supervisor"
	"cyclex/internal/storage"
	"cyclex/internal/tasks"
	"cyclex/internal/transport"
	logx "cyclex/pkg/logx"
	"cyclex/pkg/systemd"

	"github.com/prometheus/client_golang/prometheus"
)

// StopReason is logged and stored when the app stops.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopHalted     StopReason = "halted"
	StopFatalError StopReason = "fatal_error"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	board *sim.Board
	deps  *tasks.Deps
	exec  *executive.Executive
	rows  []tasks.Row
	tick  time.Duration

	serial hal.Line
	file   *transport.FileLine
	queues []*transport.Queue

	store   storage.Store
	rec     *recorder
	metrics *metrics.Metrics
	debug   *debugsrv.Service
	maint   *maintenance.Service
	notify  *systemd.Notifier

	src    executive.TickSource
	stdout io.Writer
	delay  hal.Delay

	haltOnce sync.Once
	halted   chan struct{}
}

type Option func(*App)

// WithTickSource replaces the wall-clock ticker (tests drive ticks by hand).
func WithTickSource(src executive.TickSource) Option { return func(a *App) { a.src = src } }

// WithStdout redirects the console telemetry sink.
func WithStdout(w io.Writer) Option { return func(a *App) { a.stdout = w } }

// WithDelay replaces the busy delay used by the flash sequences.
func WithDelay(d hal.Delay) Option { return func(a *App) { a.delay = d } }

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm, stdout: logx.Stdout(), halted: make(chan struct{})}
	for _, o := range opts {
		o(a)
	}

	// Remote logging needs the serial sinks, which need a logger. Bootstrap
	// with remote disabled, attach the sink, then apply the final config.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Remote.Enabled = false
	logSvc, root := logx.New(bootCfg)
	a.logs = logSvc
	a.log = root.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	a.tick, _ = mapTick(cfg)
	a.rows = mapRows(cfg)

	if err := a.buildTelemetry(cfg, root); err != nil {
		return nil, err
	}
	logSvc.SetRemote(transport.RemoteLog{Line: a.localSerial()})
	logSvc.Apply(logCfg)

	a.board = sim.New(mapSimConfig(cfg))
	a.notify = systemd.New(cfg.Systemd.Notify, cfg.Systemd.Watchdog)
	a.deps = &tasks.Deps{
		Board:  a.board.HAL(a.delay),
		Serial: a.serial,
		Log:    root.With(logx.String("comp", "tasks")),
		Pet:    a.notify.Pet,
	}
	table, hooks, err := tasks.Build(a.rows, a.deps)
	if err != nil {
		a.closeSinks()
		return nil, err
	}

	a.metrics = metrics.New(a.tick)
	eopts := []executive.Option{
		executive.WithInterval(a.tick),
		executive.WithLogger(root.With(logx.String("comp", "executive"))),
		executive.WithBus(a.bus),
		executive.WithObserver(a.metrics),
	}
	for _, h := range hooks {
		eopts = append(eopts, executive.WithTickHook(h))
	}
	a.exec, err = executive.New(table, tasks.NewMasterSwitch(a.deps), eopts...)
	if err != nil {
		a.closeSinks()
		return nil, err
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		a.closeSinks()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			a.closeSinks()
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}
	a.rec = newRecorder(a.store, a.rows, root.With(logx.String("comp", "recorder")))

	if err := a.registerMetrics(); err != nil {
		a.closeAll()
		return nil, err
	}

	dcfg, _ := mapDebugConfig(cfg)
	a.debug = debugsrv.New(dcfg, debugsrv.Sources{Metrics: a.metrics.Handler(), Health: a.health}, root)

	retention, _ := mapRetention(cfg)
	mlog := root.With(logx.String("comp", "maintenance"))
	a.maint = maintenance.New(root)
	a.maint.Register(maintenance.JobReport, maintenance.ReportJob(a.exec.Status, a.store, mlog))
	if a.store != nil {
		a.maint.Register(maintenance.JobPrune, maintenance.PruneJob(a.store, retention, mlog))
	}
	return a, nil
}

// buildTelemetry assembles the serial link: synchronous console and file
// sinks plus a queued Telegram sink. With nothing enabled, console is used.
func (a *App) buildTelemetry(cfg *config.Config, root logx.Logger) error {
	t := cfg.Telemetry
	var sinks transport.Tee
	if t.File.Enabled {
		f, err := transport.OpenFile(strings.TrimSpace(t.File.Path))
		if err != nil {
			return err
		}
		a.file = f
	}
	if t.Telegram.Enabled {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			a.closeSinks()
			return err
		}
		tg, err := transport.NewTelegram(tcfg)
		if err != nil {
			a.closeSinks()
			return fmt.Errorf("telemetry.telegram: %w", err)
		}
		rps := float64(t.Telegram.RatePerSec)
		if rps == 0 {
			rps = 1
		}
		q := transport.NewQueue(transport.QueueConfig{
			Name:       "telegram",
			Size:       t.QueueSize,
			RatePerSec: rps,
			RetryMax:   2,
		}, tg, root.With(logx.String("comp", "telemetry")), a.bus)
		a.queues = append(a.queues, q)
	}

	if t.Console || (a.file == nil && len(a.queues) == 0) {
		sinks = append(sinks, transport.NewWriterLine(a.stdout, transport.ConsoleEOL))
	}
	if a.file != nil {
		sinks = append(sinks, a.file)
	}
	for _, q := range a.queues {
		sinks = append(sinks, q)
	}
	a.serial = sinks
	return nil
}

// localSerial is the serial link without the queued network sinks. Remote
// log records go here so a failing network sink cannot feed on its own
// warnings.
func (a *App) localSerial() hal.Line {
	tee, _ := a.serial.(transport.Tee)
	out := make(transport.Tee, 0, len(tee))
	for _, l := range tee {
		if _, queued := l.(*transport.Queue); !queued {
			out = append(out, l)
		}
	}
	return out
}

func (a *App) registerMetrics() error {
	var errs []error
	for _, q := range a.queues {
		labels := prometheus.Labels{"sink": q.Stats().Name}
		errs = append(errs,
			a.metrics.RegisterCounterFunc("telemetry_dropped_total", "Telemetry lines dropped because a sink queue was full.", labels,
				func() uint64 { return q.Stats().Dropped }),
			a.metrics.RegisterCounterFunc("telemetry_failed_total", "Telemetry lines that failed after retries.", labels,
				func() uint64 { return q.Stats().Failed }),
			a.metrics.RegisterCounterFunc("telemetry_sent_total", "Telemetry lines delivered by a queued sink.", labels,
				func() uint64 { return q.Stats().Sent }),
		)
	}
	errs = append(errs,
		a.metrics.RegisterCounterFunc("eventbus_dropped_total", "Events dropped because a subscriber was slow.", nil, a.bus.Dropped),
		a.metrics.RegisterCounterFunc("systemd_watchdog_pets_total", "Watchdog keepalives sent to the service manager.", nil, a.notify.Pets),
	)
	return errors.Join(errs...)
}

// Board exposes the simulated board (tests and operators poke inputs).
func (a *App) Board() *sim.Board { return a.board }

func (a *App) Executive() *executive.Executive { return a.exec }

// DebugAddr is the bound debug server address ("" when not serving).
func (a *App) DebugAddr() string { return a.debug.Addr() }

// Halted is closed once the master switch stopped the executive.
func (a *App) Halted() <-chan struct{} { return a.halted }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Validate(cfg) })

	// Queues outlive the run context; Stop flushes them after the tick loop ends.
	for _, q := range a.queues {
		q.Start(c)
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go("recorder", func(c context.Context) error {
		defer unsub()
		return a.rec.run(c, events)
	})

	tasks.Boot(a.deps)
	a.rec.lifecycle(c, EventStarted, a.exec.Slot(), fmt.Sprintf("tick=%s tasks=%d", a.tick, len(a.rows)))

	a.debug.Start(c)
	mcfg, _ := mapMaintenanceConfig(a.cfgm.Get())
	if err := a.maint.Start(c, mcfg); err != nil {
		a.sup.Cancel()
		return err
	}

	src := a.src
	if src == nil {
		src = executive.NewTicker(a.tick)
	}
	a.sup.Go("executive.run", func(c context.Context) error {
		err := a.exec.Run(c, src)
		if a.exec.Halted() {
			a.haltOnce.Do(func() { close(a.halted) })
			_, _ = a.notify.Status("halted by master switch")
		}
		return err
	})

	a.sup.Go("config.reload", func(c context.Context) error {
		a.reloadLoop(c)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if _, err := a.notify.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	_, _ = a.notify.Status("running")
	a.log.Info("app started",
		logx.Duration("tick", a.tick),
		logx.Int("tasks", len(a.rows)),
		logx.Int("queued_sinks", len(a.queues)),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections. The table, board, telemetry
// sinks and storage are fixed for the life of the process.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.apply(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) apply(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if dcfg, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid metrics config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	if mcfg, err := mapMaintenanceConfig(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(mcfg); err != nil {
		a.log.Warn("maintenance apply failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// healthDoc is served at /healthz.
type healthDoc struct {
	Status      string                 `json:"status"`
	Slot        uint64                 `json:"slot"`
	Ticks       uint64                 `json:"ticks"`
	Idle        uint64                 `json:"idle"`
	Overruns    uint64                 `json:"overruns"`
	LastTask    string                 `json:"last_task,omitempty"`
	Runs        map[string]uint64      `json:"runs"`
	FrequencyHz int                    `json:"frequency_hz"`
	Switch      bool                   `json:"switch"`
	Analog1     float64                `json:"analog1"`
	Analog2     float64                `json:"analog2"`
	Pattern     string                 `json:"pattern"`
	Uptime      string                 `json:"uptime"`
	Sinks       []transport.QueueStats `json:"sinks,omitempty"`
	Routines    supervisor.Snapshot    `json:"routines"`
	Maintenance map[string]time.Time   `json:"maintenance,omitempty"`
	BusDropped  uint64                 `json:"bus_dropped"`
}

func (a *App) health() (any, bool) {
	st := a.exec.Status()
	doc := healthDoc{
		Status:      "ok",
		Slot:        st.Slot,
		Ticks:       st.Ticks,
		Idle:        st.Idle,
		Overruns:    st.Overruns,
		LastTask:    st.LastTask,
		Runs:        st.Runs,
		FrequencyHz: st.Snapshot.FrequencyHz,
		Switch:      st.Snapshot.Switch,
		Analog1:     st.Snapshot.Analog1,
		Analog2:     st.Snapshot.Analog2,
		Pattern:     st.Snapshot.Pattern.String(),
		Uptime:      time.Since(st.StartedAt).Truncate(time.Second).String(),
		Maintenance: a.maint.Next(),
		BusDropped:  a.bus.Dropped(),
	}
	for _, q := range a.queues {
		doc.Sinks = append(doc.Sinks, q.Stats())
	}
	ok := true
	if a.sup != nil {
		doc.Routines = a.sup.Snapshot()
		if a.sup.Err() != nil {
			doc.Status, ok = "failed", false
		}
	}
	if st.Halted {
		doc.Status, ok = "halted", false
	}
	return doc, ok
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeAll()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.notify.Stopping()

	// Cancel the run context first so the tick loop stops dispatching.
	a.sup.Cancel()

	// step runs one shutdown step bounded by max so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("debugsrv", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	step("telemetry", 3*time.Second, func(c context.Context) error {
		var errs []error
		for _, q := range a.queues {
			errs = append(errs, q.Stop(c))
		}
		return errors.Join(errs...)
	})
	// The recorder quits with the supervisor context, so the stop event is
	// written directly.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.rec.lifecycle(ctx, EventStopped, a.exec.Slot(), string(reason))
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })
	a.closeSinks()

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		a.logs.SetRemote(nil)
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func (a *App) closeSinks() {
	if a.file != nil {
		_ = a.file.Close()
		a.file = nil
	}
}

func (a *App) closeAll() {
	_ = a.closeStore()
	a.closeSinks()
	if a.logs != nil {
		_ = a.logs.Close()
	}
}
