package executive

import (
	"errors"
	"sync/atomic"
	"time"

	"cyclex/internal/eventbus"
	logx "cyclex/pkg/logx"
)

// ErrHalted is returned by Run when the executive had already halted.
var ErrHalted = errors.New("executive halted")

// Event types published on the bus.
const (
	EventTaskRan = "task.ran"
	EventOverrun = "tick.overrun"
	EventHalted  = "executive.halted"
)

// TaskRan is the payload of EventTaskRan.
type TaskRan struct {
	Task     string
	Slot     uint64
	Next     uint64
	Elapsed  time.Duration
	Snapshot Snapshot
}

// Overrun is the payload of EventOverrun.
type Overrun struct {
	Task    string
	Slot    uint64
	Elapsed time.Duration
	Budget  time.Duration
}

// Halted is the payload of EventHalted.
type Halted struct {
	Slot     uint64
	Snapshot Snapshot
}

// StepResult describes one dispatcher step.
type StepResult struct {
	// Slot is the counter value the step evaluated.
	Slot uint64
	// Next is the counter value after the step.
	Next uint64
	// Task is the name of the task that ran ("" on idle ticks).
	Task string
	// Index is the table row that ran, or -1.
	Index int
	// Halted is true once the shutdown monitor fired (in this or an earlier step).
	Halted  bool
	Elapsed time.Duration
}

// Ran reports whether a task ran in this step.
func (r StepResult) Ran() bool { return r.Index >= 0 }

// TickHook runs at the start of every tick, before dispatch. Hooks drive
// multi-tick state machines (e.g. a pulse output counting ticks high).
type TickHook interface {
	OnTick(slot uint64)
}

// Observer sees every step synchronously on the tick loop; it must be cheap.
type Observer interface {
	ObserveStep(r StepResult, s Snapshot)
}

// Status is a point-in-time copy safe to read from any goroutine.
type Status struct {
	Slot      uint64
	Ticks     uint64
	Idle      uint64
	Overruns  uint64
	Halted    bool
	Snapshot  Snapshot
	Runs      map[string]uint64
	LastTask  string
	StartedAt time.Time
}

// Executive is the dispatcher plus its slot counter and shared snapshot.
//
// Step and Run must be called from a single goroutine. Status may be called
// from any goroutine.
type Executive struct {
	table   Table
	monitor ShutdownMonitor

	interval time.Duration
	hooks    []TickHook
	observer Observer
	bus      eventbus.Publisher
	log      logx.Logger
	now      func() time.Time

	// tick loop state; owned by the loop goroutine
	slot     uint64
	snap     Snapshot
	halted   bool
	ticks    uint64
	idle     uint64
	overruns uint64
	runs     []uint64
	lastTask string
	detach   func()

	startedAt time.Time
	status    atomic.Pointer[Status]
}

type Option func(*Executive)

// WithInterval sets the tick budget used for overrun detection (default DefaultTick).
func WithInterval(d time.Duration) Option {
	return func(e *Executive) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithLogger(log logx.Logger) Option { return func(e *Executive) { e.log = log } }

func WithBus(p eventbus.Publisher) Option { return func(e *Executive) { e.bus = p } }

func WithObserver(o Observer) Option { return func(e *Executive) { e.observer = o } }

// WithTickHook appends a per-tick hook. Hooks run in registration order.
func WithTickHook(h TickHook) Option {
	return func(e *Executive) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

// WithStartSlot sets the initial counter value (default 0).
func WithStartSlot(slot uint64) Option { return func(e *Executive) { e.slot = slot } }

// WithClock replaces time.Now for elapsed-time measurement.
func WithClock(now func() time.Time) Option {
	return func(e *Executive) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates the table and returns an executive at slot 0 (or WithStartSlot).
// The table is copied; it cannot change afterwards.
func New(table Table, monitor ShutdownMonitor, opts ...Option) (*Executive, error) {
	if err := table.Validate(true); err != nil {
		return nil, err
	}
	e := &Executive{
		table:    append(Table(nil), table...),
		monitor:  monitor,
		interval: DefaultTick,
		now:      time.Now,
		log:      logx.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.runs = make([]uint64, len(e.table))
	e.startedAt = e.now()
	e.publishStatus()
	return e, nil
}

// Table returns a copy of the schedule table.
func (e *Executive) Table() Table { return append(Table(nil), e.table...) }

// Interval returns the tick interval.
func (e *Executive) Interval() time.Duration { return e.interval }

// Slot returns the current counter value. Loop goroutine only.
func (e *Executive) Slot() uint64 { return e.slot }

// Snapshot returns a copy of the shared state. Loop goroutine only.
func (e *Executive) Snapshot() Snapshot { return e.snap }

// Halted reports whether the shutdown monitor fired. Loop goroutine only.
func (e *Executive) Halted() bool { return e.halted }

// Step performs one tick: hooks, then dispatch of the first due task (or the
// shutdown check when none is due), then the counter advance.
func (e *Executive) Step() StepResult {
	if e.halted {
		return StepResult{Slot: e.slot, Next: e.slot, Index: -1, Halted: true}
	}

	start := e.now()
	slot := e.slot
	e.ticks++

	for _, h := range e.hooks {
		h.OnTick(slot)
	}

	res := StepResult{Slot: slot, Index: -1}
	advance := uint64(1)

	if i := e.table.First(slot); i >= 0 {
		d := &e.table[i]
		d.Action.Run(&e.snap)
		advance = d.Cost()
		res.Index = i
		res.Task = d.Name
		e.runs[i]++
		e.lastTask = d.Name
	} else {
		e.idle++
		if e.monitor != nil && e.monitor.Check() {
			e.shutdown(slot)
			res.Halted = true
		}
	}

	// Advance within the same step, including the extra slots of a
	// multi-slot task. Wraparound past MaxUint64 is undefined.
	e.slot = slot + advance
	res.Next = e.slot
	res.Elapsed = e.now().Sub(start)

	if res.Elapsed > e.interval {
		e.overruns++
		e.log.Warn("tick budget exceeded",
			logx.Uint64("slot", slot),
			logx.String("task", res.Task),
			logx.Duration("elapsed", res.Elapsed),
			logx.Duration("budget", e.interval),
		)
		e.publish(EventOverrun, Overrun{Task: res.Task, Slot: slot, Elapsed: res.Elapsed, Budget: e.interval})
	}
	if res.Ran() {
		e.publish(EventTaskRan, TaskRan{Task: res.Task, Slot: slot, Next: res.Next, Elapsed: res.Elapsed, Snapshot: e.snap})
	}
	if e.observer != nil {
		e.observer.ObserveStep(res, e.snap)
	}
	e.publishStatus()
	return res
}

func (e *Executive) shutdown(slot uint64) {
	e.log.Info("master switch active; shutting down", logx.Uint64("slot", slot))
	e.monitor.Shutdown()
	detach := e.detach
	e.detach = nil
	if detach != nil {
		detach()
	}
	e.halted = true
	e.publish(EventHalted, Halted{Slot: slot, Snapshot: e.snap})
}

func (e *Executive) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), Data: data})
}

func (e *Executive) publishStatus() {
	runs := make(map[string]uint64, len(e.table))
	for i, d := range e.table {
		runs[d.Name] = e.runs[i]
	}
	e.status.Store(&Status{
		Slot:      e.slot,
		Ticks:     e.ticks,
		Idle:      e.idle,
		Overruns:  e.overruns,
		Halted:    e.halted,
		Snapshot:  e.snap,
		Runs:      runs,
		LastTask:  e.lastTask,
		StartedAt: e.startedAt,
	})
}

// Status returns the state published after the last step.
func (e *Executive) Status() Status {
	if st := e.status.Load(); st != nil {
		return *st
	}
	return Status{}
}
