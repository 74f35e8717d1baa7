package executive

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"time"
)

// DefaultTick is the reference tick interval.
const DefaultTick = 20 * time.Millisecond

var (
	ErrEmptyTable          = errors.New("schedule table is empty")
	ErrHyperperiodOverflow = errors.New("hyperperiod overflows uint64")
)

// Action is a task body. It reads and writes the shared snapshot of the tick
// it runs in; nothing it returns is consumed by the dispatcher.
type Action interface {
	Run(s *Snapshot)
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(s *Snapshot)

func (f ActionFunc) Run(s *Snapshot) { f(s) }

// TaskDescriptor is one row of the schedule table.
//
// SlotCost is the number of slots the task is known to occupy; the counter
// advances by SlotCost after the task runs (0 is treated as 1).
type TaskDescriptor struct {
	Name     string
	Period   uint64
	Phase    uint64
	SlotCost uint64
	Action   Action
}

// Due reports whether the task is due at slot t.
func (d TaskDescriptor) Due(t uint64) bool {
	return d.Period > 0 && t%d.Period == d.Phase
}

// Cost returns the effective slot cost.
func (d TaskDescriptor) Cost() uint64 {
	if d.SlotCost == 0 {
		return 1
	}
	return d.SlotCost
}

// Table is the ordered schedule. Order is dispatch priority: the first due
// row wins its slot.
type Table []TaskDescriptor

// Names of the reference tasks.
const (
	TaskMeasureFrequency = "measure_frequency"
	TaskReadDigital      = "read_digital"
	TaskWatchdogPulse    = "watchdog_pulse"
	TaskReadAnalog       = "read_analog"
	TaskDisplayUpdate    = "display_update"
	TaskErrorCheck       = "error_check"
	TaskTelemetrySend    = "telemetry_send"
)

// ReferenceSchedule returns the reference table (20 ms tick) without actions.
func ReferenceSchedule() Table {
	return Table{
		{Name: TaskMeasureFrequency, Period: 50, Phase: 0, SlotCost: 1},
		{Name: TaskReadDigital, Period: 15, Phase: 1, SlotCost: 1},
		{Name: TaskWatchdogPulse, Period: 15, Phase: 2, SlotCost: 1},
		{Name: TaskReadAnalog, Period: 20, Phase: 1, SlotCost: 1},
		{Name: TaskDisplayUpdate, Period: 100, Phase: 2, SlotCost: 4},
		{Name: TaskErrorCheck, Period: 40, Phase: 8, SlotCost: 1},
		{Name: TaskTelemetrySend, Period: 250, Phase: 9, SlotCost: 1},
	}
}

// Validate checks the structural rules of every row. When requireActions is
// false, rows without an Action are accepted (used for offline audits).
func (t Table) Validate(requireActions bool) error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	var errs []error
	seen := make(map[string]int, len(t))
	for i, d := range t {
		name := strings.TrimSpace(d.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("task[%d]: name is required", i))
		default:
			if j, dup := seen[name]; dup {
				errs = append(errs, fmt.Errorf("task[%d] %q: duplicate of task[%d]", i, name, j))
			}
			seen[name] = i
		}
		if d.Period == 0 {
			errs = append(errs, fmt.Errorf("task[%d] %q: period must be >= 1", i, name))
		} else if d.Phase >= d.Period {
			errs = append(errs, fmt.Errorf("task[%d] %q: phase %d must be < period %d", i, name, d.Phase, d.Period))
		}
		if requireActions && d.Action == nil {
			errs = append(errs, fmt.Errorf("task[%d] %q: action is required", i, name))
		}
	}
	return errors.Join(errs...)
}

// Index returns the row index of name, or -1.
func (t Table) Index(name string) int {
	for i := range t {
		if t[i].Name == name {
			return i
		}
	}
	return -1
}

// Hyperperiod returns the least common multiple of all periods.
func (t Table) Hyperperiod() (uint64, error) {
	if len(t) == 0 {
		return 0, ErrEmptyTable
	}
	l := uint64(1)
	for _, d := range t {
		if d.Period == 0 {
			return 0, fmt.Errorf("task %q: period must be >= 1", d.Name)
		}
		g := gcd(l, d.Period)
		hi, lo := bits.Mul64(l/g, d.Period)
		if hi != 0 {
			return 0, ErrHyperperiodOverflow
		}
		l = lo
	}
	return l, nil
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// First returns the index of the first row due at slot, or -1.
func (t Table) First(slot uint64) int {
	for i := range t {
		if t[i].Due(slot) {
			return i
		}
	}
	return -1
}
