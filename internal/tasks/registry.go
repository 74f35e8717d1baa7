package tasks

import (
	"errors"
	"fmt"
	"sort"

	"cyclex/internal/executive"
)

// Row is a configured table row before its action is bound.
type Row struct {
	Name     string
	Action   string // defaults to Name
	Period   uint64
	Phase    uint64
	SlotCost uint64
}

// Factory builds one action instance. Each row gets its own instance.
type Factory func(d *Deps) executive.Action

var builtins = map[string]Factory{
	executive.TaskMeasureFrequency: func(d *Deps) executive.Action { return MeasureFrequency(d.Board.FreqIn) },
	executive.TaskReadDigital:      func(d *Deps) executive.Action { return ReadDigital(d.Board.Switch) },
	executive.TaskWatchdogPulse: func(d *Deps) executive.Action {
		return &WatchdogPulse{Out: d.Board.Watchdog, Width: d.PulseTicks, Pet: d.Pet}
	},
	executive.TaskReadAnalog:    func(d *Deps) executive.Action { return ReadAnalog(d.Board.Analog1, d.Board.Analog2) },
	executive.TaskDisplayUpdate: func(d *Deps) executive.Action { return DisplayUpdate(d.Board.Display) },
	executive.TaskErrorCheck:    ErrorCheck,
	executive.TaskTelemetrySend: TelemetrySend,
}

// Names lists the built-in actions.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Known reports whether action names a built-in.
func Known(action string) bool {
	_, ok := builtins[action]
	return ok
}

// ReferenceRows is the reference schedule as rows.
func ReferenceRows() []Row {
	ref := executive.ReferenceSchedule()
	rows := make([]Row, len(ref))
	for i, d := range ref {
		rows[i] = Row{Name: d.Name, Period: d.Period, Phase: d.Phase, SlotCost: d.SlotCost}
	}
	return rows
}

// Shape returns the table without actions (for audits and validation).
func Shape(rows []Row) executive.Table {
	t := make(executive.Table, len(rows))
	for i, r := range rows {
		t[i] = executive.TaskDescriptor{Name: r.Name, Period: r.Period, Phase: r.Phase, SlotCost: r.SlotCost}
	}
	return t
}

// Build binds every row to a fresh built-in action. Actions that also need to
// see every tick (the watchdog pulse) are returned as hooks.
func Build(rows []Row, d *Deps) (executive.Table, []executive.TickHook, error) {
	if d == nil || d.Board == nil {
		return nil, nil, errors.New("tasks: board is required")
	}
	if err := d.Board.Validate(); err != nil {
		return nil, nil, err
	}

	var errs []error
	table := Shape(rows)
	var hooks []executive.TickHook
	for i, r := range rows {
		name := r.Action
		if name == "" {
			name = r.Name
		}
		f, ok := builtins[name]
		if !ok {
			errs = append(errs, fmt.Errorf("task %q: unknown action %q", r.Name, name))
			continue
		}
		a := f(d)
		table[i].Action = a
		if h, ok := a.(executive.TickHook); ok {
			hooks = append(hooks, h)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, nil, err
	}
	if err := table.Validate(true); err != nil {
		return nil, nil, err
	}
	return table, hooks, nil
}
