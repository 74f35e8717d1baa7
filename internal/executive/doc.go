// Package executive implements a fixed-rate, non-preemptive cyclic executive.
//
// A single tick source drives Executive.Step. Each step evaluates the schedule
// table in order against the slot counter and runs the first due task only
// (due at slot t iff t%Period == Phase). Ticks where nothing is due consult the
// shutdown monitor instead. After the step the slot counter advances by the
// slot cost of the task that ran, or by 1.
//
// Known hazards (documented, not corrected):
//   - A task body that blocks longer than one tick stalls every later tick,
//     including the shutdown check. Overruns are logged and counted only.
//   - Two tasks due in the same slot resolve by table order; the later one is
//     silently skipped for that slot. Run Audit whenever the table changes.
//   - A task's SlotCost is an assertion about its run time, not a measurement.
//   - The slot counter is a uint64 and is never reset; behavior past
//     math.MaxUint64 slots is undefined.
package executive
