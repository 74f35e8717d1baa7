package executive

import "fmt"

// Collision is a slot where more than one task is due.
type Collision struct {
	Slot   uint64
	Winner string
	Losers []string
}

// TaskAudit summarizes one row over the audited window.
type TaskAudit struct {
	Name   string
	Period uint64
	Phase  uint64
	// Due is how many slots satisfy the due condition (Window/Period).
	Due uint64
	// Won is how many of those slots the task actually owns by table order.
	Won uint64
	// Starved is Due - Won: slots lost to an earlier row.
	Starved uint64
	// Ran is how many times the task ran when the dispatcher is simulated for
	// Window ticks, including counter jumps from multi-slot tasks.
	Ran uint64
}

// AuditReport is the result of Audit.
type AuditReport struct {
	Hyperperiod uint64
	Window      uint64
	Tasks       []TaskAudit
	Collisions  []Collision
	// IdleSlots counts slots with no due task (shutdown checks).
	IdleSlots uint64
	// SkippedSlots counts slots the simulated counter jumped over.
	SkippedSlots uint64
	// SimIdleTicks counts simulated ticks that dispatched nothing.
	SimIdleTicks uint64
}

// Audit evaluates the table over window slots (0 means one hyperperiod).
//
// Two views are reported: the static one, where every slot in [0, window) is
// evaluated, and a simulation of the dispatcher for window ticks starting at
// slot 0, where multi-slot tasks make the counter skip slots. Actions are not
// run. The dispatcher itself never performs this analysis.
func Audit(t Table, window uint64) (AuditReport, error) {
	if err := t.Validate(false); err != nil {
		return AuditReport{}, err
	}
	h, err := t.Hyperperiod()
	if err != nil {
		return AuditReport{}, err
	}
	if window == 0 {
		window = h
	}

	rep := AuditReport{Hyperperiod: h, Window: window, Tasks: make([]TaskAudit, len(t))}
	for i, d := range t {
		rep.Tasks[i] = TaskAudit{Name: d.Name, Period: d.Period, Phase: d.Phase}
	}

	for slot := uint64(0); slot < window; slot++ {
		winner := -1
		var losers []string
		for i := range t {
			if !t[i].Due(slot) {
				continue
			}
			rep.Tasks[i].Due++
			if winner < 0 {
				winner = i
				rep.Tasks[i].Won++
				continue
			}
			rep.Tasks[i].Starved++
			losers = append(losers, t[i].Name)
		}
		if winner < 0 {
			rep.IdleSlots++
		}
		if len(losers) > 0 {
			rep.Collisions = append(rep.Collisions, Collision{Slot: slot, Winner: t[winner].Name, Losers: losers})
		}
	}

	slot := uint64(0)
	for tick := uint64(0); tick < window; tick++ {
		i := t.First(slot)
		if i < 0 {
			rep.SimIdleTicks++
			slot++
			continue
		}
		rep.Tasks[i].Ran++
		cost := t[i].Cost()
		rep.SkippedSlots += cost - 1
		slot += cost
	}
	return rep, nil
}

func (c Collision) String() string {
	return fmt.Sprintf("slot %d: %s wins over %v", c.Slot, c.Winner, c.Losers)
}
