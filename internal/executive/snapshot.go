package executive

// HealthPattern is the indicator pattern last selected by the health check.
type HealthPattern uint8

const (
	PatternNone HealthPattern = iota
	// PatternA: switch active and analog1 > analog2.
	PatternA
	// PatternB: every other case.
	PatternB
)

func (p HealthPattern) String() string {
	switch p {
	case PatternA:
		return "A"
	case PatternB:
		return "B"
	default:
		return "none"
	}
}

// Snapshot is the state shared between tasks.
//
// It is owned by the Executive and handed by pointer to the single task that
// runs in a tick; it is never accessed concurrently. Readers outside the tick
// loop get copies (Status, events).
type Snapshot struct {
	// FrequencyHz is the last measured input frequency.
	FrequencyHz int
	// Analog1 and Analog2 are the last averaged analog readings, volts x10.
	Analog1 float64
	Analog2 float64
	// Switch is the last digital input reading.
	Switch bool
	// Pattern is the last health pattern signalled.
	Pattern HealthPattern
}
