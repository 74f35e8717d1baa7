package tasks

import (
	"fmt"
	"strconv"

	"cyclex/internal/executive"
)

// SerialHeader is sent once at boot, before the first telemetry line.
const SerialHeader = "frequency, digital, analogue_value_1, analogue_value_2"

// ClosingMessage is sent by the master switch shutdown.
const ClosingMessage = "Closing"

// FrequencyFromHalfPeriod converts a captured half period to Hz with integer
// division. 0 yields 0.
func FrequencyFromHalfPeriod(us uint32) int {
	if us == 0 {
		return 0
	}
	return int(1_000_000 / (uint64(us) * 2))
}

// FormatVolts renders an analog reading (volts x10) the way the display and the
// serial link show it: the value is truncated to an integer a and printed as
// (a*5)/10 "." (a*5)%10.
func FormatVolts(a float64) string {
	n := int(a)
	return strconv.Itoa(n*5/10) + "." + strconv.Itoa(n*5%10)
}

// TelemetryLine formats one serial record: freq,digital,v1,v2.
func TelemetryLine(s executive.Snapshot) string {
	return fmt.Sprintf("%d,%d,%s,%s", s.FrequencyHz, boolDigit(s.Switch), FormatVolts(s.Analog1), FormatVolts(s.Analog2))
}

func boolDigit(b bool) int {
	if b {
		return 1
	}
	return 0
}
