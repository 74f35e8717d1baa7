// Package hal declares the I/O leaves the executive's tasks talk to.
//
// Every operation is a short, non-blocking call. Backends live in
// subpackages (see hal/sim).
package hal

import (
	"errors"
	"time"
)

// FrequencyInput is an edge-capture input. The backend timestamps level
// transitions on its own and keeps the last interval between two
// consecutive edges (a half period of a square wave).
type FrequencyInput interface {
	// LastHalfPeriod returns the last captured half period in microseconds.
	// ok is false while no full half period has been captured (idle signal).
	LastHalfPeriod() (us uint32, ok bool)
}

type DigitalIn interface {
	Read() bool
}

// AnalogIn returns one raw sample in [0,1].
type AnalogIn interface {
	Read() float64
}

type DigitalOut interface {
	Set(level bool)
}

// Display is a character display addressed by (row, col).
type Display interface {
	RenderCell(row, col int, text string)
	Clear()
	SetBacklight(on bool)
}

// Line is the serial link. Sinks terminate the line themselves.
type Line interface {
	TransmitLine(text string) error
}

// Delay blocks for d. Tasks use it only for sub-tick waits.
type Delay func(d time.Duration)

// Board bundles the pins used by the reference tasks.
type Board struct {
	FreqIn       FrequencyInput
	Switch       DigitalIn
	MasterSwitch DigitalIn
	Analog1      AnalogIn
	Analog2      AnalogIn

	Watchdog   DigitalOut
	IndicatorA DigitalOut
	IndicatorB DigitalOut
	TimerPulse DigitalOut

	Display Display
	Delay   Delay
}

// Validate reports missing pins.
func (b *Board) Validate() error {
	var errs []error
	missing := func(name string, ok bool) {
		if !ok {
			errs = append(errs, errors.New("board: "+name+" is not wired"))
		}
	}
	missing("freq_in", b.FreqIn != nil)
	missing("switch", b.Switch != nil)
	missing("master_switch", b.MasterSwitch != nil)
	missing("analog1", b.Analog1 != nil)
	missing("analog2", b.Analog2 != nil)
	missing("watchdog", b.Watchdog != nil)
	missing("indicator_a", b.IndicatorA != nil)
	missing("indicator_b", b.IndicatorB != nil)
	missing("timer_pulse", b.TimerPulse != nil)
	missing("display", b.Display != nil)
	return errors.Join(errs...)
}

// Sleep is the wall-clock Delay.
func Sleep(d time.Duration) { time.Sleep(d) }
