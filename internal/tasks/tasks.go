// Package tasks holds the built-in task actions and binds configured table
// rows to them.
package tasks

import (
	"fmt"
	"time"

	"cyclex/internal/executive"
	"cyclex/internal/hal"
	logx "cyclex/pkg/logx"
)

const (
	// AnalogSamples is how many samples read_analog averages per channel.
	AnalogSamples = 4
	// AnalogScale maps a [0,1] sample to volts x10.
	AnalogScale = 10

	flashCount = 5
	flashWidth = time.Millisecond
)

// Deps are the collaborators the built-in actions need.
type Deps struct {
	Board  *hal.Board
	Serial hal.Line
	Log    logx.Logger

	// Pet is called on every watchdog pulse (service manager keepalive).
	Pet func()
	// PulseTicks is how many ticks the watchdog output stays high (default 1).
	PulseTicks uint64
}

func (d *Deps) delay(dur time.Duration) {
	if d.Board.Delay != nil {
		d.Board.Delay(dur)
	}
}

func (d *Deps) transmit(text string) {
	if d.Serial == nil {
		return
	}
	if err := d.Serial.TransmitLine(text); err != nil {
		d.Log.Warn("transmit failed", logx.Err(err))
	}
}

// MeasureFrequency reads the last captured half period. With no capture the
// previous value is kept.
func MeasureFrequency(in hal.FrequencyInput) executive.Action {
	return executive.ActionFunc(func(s *executive.Snapshot) {
		us, ok := in.LastHalfPeriod()
		if !ok || us == 0 {
			return
		}
		s.FrequencyHz = FrequencyFromHalfPeriod(us)
	})
}

func ReadDigital(in hal.DigitalIn) executive.Action {
	return executive.ActionFunc(func(s *executive.Snapshot) { s.Switch = in.Read() })
}

// SampleAnalog averages AnalogSamples reads and scales the mean to volts x10.
func SampleAnalog(in hal.AnalogIn) float64 {
	var sum float64
	for i := 0; i < AnalogSamples; i++ {
		sum += in.Read()
	}
	return sum / AnalogSamples * AnalogScale
}

func ReadAnalog(a1, a2 hal.AnalogIn) executive.Action {
	return executive.ActionFunc(func(s *executive.Snapshot) {
		s.Analog1 = SampleAnalog(a1)
		s.Analog2 = SampleAnalog(a2)
	})
}

// DisplayUpdate renders the snapshot over the boot layout. Cells are padded so
// a shorter value erases a longer one.
func DisplayUpdate(d hal.Display) executive.Action {
	return executive.ActionFunc(func(s *executive.Snapshot) {
		d.RenderCell(0, 0, fmt.Sprintf("%-8s", fmt.Sprintf("%d Hz", s.FrequencyHz)))
		d.RenderCell(0, 8, FormatVolts(s.Analog1)+" V")
		d.RenderCell(1, 8, FormatVolts(s.Analog2)+" V")
		d.RenderCell(1, 0, fmt.Sprintf("%-8s", fmt.Sprintf("%d bool", boolDigit(s.Switch))))
	})
}

// SelectPattern picks the health pattern: A when the switch is on and
// analog1 exceeds analog2, B otherwise.
func SelectPattern(sw bool, a1, a2 float64) executive.HealthPattern {
	if sw && a1 > a2 {
		return executive.PatternA
	}
	return executive.PatternB
}

// ErrorCheck drives the diagnostic pulse pin high for the duration of the
// check and flashes the selected indicator.
func ErrorCheck(d *Deps) executive.Action {
	b := d.Board
	return executive.ActionFunc(func(s *executive.Snapshot) {
		b.TimerPulse.Set(true)
		p := SelectPattern(s.Switch, s.Analog1, s.Analog2)
		led := b.IndicatorB
		if p == executive.PatternA {
			led = b.IndicatorA
		}
		for i := 0; i < flashCount; i++ {
			led.Set(true)
			d.delay(flashWidth)
			led.Set(false)
			d.delay(flashWidth)
		}
		s.Pattern = p
		b.TimerPulse.Set(false)
	})
}

func TelemetrySend(d *Deps) executive.Action {
	return executive.ActionFunc(func(s *executive.Snapshot) { d.transmit(TelemetryLine(*s)) })
}

// WatchdogPulse raises the watchdog output when it runs and lowers it after
// Width ticks. It is both an action and a tick hook: the hook counts the
// ticks remaining high.
type WatchdogPulse struct {
	Out   hal.DigitalOut
	Width uint64
	Pet   func()

	remaining uint64
}

func (w *WatchdogPulse) Run(*executive.Snapshot) {
	w.Out.Set(true)
	w.remaining = max(w.Width, 1)
	if w.Pet != nil {
		w.Pet()
	}
}

func (w *WatchdogPulse) OnTick(uint64) {
	if w.remaining == 0 {
		return
	}
	w.remaining--
	if w.remaining == 0 {
		w.Out.Set(false)
	}
}

// High reports whether the pulse is in progress.
func (w *WatchdogPulse) High() bool { return w.remaining > 0 }

// MasterSwitch is the shutdown monitor: it reads the master switch and, when
// asked to shut down, clears the display, turns the backlight off and sends
// the closing message.
type MasterSwitch struct {
	deps *Deps
}

func NewMasterSwitch(d *Deps) *MasterSwitch { return &MasterSwitch{deps: d} }

func (m *MasterSwitch) Check() bool { return m.deps.Board.MasterSwitch.Read() }

func (m *MasterSwitch) Shutdown() {
	disp := m.deps.Board.Display
	disp.Clear()
	disp.SetBacklight(false)
	m.deps.transmit(ClosingMessage)
}

// Boot draws the initial display layout and sends the serial header.
func Boot(d *Deps) {
	disp := d.Board.Display
	disp.SetBacklight(true)
	disp.Clear()
	disp.RenderCell(0, 0, "000 Hz")
	disp.RenderCell(0, 8, "0.0 V")
	disp.RenderCell(1, 8, "0.0 V")
	disp.RenderCell(1, 0, "0 bool")
	d.transmit(SerialHeader)
}
