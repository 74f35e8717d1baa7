package tasks

import (
	"strings"
	"sync"
	"testing"
	"time"

	"cyclex/internal/executive"
	"cyclex/internal/hal/sim"
	logx "cyclex/pkg/logx"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) TransmitLine(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
	return nil
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

type rig struct {
	board  *sim.Board
	serial *lineRecorder
	deps   *Deps
	delays []time.Duration
	pets   int
}

func newRig(cfg sim.Config) *rig {
	r := &rig{board: sim.New(cfg), serial: &lineRecorder{}}
	hb := r.board.HAL(func(d time.Duration) { r.delays = append(r.delays, d) })
	r.deps = &Deps{Board: hb, Serial: r.serial, Log: logx.Nop(), Pet: func() { r.pets++ }}
	return r
}

func TestFrequencyFromHalfPeriod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		us   uint32
		want int
	}{
		{us: 500, want: 1000},
		{us: 10000, want: 50},
		{us: 1, want: 500000},
		{us: 0, want: 0},
		{us: 3, want: 166666},
	}
	for _, tt := range tests {
		if got := FrequencyFromHalfPeriod(tt.us); got != tt.want {
			t.Fatalf("FrequencyFromHalfPeriod(%d) = %d, want %d", tt.us, got, tt.want)
		}
	}
}

func TestMeasureFrequencyKeepsValueWithoutCapture(t *testing.T) {
	t.Parallel()
	w := sim.NewSquareWave(0)
	w.SetHalfPeriod(500)
	a := MeasureFrequency(w)
	var s executive.Snapshot
	a.Run(&s)
	if s.FrequencyHz != 1000 {
		t.Fatalf("frequency = %d, want 1000", s.FrequencyHz)
	}
	w.SetHalfPeriod(0)
	a.Run(&s)
	if s.FrequencyHz != 1000 {
		t.Fatalf("frequency changed to %d on an idle input", s.FrequencyHz)
	}
}

func TestSelectPattern(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sw     bool
		a1, a2 float64
		want   executive.HealthPattern
	}{
		{sw: true, a1: 30, a2: 10, want: executive.PatternA},
		{sw: false, a1: 30, a2: 10, want: executive.PatternB},
		{sw: false, a1: 10, a2: 30, want: executive.PatternB},
		{sw: true, a1: 10, a2: 30, want: executive.PatternB},
		{sw: true, a1: 10, a2: 10, want: executive.PatternB},
	}
	for _, tt := range tests {
		if got := SelectPattern(tt.sw, tt.a1, tt.a2); got != tt.want {
			t.Fatalf("SelectPattern(%v,%v,%v) = %v, want %v", tt.sw, tt.a1, tt.a2, got, tt.want)
		}
	}
}

func TestErrorCheckFlashesSelectedIndicator(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	s := executive.Snapshot{Switch: true, Analog1: 7, Analog2: 2}
	ErrorCheck(r.deps).Run(&s)

	if s.Pattern != executive.PatternA {
		t.Fatalf("pattern = %v, want A", s.Pattern)
	}
	if got := r.board.IndicatorA.Rises(); got != 5 {
		t.Fatalf("indicator A flashed %d times, want 5", got)
	}
	if r.board.IndicatorA.Level() || r.board.IndicatorB.Rises() != 0 {
		t.Fatal("wrong indicator state after pattern A")
	}
	if len(r.delays) != 10 {
		t.Fatalf("delays = %d, want 10", len(r.delays))
	}
	for _, d := range r.delays {
		if d != time.Millisecond {
			t.Fatalf("delay %v, want 1ms", d)
		}
	}
	h := r.board.TimerPulse.History()
	if len(h) != 2 || !h[0] || h[1] {
		t.Fatalf("timer pulse history = %v, want [true false]", h)
	}

	s.Switch = false
	ErrorCheck(r.deps).Run(&s)
	if s.Pattern != executive.PatternB || r.board.IndicatorB.Rises() != 5 {
		t.Fatalf("pattern = %v, indicator B rises = %d", s.Pattern, r.board.IndicatorB.Rises())
	}
}

func TestSampleAnalogAveragesAndScales(t *testing.T) {
	t.Parallel()
	if got := SampleAnalog(sim.NewAnalog(0.5, 0, nil)); got != 5 {
		t.Fatalf("SampleAnalog = %v, want 5", got)
	}
	if got := SampleAnalog(sim.NewAnalog(1, 0, nil)); got != 10 {
		t.Fatalf("SampleAnalog = %v, want 10", got)
	}
}

func TestFormatting(t *testing.T) {
	t.Parallel()
	volts := map[float64]string{0: "0.0", 1: "0.5", 5: "2.5", 9.9: "4.5", 10: "5.0"}
	for in, want := range volts {
		if got := FormatVolts(in); got != want {
			t.Fatalf("FormatVolts(%v) = %q, want %q", in, got, want)
		}
	}
	line := TelemetryLine(executive.Snapshot{FrequencyHz: 1000, Switch: true, Analog1: 5, Analog2: 1})
	if line != "1000,1,2.5,0.5" {
		t.Fatalf("TelemetryLine = %q", line)
	}
}

func TestBootAndDisplayUpdate(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	Boot(r.deps)
	if got := r.board.LCD.Row(0); got != "000 Hz  0.0 V" {
		t.Fatalf("boot row 0 = %q", got)
	}
	if got := r.board.LCD.Row(1); got != "0 bool  0.0 V" {
		t.Fatalf("boot row 1 = %q", got)
	}
	if !r.board.LCD.Backlight() {
		t.Fatal("backlight off after boot")
	}
	if lines := r.serial.all(); len(lines) != 1 || lines[0] != SerialHeader {
		t.Fatalf("serial = %v", lines)
	}

	DisplayUpdate(r.board.LCD).Run(&executive.Snapshot{FrequencyHz: 50, Analog1: 10, Analog2: 3, Switch: true})
	if got := r.board.LCD.Row(0); got != "50 Hz   5.0 V" {
		t.Fatalf("row 0 = %q", got)
	}
	if got := r.board.LCD.Row(1); got != "1 bool  1.5 V" {
		t.Fatalf("row 1 = %q", got)
	}
}

func TestBuildRejectsUnknownAction(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	rows := append(ReferenceRows(), Row{Name: "extra", Action: "reboot", Period: 7})
	_, _, err := Build(rows, r.deps)
	if err == nil || !strings.Contains(err.Error(), `unknown action "reboot"`) {
		t.Fatalf("Build err = %v", err)
	}
}

func TestBuildAliasesAction(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	table, hooks, err := Build([]Row{
		{Name: "pulse_fast", Action: executive.TaskWatchdogPulse, Period: 3},
		{Name: "pulse_slow", Action: executive.TaskWatchdogPulse, Period: 9, Phase: 1},
	}, r.deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(table) != 2 || len(hooks) != 2 {
		t.Fatalf("table = %d rows, hooks = %d", len(table), len(hooks))
	}
	if table[0].Action == table[1].Action {
		t.Fatal("rows share an action instance")
	}
}

func newExecutive(t *testing.T, r *rig, opts ...executive.Option) *executive.Executive {
	t.Helper()
	table, hooks, err := Build(ReferenceRows(), r.deps)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, h := range hooks {
		opts = append(opts, executive.WithTickHook(h))
	}
	e, err := executive.New(table, NewMasterSwitch(r.deps), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestWatchdogHighForOneTick(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	e := newExecutive(t, r, executive.WithStartSlot(2))

	if res := e.Step(); res.Task != executive.TaskWatchdogPulse {
		t.Fatalf("slot 2 ran %q", res.Task)
	}
	if !r.board.Watchdog.Level() {
		t.Fatal("watchdog low right after the pulse started")
	}
	e.Step() // slot 3
	if r.board.Watchdog.Level() {
		t.Fatal("watchdog still high one tick later")
	}
	if r.pets != 1 {
		t.Fatalf("pets = %d, want 1", r.pets)
	}
}

func TestReferenceRunProducesTelemetry(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{FrequencyHz: 1000, Analog1: 0.5, Analog2: 0.25, Switch: true, Seed: 1})
	e := newExecutive(t, r)
	for i := 0; i < 300; i++ {
		e.Step()
	}
	lines := r.serial.all()
	if len(lines) == 0 {
		t.Fatal("no telemetry after 300 ticks")
	}
	// Frequency at slot 0, switch at 1, analog at 21; telemetry at 9 sees
	// only the first two, telemetry at 259 sees everything.
	want := []string{"1000,1,0.0,0.0", "1000,1,2.5,1.0"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %v, want %v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines = %v, want %v", lines, want)
		}
	}
	if got := e.Snapshot().Pattern; got != executive.PatternA {
		t.Fatalf("pattern = %v, want A", got)
	}
}

func TestMasterSwitchStopsEverything(t *testing.T) {
	t.Parallel()
	r := newRig(sim.Config{})
	r.board.Master.(*sim.Switch).Set(true)
	Boot(r.deps)
	e := newExecutive(t, r)

	for i := 0; i < 3; i++ {
		e.Step() // busy slots 0..2
	}
	if e.Halted() {
		t.Fatal("halted on a busy slot")
	}
	e.Step() // slot 3 is idle
	if !e.Halted() {
		t.Fatal("not halted after the idle slot")
	}
	before := e.Status().Runs
	for i := 0; i < 500; i++ {
		e.Step()
	}
	after := e.Status().Runs
	for name, n := range after {
		if before[name] != n {
			t.Fatalf("%s ran after shutdown", name)
		}
	}
	if r.board.LCD.Backlight() || r.board.LCD.Row(0) != "" {
		t.Fatal("display not cleared and dimmed")
	}
	lines := r.serial.all()
	if lines[len(lines)-1] != ClosingMessage {
		t.Fatalf("last line = %q, want %q", lines[len(lines)-1], ClosingMessage)
	}
}
