// Package sim is an in-process board for development and tests.
package sim

import (
	"math"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cyclex/internal/hal"
)

// Config mirrors config.SimBoardConfig.
type Config struct {
	FrequencyHz      float64
	Analog1          float64
	Analog2          float64
	Noise            float64
	Switch           bool
	MasterSwitchFile string
	Seed             int64
}

// Board is a simulated board. Component fields are exported so callers can
// drive inputs and inspect outputs.
type Board struct {
	Freq       *SquareWave
	Switch     *Switch
	Master     hal.DigitalIn
	Analog1    *Analog
	Analog2    *Analog
	Watchdog   *Pin
	IndicatorA *Pin
	IndicatorB *Pin
	TimerPulse *Pin
	LCD        *LCD
}

// New builds a simulated board. An empty MasterSwitchFile gives a switch that
// is only driven programmatically.
func New(cfg Config) *Board {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := &lockedRand{r: rand.New(rand.NewSource(seed))}

	b := &Board{
		Freq:       NewSquareWave(cfg.FrequencyHz),
		Switch:     NewSwitch(cfg.Switch),
		Analog1:    NewAnalog(cfg.Analog1, cfg.Noise, rng),
		Analog2:    NewAnalog(cfg.Analog2, cfg.Noise, rng),
		Watchdog:   &Pin{},
		IndicatorA: &Pin{},
		IndicatorB: &Pin{},
		TimerPulse: &Pin{},
		LCD:        NewLCD(2, 16),
	}
	if cfg.MasterSwitchFile != "" {
		b.Master = FileSwitch(cfg.MasterSwitchFile)
	} else {
		b.Master = NewSwitch(false)
	}
	return b
}

// HAL exposes the board through the hal interfaces.
func (b *Board) HAL(delay hal.Delay) *hal.Board {
	if delay == nil {
		delay = hal.Sleep
	}
	return &hal.Board{
		FreqIn:       b.Freq,
		Switch:       b.Switch,
		MasterSwitch: b.Master,
		Analog1:      b.Analog1,
		Analog2:      b.Analog2,
		Watchdog:     b.Watchdog,
		IndicatorA:   b.IndicatorA,
		IndicatorB:   b.IndicatorB,
		TimerPulse:   b.TimerPulse,
		Display:      b.LCD,
		Delay:        delay,
	}
}

// SquareWave behaves like an edge-capture input fed by a 50% duty square wave.
type SquareWave struct {
	halfUS atomic.Uint32
}

func NewSquareWave(hz float64) *SquareWave {
	w := &SquareWave{}
	w.SetFrequency(hz)
	return w
}

// SetFrequency changes the generated signal. hz <= 0 means no signal.
func (w *SquareWave) SetFrequency(hz float64) {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		w.halfUS.Store(0)
		return
	}
	half := math.Round(1e6 / (2 * hz))
	if half < 1 {
		half = 1
	}
	if half > math.MaxUint32 {
		half = math.MaxUint32
	}
	w.halfUS.Store(uint32(half))
}

// SetHalfPeriod sets the captured interval directly. 0 means no signal.
func (w *SquareWave) SetHalfPeriod(us uint32) { w.halfUS.Store(us) }

func (w *SquareWave) LastHalfPeriod() (uint32, bool) {
	us := w.halfUS.Load()
	return us, us != 0
}

type Switch struct {
	on atomic.Bool
}

func NewSwitch(on bool) *Switch {
	s := &Switch{}
	s.on.Store(on)
	return s
}

func (s *Switch) Set(on bool) { s.on.Store(on) }
func (s *Switch) Read() bool  { return s.on.Load() }

// FileSwitch reads active while the file exists. Touching the file is how an
// operator flips the master switch of a simulated board.
type FileSwitch string

func (f FileSwitch) Read() bool {
	_, err := os.Stat(string(f))
	return err == nil
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Analog returns a level plus uniform noise in [-noise, +noise], clamped to
// [0,1].
type Analog struct {
	mu    sync.Mutex
	level float64
	noise float64
	rng   *lockedRand
}

func NewAnalog(level, noise float64, rng *lockedRand) *Analog {
	if rng == nil {
		rng = &lockedRand{r: rand.New(rand.NewSource(1))}
	}
	return &Analog{level: level, noise: noise, rng: rng}
}

func (a *Analog) Set(level float64) {
	a.mu.Lock()
	a.level = level
	a.mu.Unlock()
}

func (a *Analog) Read() float64 {
	a.mu.Lock()
	v, n := a.level, a.noise
	a.mu.Unlock()
	if n > 0 {
		v += (a.rng.Float64()*2 - 1) * n
	}
	return math.Min(1, math.Max(0, v))
}

// Pin records every level change.
type Pin struct {
	mu      sync.Mutex
	level   bool
	history []bool
	rises   int
}

func (p *Pin) Set(level bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if level && !p.level {
		p.rises++
	}
	p.level = level
	p.history = append(p.history, level)
	if len(p.history) > 4096 {
		p.history = append(p.history[:0], p.history[len(p.history)-1024:]...)
	}
}

func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Rises counts low-to-high transitions.
func (p *Pin) Rises() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rises
}

// History returns the most recent Set calls, oldest first.
func (p *Pin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.history...)
}

// LCD is a character display. Text written past the last column is cut.
type LCD struct {
	mu        sync.Mutex
	cells     [][]rune
	backlight bool
}

func NewLCD(rows, cols int) *LCD {
	l := &LCD{cells: make([][]rune, rows)}
	for i := range l.cells {
		l.cells[i] = make([]rune, cols)
	}
	l.clearLocked()
	return l
}

func (l *LCD) RenderCell(row, col int, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if row < 0 || row >= len(l.cells) || col < 0 {
		return
	}
	line := l.cells[row]
	for _, r := range text {
		if col >= len(line) {
			return
		}
		line[col] = r
		col++
	}
}

func (l *LCD) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearLocked()
}

func (l *LCD) clearLocked() {
	for _, line := range l.cells {
		for i := range line {
			line[i] = ' '
		}
	}
}

func (l *LCD) SetBacklight(on bool) {
	l.mu.Lock()
	l.backlight = on
	l.mu.Unlock()
}

func (l *LCD) Backlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backlight
}

// Row returns one display row with trailing blanks removed.
func (l *LCD) Row(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if i < 0 || i >= len(l.cells) {
		return ""
	}
	return strings.TrimRight(string(l.cells[i]), " ")
}
