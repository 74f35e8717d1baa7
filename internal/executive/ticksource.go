package executive

import (
	"context"
	"time"

	logx "cyclex/pkg/logx"
)

// TickSource delivers ticks. Stop detaches it; no ticks follow.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

// NewTicker returns a TickSource backed by time.Ticker. A tick that arrives
// while the previous step is still running is dropped by the ticker, so steps
// never overlap.
func NewTicker(interval time.Duration) TickSource {
	if interval <= 0 {
		interval = DefaultTick
	}
	return &timeTicker{t: time.NewTicker(interval)}
}

type timeTicker struct{ t *time.Ticker }

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }

// ManualTicks is a TickSource driven by the caller (tests, simulations).
type ManualTicks struct {
	ch      chan time.Time
	stopped chan struct{}
}

func NewManualTicks() *ManualTicks {
	return &ManualTicks{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *ManualTicks) C() <-chan time.Time { return m.ch }

func (m *ManualTicks) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
}

// Fire delivers one tick and reports whether the receiver took it before the
// source was stopped or ctx ended.
func (m *ManualTicks) Fire(ctx context.Context) bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stopped is closed after Stop.
func (m *ManualTicks) Stopped() <-chan struct{} { return m.stopped }

// Run steps the executive on every tick until ctx ends or the shutdown
// monitor halts it. Halting detaches src. Cancellation is only observed
// between steps.
func (e *Executive) Run(ctx context.Context, src TickSource) error {
	if e.halted {
		return ErrHalted
	}
	e.detach = src.Stop
	defer src.Stop()

	e.log.Info("executive started",
		logx.Duration("tick", e.interval),
		logx.Int("tasks", len(e.table)),
		logx.Uint64("slot", e.slot),
	)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("executive stopped", logx.Uint64("slot", e.slot), logx.Uint64("ticks", e.ticks))
			return nil
		case <-src.C():
			if r := e.Step(); r.Halted {
				e.log.Info("executive halted", logx.Uint64("slot", r.Slot), logx.Uint64("ticks", e.ticks))
				return nil
			}
		}
	}
}
