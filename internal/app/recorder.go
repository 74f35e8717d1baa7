package app

import (
	"context"
	"fmt"
	"time"

	"cyclex/internal/eventbus"
	"cyclex/internal/executive"
	"cyclex/internal/storage"
	"cyclex/internal/tasks"
	"cyclex/internal/transport"
	logx "cyclex/pkg/logx"
)

// Lifecycle event types written by the app itself.
const (
	EventStarted = "app.started"
	EventStopped = "app.stopped"
)

// recorder drains the bus into the store and the debug log. Telemetry
// records are rebuilt from the snapshot carried by task.ran events of rows
// bound to telemetry_send.
type recorder struct {
	store     storage.Store
	log       logx.Logger
	telemetry map[string]bool
	timeout   time.Duration
}

func newRecorder(store storage.Store, rows []tasks.Row, log logx.Logger) *recorder {
	tel := map[string]bool{}
	for _, r := range rows {
		action := r.Action
		if action == "" {
			action = r.Name
		}
		if action == executive.TaskTelemetrySend {
			tel[r.Name] = true
		}
	}
	return &recorder{store: store, log: log, telemetry: tel, timeout: 2 * time.Second}
}

func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, e)
		}
	}
}

func (r *recorder) handle(ctx context.Context, e eventbus.Event) {
	if e.Type != executive.EventTaskRan {
		r.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	} else if d, ok := e.Data.(executive.TaskRan); ok && r.log.Enabled(logx.LevelTrace) {
		r.log.Trace("task ran", logx.String("task", d.Task), logx.Uint64("slot", d.Slot))
	}
	if r.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var err error
	switch d := e.Data.(type) {
	case executive.TaskRan:
		if !r.telemetry[d.Task] {
			return
		}
		s := d.Snapshot
		err = r.store.AppendTelemetry(wctx, storage.TelemetryRecord{
			At:          e.Time,
			Slot:        d.Slot,
			Line:        tasks.TelemetryLine(s),
			FrequencyHz: s.FrequencyHz,
			Switch:      s.Switch,
			Analog1:     s.Analog1,
			Analog2:     s.Analog2,
		})
	case executive.Overrun:
		err = r.store.AppendEvent(wctx, storage.EventRecord{
			At: e.Time, Type: e.Type, Slot: d.Slot, Task: d.Task,
			Detail: fmt.Sprintf("elapsed=%s budget=%s", d.Elapsed, d.Budget),
		})
	case executive.Halted:
		err = r.store.AppendEvent(wctx, storage.EventRecord{
			At: e.Time, Type: e.Type, Slot: d.Slot,
			Detail: fmt.Sprintf("pattern=%s frequency_hz=%d", d.Snapshot.Pattern, d.Snapshot.FrequencyHz),
		})
	case transport.LineEvent:
		detail := d.Sink
		if d.Error != "" {
			detail += ": " + d.Error
		}
		err = r.store.AppendEvent(wctx, storage.EventRecord{At: e.Time, Type: e.Type, Detail: detail})
	default:
		return
	}
	if err != nil {
		r.log.Warn("store append failed", logx.String("type", e.Type), logx.Err(err))
	}
}

// lifecycle writes an app-level event straight to the store.
func (r *recorder) lifecycle(ctx context.Context, typ string, slot uint64, detail string) {
	if r.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.store.AppendEvent(wctx, storage.EventRecord{At: time.Now(), Type: typ, Slot: slot, Detail: detail}); err != nil {
		r.log.Warn("store append failed", logx.String("type", typ), logx.Err(err))
	}
}
