package maintenance

import (
	"context"
	"time"

	"cyclex/internal/executive"
	"cyclex/internal/storage"
	logx "cyclex/pkg/logx"
)

// Job names used in the config.
const (
	JobReport = "report"
	JobPrune  = "prune"
)

// ReportJob logs a status line: slot, achieved tick rate since the previous
// report, idle share, overruns and per-task dispatch counts.
func ReportJob(status func() executive.Status, st storage.Store, log logx.Logger) JobFunc {
	var (
		lastTicks uint64
		lastAt    time.Time
	)
	return func(ctx context.Context) error {
		s := status()
		now := time.Now()
		fields := []logx.Field{
			logx.Uint64("slot", s.Slot),
			logx.Uint64("ticks", s.Ticks),
			logx.Uint64("idle", s.Idle),
			logx.Uint64("overruns", s.Overruns),
			logx.Bool("halted", s.Halted),
			logx.String("last_task", s.LastTask),
			logx.Any("runs", s.Runs),
			logx.Int("frequency_hz", s.Snapshot.FrequencyHz),
			logx.String("pattern", s.Snapshot.Pattern.String()),
		}
		if !lastAt.IsZero() && s.Ticks >= lastTicks {
			if el := now.Sub(lastAt).Seconds(); el > 0 {
				fields = append(fields, logx.Float64("tick_rate", float64(s.Ticks-lastTicks)/el))
			}
		}
		lastTicks, lastAt = s.Ticks, now
		if st != nil {
			c, err := st.Counts(ctx)
			if err != nil {
				return err
			}
			fields = append(fields, logx.Int64("stored_telemetry", c.Telemetry), logx.Int64("stored_events", c.Events))
		}
		log.Info("status report", fields...)
		return nil
	}
}

// PruneJob deletes stored records older than retention.
func PruneJob(st storage.Store, retention time.Duration, log logx.Logger) JobFunc {
	return func(ctx context.Context) error {
		if st == nil {
			return storage.ErrDisabled
		}
		if retention <= 0 {
			return nil
		}
		n, err := st.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		log.Info("storage pruned", logx.Int64("removed", n), logx.Duration("retention", retention))
		return nil
	}
}
