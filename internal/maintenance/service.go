// Package maintenance runs housekeeping jobs (status report, storage
// retention) on cron schedules, away from the tick loop.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "cyclex/pkg/logx"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether spec parses. An empty spec is valid (disabled).
func ValidateSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return nil
	}
	_, err := parser.Parse(spec)
	return err
}

// JobFunc is one housekeeping run.
type JobFunc func(ctx context.Context) error

// Config selects which registered jobs run and when. Specs maps job name to
// a cron spec; a missing or empty spec disables the job.
type Config struct {
	Enabled  bool
	Timezone string
	Specs    map[string]string
	Timeout  time.Duration // per run; default 30s
}

type Service struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	jobs    map[string]JobFunc
	c       *cron.Cron
	ctx     context.Context
	entries map[string]cron.EntryID
}

func New(log logx.Logger) *Service {
	return &Service{
		log:     log.With(logx.String("comp", "maintenance")),
		jobs:    map[string]JobFunc{},
		entries: map[string]cron.EntryID{},
	}
}

// Register adds a job by name. Call before Start.
func (s *Service) Register(name string, fn JobFunc) {
	s.mu.Lock()
	s.jobs[name] = fn
	s.mu.Unlock()
}

// Start begins scheduling with cfg. Runs are cancelled when ctx is done.
func (s *Service) Start(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.cfg = cfg
	return s.rebuildLocked()
}

// Apply swaps the schedule. The cron runner is rebuilt when anything
// changed; in-flight runs finish.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		s.cfg = cfg
		return nil
	}
	if sameConfig(s.cfg, cfg) {
		return nil
	}
	s.cfg = cfg
	return s.rebuildLocked()
}

func (s *Service) rebuildLocked() error {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	s.entries = map[string]cron.EntryID{}
	if !s.cfg.Enabled {
		s.log.Info("maintenance disabled")
		return nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("maintenance timezone %q: %w", tz, err)
		}
		loc = l
	}

	cl := cronLogger{s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := strings.TrimSpace(s.cfg.Specs[name])
		if spec == "" {
			continue
		}
		id, err := c.AddJob(spec, s.wrap(name, s.jobs[name]))
		if err != nil {
			return fmt.Errorf("maintenance job %s: %w", name, err)
		}
		s.entries[name] = id
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance scheduled", logx.String("tz", loc.String()), logx.Int("jobs", len(s.entries)))
	return nil
}

func (s *Service) wrap(name string, fn JobFunc) cron.Job {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	parent := s.ctx
	return cron.FuncJob(func() {
		if parent.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		start := time.Now()
		if err := fn(ctx); err != nil {
			s.log.Warn("job failed", logx.String("job", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		s.log.Debug("job done", logx.String("job", name), logx.Duration("took", time.Since(start)))
	})
}

// RunNow runs a registered job synchronously (operators, tests).
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn := s.jobs[name]
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("maintenance: unknown job %q", name)
	}
	return fn(ctx)
}

// Next returns the next scheduled run per job.
func (s *Service) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]time.Time{}
	if s.c == nil {
		return out
	}
	for name, id := range s.entries {
		out[name] = s.c.Entry(id).Next
	}
	return out
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func sameConfig(a, b Config) bool {
	if a.Enabled != b.Enabled || a.Timezone != b.Timezone || a.Timeout != b.Timeout || len(a.Specs) != len(b.Specs) {
		return false
	}
	for k, v := range a.Specs {
		if b.Specs[k] != v {
			return false
		}
	}
	return true
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
