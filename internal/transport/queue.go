package transport

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"cyclex/internal/eventbus"
	rtsup "cyclex/internal/runtime/supervisor"
	logx "cyclex/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrQueueFull = errors.New("transport: queue full")
	ErrStopped   = errors.New("transport: queue stopped")
)

// Event types published by Queue.
const (
	EventLineDropped = "telemetry.dropped"
	EventLineFailed  = "telemetry.failed"
)

// LineEvent is the payload of the queue events.
type LineEvent struct {
	Sink  string
	Text  string
	Error string
}

// Sender delivers one line over a slow medium. It may block up to ctx.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type SenderFunc func(ctx context.Context, text string) error

func (f SenderFunc) SendText(ctx context.Context, text string) error { return f(ctx, text) }

// QueueConfig tunes a Queue. Zero values pick defaults.
type QueueConfig struct {
	Name        string
	Size        int     // default 256
	RatePerSec  float64 // default 1; <0 disables pacing
	Burst       int     // default max(1, RatePerSec)
	RetryMax    int     // extra attempts per line
	RetryBase   time.Duration
	SendTimeout time.Duration // default 10s
}

// Queue makes a Sender usable from the tick loop: TransmitLine never blocks,
// a supervised worker drains the queue paced by a token bucket, and overflow
// is dropped and counted.
type Queue struct {
	cfg     QueueConfig
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
	bus     eventbus.Publisher

	mu        sync.Mutex
	accepting bool
	ch        chan string
	sup       *rtsup.Supervisor
	inflight  sync.WaitGroup

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

func NewQueue(cfg QueueConfig, sender Sender, log logx.Logger, bus eventbus.Publisher) *Queue {
	if cfg.Name == "" {
		cfg.Name = "queue"
	}
	if cfg.Size <= 0 {
		cfg.Size = 256
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(cfg.RatePerSec))
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	q := &Queue{
		cfg:    cfg,
		sender: sender,
		log:    log.With(logx.String("sink", cfg.Name)),
		bus:    bus,
	}
	if cfg.RatePerSec > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	}
	return q
}

// Start launches the worker. It is idempotent. The worker keeps ctx values but
// not its cancellation: it lives until Stop, so lines queued before shutdown
// still go out.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		return
	}
	q.ch = make(chan string, q.cfg.Size)
	q.accepting = true
	q.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(q.log), rtsup.WithCancelOnError(false))
	ch := q.ch
	q.sup.GoRestart(q.cfg.Name, func(c context.Context) error {
		q.drain(c, ch)
		if c.Err() != nil {
			return c.Err()
		}
		return nil
	}, rtsup.WithPublishFirstError(true))
}

// Stop refuses new lines, then drains what is queued until ctx is done.
// Lines still unsent when ctx expires are counted as dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.ch == nil || !q.accepting {
		q.mu.Unlock()
		return nil
	}
	q.accepting = false
	ch, sup := q.ch, q.sup
	q.mu.Unlock()

	q.inflight.Wait()
	close(ch)
	if err := sup.Wait(ctx); err == nil || ctx.Err() == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sup.Wait(wctx)
	for text := range ch {
		q.drop(text, ctx.Err())
	}
	if n := q.dropped.Load(); n > 0 {
		q.log.Warn("queue stopped with unsent lines", logx.Uint64("dropped_total", n))
	}
	return ctx.Err()
}

// TransmitLine enqueues text without blocking.
func (q *Queue) TransmitLine(text string) error {
	q.mu.Lock()
	if !q.accepting {
		q.mu.Unlock()
		return ErrStopped
	}
	ch := q.ch
	q.inflight.Add(1)
	q.mu.Unlock()
	defer q.inflight.Done()

	select {
	case ch <- text:
		return nil
	default:
		q.drop(text, ErrQueueFull)
		return ErrQueueFull
	}
}

func (q *Queue) drop(text string, err error) {
	q.dropped.Add(1)
	q.publish(EventLineDropped, text, err)
}

func (q *Queue) drain(ctx context.Context, ch <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-ch:
			if !ok {
				return
			}
			q.send(ctx, text)
		}
	}
}

func (q *Queue) send(ctx context.Context, text string) {
	var err error
	for attempt := 0; attempt <= q.cfg.RetryMax; attempt++ {
		if q.limiter != nil {
			if werr := q.limiter.Wait(ctx); werr != nil {
				q.drop(text, werr)
				return
			}
		}
		cctx, cancel := context.WithTimeout(ctx, q.cfg.SendTimeout)
		err = q.sender.SendText(cctx, text)
		cancel()
		if err == nil {
			q.sent.Add(1)
			return
		}
		if ctx.Err() != nil {
			q.drop(text, ctx.Err())
			return
		}
		q.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt+1))
		if attempt == q.cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(q.cfg.RetryBase, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			q.drop(text, ctx.Err())
			return
		case <-t.C:
		}
	}
	q.failed.Add(1)
	q.publish(EventLineFailed, text, err)
}

func (q *Queue) publish(typ, text string, err error) {
	if q.bus == nil {
		return
	}
	ev := LineEvent{Sink: q.cfg.Name, Text: text}
	if err != nil {
		ev.Error = err.Error()
	}
	q.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// retryDelay is base*2^attempt with 0.7..1.3 jitter, capped at 10s.
func retryDelay(base time.Duration, attempt int) time.Duration {
	const maxDelay = 10 * time.Second
	d := base
	for i := 0; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, maxDelay)
}

// QueueStats is a counter snapshot.
type QueueStats struct {
	Name    string
	Queued  int
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	n := 0
	if q.ch != nil {
		n = len(q.ch)
	}
	q.mu.Unlock()
	return QueueStats{Name: q.cfg.Name, Queued: n, Sent: q.sent.Load(), Dropped: q.dropped.Load(), Failed: q.failed.Load()}
}
