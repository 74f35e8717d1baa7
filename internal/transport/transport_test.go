package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cyclex/internal/eventbus"
	logx "cyclex/pkg/logx"
)

func TestFileLineAppendsWithSerialEOL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "capture", "serial.log")
	l, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	for _, s := range []string{"frequency, digital, analogue_value_1, analogue_value_2", "1000,1,2.5,0.5"} {
		if err := l.TransmitLine(s); err != nil {
			t.Fatalf("TransmitLine: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "frequency, digital, analogue_value_1, analogue_value_2\r\n1000,1,2.5,0.5\r\n"
	if string(b) != want {
		t.Fatalf("file = %q, want %q", b, want)
	}
}

func TestTeeAttemptsEverySink(t *testing.T) {
	t.Parallel()
	var a, b bytes.Buffer
	boom := errors.New("boom")
	tee := Tee{
		NewWriterLine(&a, "\n"),
		LineFunc(func(string) error { return boom }),
		nil,
		NewWriterLine(&b, "\n"),
	}
	if err := tee.TransmitLine("x"); !errors.Is(err, boom) {
		t.Fatalf("Tee err = %v, want boom", err)
	}
	if a.String() != "x\n" || b.String() != "x\n" {
		t.Fatalf("sinks = %q %q", a.String(), b.String())
	}
}

type gatedSender struct {
	mu      sync.Mutex
	got     []string
	started chan string
	release chan struct{}
	fails   int
}

func (g *gatedSender) SendText(ctx context.Context, text string) error {
	if g.started != nil {
		g.started <- text
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fails > 0 {
		g.fails--
		return errors.New("transient")
	}
	g.got = append(g.got, text)
	return nil
}

func (g *gatedSender) lines() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.got...)
}

func TestQueueDeliversInOrder(t *testing.T) {
	t.Parallel()
	s := &gatedSender{}
	q := NewQueue(QueueConfig{Name: "test", RatePerSec: -1}, s, logx.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Start(ctx)
	for _, l := range []string{"a", "b", "c"} {
		if err := q.TransmitLine(l); err != nil {
			t.Fatalf("TransmitLine: %v", err)
		}
	}
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := strings.Join(s.lines(), ","); got != "a,b,c" {
		t.Fatalf("sent %q", got)
	}
	if err := q.TransmitLine("late"); !errors.Is(err, ErrStopped) {
		t.Fatalf("TransmitLine after stop = %v", err)
	}
	if st := q.Stats(); st.Sent != 3 || st.Dropped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	t.Parallel()
	s := &gatedSender{started: make(chan string, 4), release: make(chan struct{})}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	q := NewQueue(QueueConfig{Name: "slow", Size: 1, RatePerSec: -1}, s, logx.Nop(), bus)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Start(ctx)

	if err := q.TransmitLine("a"); err != nil {
		t.Fatal(err)
	}
	<-s.started // worker holds "a"
	if err := q.TransmitLine("b"); err != nil {
		t.Fatalf("second line: %v", err)
	}
	start := time.Now()
	if err := q.TransmitLine("c"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("third line = %v, want ErrQueueFull", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("TransmitLine blocked on a full queue")
	}
	close(s.release)
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := q.Stats(); st.Sent != 2 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}
	select {
	case ev := <-events:
		if ev.Type != EventLineDropped || ev.Data.(LineEvent).Text != "c" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatal("no drop event")
	}
}

func TestQueueRetries(t *testing.T) {
	t.Parallel()
	s := &gatedSender{fails: 1}
	q := NewQueue(QueueConfig{RatePerSec: -1, RetryMax: 2, RetryBase: time.Millisecond}, s, logx.Nop(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Start(ctx)
	_ = q.TransmitLine("x")
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if st := q.Stats(); st.Sent != 1 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestQueueFlushesAfterParentCancel(t *testing.T) {
	t.Parallel()
	s := &gatedSender{}
	q := NewQueue(QueueConfig{Name: "telegram", RatePerSec: -1}, s, logx.Nop(), nil)
	parent, cancelParent := context.WithCancel(context.Background())
	q.Start(parent)
	want := []string{"1", "2", "3", "4", "5", "Closing"}
	for _, l := range want {
		if err := q.TransmitLine(l); err != nil {
			t.Fatalf("TransmitLine(%q): %v", l, err)
		}
	}
	// The app cancels its run context before stopping the sinks.
	cancelParent()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := strings.Join(s.lines(), ","); got != strings.Join(want, ",") {
		t.Fatalf("sent %q", got)
	}
	if st := q.Stats(); st.Sent != uint64(len(want)) || st.Dropped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestQueueStopCountsUnsentLines(t *testing.T) {
	t.Parallel()
	s := &gatedSender{started: make(chan string, 4), release: make(chan struct{})}
	q := NewQueue(QueueConfig{Name: "stuck", RatePerSec: -1}, s, logx.Nop(), nil)
	q.Start(context.Background())
	for _, l := range []string{"a", "b", "c"} {
		if err := q.TransmitLine(l); err != nil {
			t.Fatal(err)
		}
	}
	<-s.started // worker holds "a" and never gets released

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	if st := q.Stats(); st.Sent != 0 || st.Dropped != 3 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRemoteLogPrefixesLines(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	r := RemoteLog{Line: NewWriterLine(&buf, "\n")}
	if err := r.SendText(context.Background(), "[WARN] tick budget exceeded\nslot=3"); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "# [WARN] tick budget exceeded slot=3\n" {
		t.Fatalf("line = %q", got)
	}
}

func TestTelegramRequiresChat(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramConfig{Token: "1:abc", Offline: true}); err == nil {
		t.Fatal("expected chat_id error")
	}
	if _, err := NewTelegram(TelegramConfig{ChatID: 1, Offline: true}); err == nil {
		t.Fatal("expected token error")
	}
}

func TestTelegramSendsToChat(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"chat":{"id":42,"type":"private"},"text":"1000,1,2.5,0.5"}}`)
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "1:abc", ChatID: 42, Offline: true, URL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegram: %v", err)
	}
	if err := tg.SendText(context.Background(), "1000,1,2.5,0.5"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.HasSuffix(path, "/sendMessage") {
		t.Fatalf("path = %q", path)
	}
	if !strings.Contains(body, "1000,1,2.5,0.5") || !strings.Contains(body, "42") {
		t.Fatalf("body = %q", body)
	}
}
