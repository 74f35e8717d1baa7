package systemd

import (
	"testing"
	"time"
)

type fakeNotify struct {
	states []string
}

func (f *fakeNotify) notify(_ bool, state string) (bool, error) {
	f.states = append(f.states, state)
	return true, nil
}

func TestDisabledNotifierIsSilent(t *testing.T) {
	t.Parallel()
	f := &fakeNotify{}
	n := &Notifier{notify: f.notify, now: time.Now, watchdog: time.Second}
	_, _ = n.Ready()
	_, _ = n.Stopping()
	n.Pet()
	if len(f.states) != 0 {
		t.Fatalf("states = %v", f.states)
	}
	var nilNotifier *Notifier
	nilNotifier.Pet()
}

func TestPetIsThrottled(t *testing.T) {
	t.Parallel()
	f := &fakeNotify{}
	now := time.Unix(100, 0)
	n := &Notifier{enabled: true, watchdog: 10 * time.Second, notify: f.notify, now: func() time.Time { return now }}

	_, _ = n.Ready()
	n.Pet()
	now = now.Add(300 * time.Millisecond)
	n.Pet() // within half the interval
	now = now.Add(5 * time.Second)
	n.Pet()
	_, _ = n.Stopping()

	want := []string{"READY=1", "WATCHDOG=1", "WATCHDOG=1", "STOPPING=1"}
	if len(f.states) != len(want) {
		t.Fatalf("states = %v, want %v", f.states, want)
	}
	for i := range want {
		if f.states[i] != want[i] {
			t.Fatalf("states = %v, want %v", f.states, want)
		}
	}
	if n.Pets() != 2 {
		t.Fatalf("pets = %d", n.Pets())
	}
}

func TestPetWithoutWatchdogInterval(t *testing.T) {
	t.Parallel()
	f := &fakeNotify{}
	n := &Notifier{enabled: true, notify: f.notify, now: time.Now}
	n.Pet()
	if len(f.states) != 0 {
		t.Fatalf("pet sent without a watchdog interval: %v", f.states)
	}
}
