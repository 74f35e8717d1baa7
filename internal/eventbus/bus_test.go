package eventbus

import "testing"

func TestPublishFansOutAndDrops(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(1)
	defer unsubA()

	b.Publish(Event{Type: "one"})
	b.Publish(Event{Type: "two"})

	if e := <-a; e.Type != "one" || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if e := <-a; e.Type != "two" {
		t.Fatalf("a got %+v", e)
	}
	if e := <-c; e.Type != "one" {
		t.Fatalf("c got %+v", e)
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}

	unsubC()
	unsubC()
	if _, ok := <-c; ok {
		t.Fatal("channel open after unsubscribe")
	}
	b.Publish(Event{Type: "three"})
	if e := <-a; e.Type != "three" {
		t.Fatalf("a got %+v", e)
	}
}
