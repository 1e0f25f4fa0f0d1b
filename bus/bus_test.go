package bus

import "testing"

func TestPublishDeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var got []int
	b.Subscribe("topic", func(any) { got = append(got, 1) })
	b.Subscribe("topic", func(any) { got = append(got, 2) })
	b.Subscribe("topic", func(any) { got = append(got, 3) })

	b.Publish("topic", nil)

	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("expected delivery order [1 2 3], got %v", got)
	}
}

func TestPublishPassesPayload(t *testing.T) {
	b := New()
	var got any
	b.Subscribe("topic", func(p any) { got = p })

	b.Publish("topic", "hello")
	if got != "hello" {
		t.Fatalf("expected payload %q, got %v", "hello", got)
	}
}

func TestPublishToOtherTopicNotDelivered(t *testing.T) {
	b := New()
	called := false
	b.Subscribe("a", func(any) { called = true })

	b.Publish("b", nil)
	if called {
		t.Fatal("handler for topic a fired on topic b")
	}
}

func TestCancelRemovesHandler(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Subscribe("topic", func(any) { calls++ })

	b.Publish("topic", nil)
	sub.Cancel()
	b.Publish("topic", nil)

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	b := New()
	other := 0
	sub := b.Subscribe("topic", func(any) {})
	b.Subscribe("topic", func(any) { other++ })

	sub.Cancel()
	sub.Cancel() // second cancel must not touch the remaining handler

	b.Publish("topic", nil)
	if other != 1 {
		t.Fatalf("expected remaining handler to fire once, got %d", other)
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	New().Publish("nobody", 42)
}
