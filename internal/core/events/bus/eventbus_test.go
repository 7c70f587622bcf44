package bus

import (
	"errors"
	"testing"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(Event) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_ Event, handlers int, err error, _ int64) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got []Event
	_, err := b.Subscribe(PipeFinished, func(e Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err = b.Publish(NewEvent(PipeFinished, "npc-1", "patrol")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err = b.Publish(NewEvent(PipeLooped, "npc-1", "patrol")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 1 || got[0].Pipe != "patrol" || got[0].Agent != "npc-1" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestAgentScopedSubscription(t *testing.T) {
	b := New()
	mine, all := 0, 0
	_, _ = b.SubscribeAgent("npc-1", PipeInserted, func(Event) error { mine++; return nil })
	_, _ = b.Subscribe("", func(Event) error { all++; return nil })

	_ = b.Publish(NewEvent(PipeInserted, "npc-1", "flee").WithEventID(7))
	_ = b.Publish(NewEvent(PipeInserted, "npc-2", "flee"))
	_ = b.Publish(NewEvent(PipeRemoved, "npc-1", "flee"))

	if mine != 1 || all != 3 {
		t.Fatalf("scoping failed: mine=%d all=%d", mine, all)
	}
}

func TestDeliveryOrderFollowsSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := range 5 {
		_, _ = b.Subscribe(PipeSelected, func(Event) error { order = append(order, i); return nil })
	}
	_ = b.Publish(NewEvent(PipeSelected, "a", "p"))
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order delivery: %v", order)
		}
	}
}

func TestUnsubscribeAndCancel(t *testing.T) {
	b := New()
	count := 0
	sub, err := b.Subscribe(PipeLooped, func(Event) error { count++; return nil })
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	_ = b.Publish(NewEvent(PipeLooped, "a", "p"))
	if err = b.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if sub.IsActive() {
		t.Fatalf("expected inactive subscription")
	}
	_ = sub.Cancel()
	_ = b.Publish(NewEvent(PipeLooped, "a", "p"))
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
	if err = b.Unsubscribe(nil); err != nil {
		t.Fatalf("nil unsubscribe: %v", err)
	}
}

func TestHandlerMayUnsubscribeDuringDelivery(t *testing.T) {
	b := New()
	var sub Subscription
	calls := 0
	sub, _ = b.Subscribe(PipeFinished, func(Event) error {
		calls++
		return sub.Cancel()
	})
	_ = b.Publish(NewEvent(PipeFinished, "a", "p"))
	_ = b.Publish(NewEvent(PipeFinished, "a", "p"))
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestErrorsAreJoinedAndObserved(t *testing.T) {
	b := New()
	obs := &testObserver{}
	b.AddObserver(obs)
	e1, e2 := errors.New("first"), errors.New("second")
	_, _ = b.Subscribe(ContentError, func(Event) error { return e1 })
	_, _ = b.Subscribe(ContentError, func(Event) error { return e2 })

	err := b.Publish(NewEvent(ContentError, "a", "p").WithError(errors.New("unknown pipe")))
	if !errors.Is(err, e1) || !errors.Is(err, e2) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if obs.publishCount != 1 || obs.deliveredCount != 2 || obs.lastErr == nil {
		t.Fatalf("observer not updated: %+v", obs)
	}
	m := b.GetMetrics()
	if m.Published != 1 || m.Errors != 1 || m.SubscribersActive != 2 {
		t.Fatalf("metrics: %+v", m)
	}

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent(ContentError, "a", "p"))
	if obs.publishCount != 1 {
		t.Fatalf("removed observer still notified")
	}
}

func TestFiltersDropEvents(t *testing.T) {
	b := New()
	b.AddObserver(&testObserver{})
	count := 0
	_, _ = b.Subscribe("", func(Event) error { count++; return nil })
	onlyNPC1 := func(e Event) bool { return e.Agent == "npc-1" }

	_ = b.PublishWithFilters(NewEvent(PipeSelected, "npc-2", "p"), onlyNPC1)
	_ = b.PublishWithFilters(NewEvent(PipeSelected, "npc-1", "p"), onlyNPC1)
	if count != 1 {
		t.Fatalf("filter not applied: %d", count)
	}
	if b.GetMetrics().DroppedByFilters != 1 {
		t.Fatalf("drop not counted")
	}
}

func TestNilHandlerRejected(t *testing.T) {
	if _, err := New().Subscribe(PipeSelected, nil); err == nil {
		t.Fatalf("expected error")
	}
}
