package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	built := bus.Subscribe(EventCalendarBuilt)
	failed := bus.Subscribe(EventCalendarFailed)

	bus.Publish(EventCalendarBuilt, Payload{"run_id": "r1"})

	select {
	case got := <-built:
		if got["run_id"] != "r1" {
			t.Fatalf("payload = %v", got)
		}
	default:
		t.Fatal("built subscriber got nothing")
	}
	select {
	case got := <-failed:
		t.Fatalf("failed subscriber got %v", got)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventCalendarBuilt)
	for i := 0; i < cap(sub)+3; i++ {
		bus.Publish(EventCalendarBuilt, Payload{"n": i})
	}
	if bus.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", bus.Dropped())
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventCalendarReused)
	bus.Unsubscribe(EventCalendarReused, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed")
	}
	bus.Publish(EventCalendarReused, Payload{})
	bus.Unsubscribe(EventCalendarReused, sub)
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	bus.Publish(EventCalendarBuilt, Payload{})
}
