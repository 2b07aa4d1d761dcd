package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{
		Type:       EventServerStarted,
		ServerID:   1,
		ServerName: "survival",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventServerStarted, ev.Type)
			assert.Equal(t, "survival", ev.ServerName)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBrokerExitEventCarriesCrashDetails(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&Event{
		Type:        EventServerExited,
		ServerID:    2,
		ServerName:  "creative",
		ExitCode:    137,
		Intentional: false,
	})

	select {
	case ev := <-sub:
		assert.Equal(t, EventServerExited, ev.Type)
		assert.Equal(t, 137, ev.ExitCode)
		assert.False(t, ev.Intentional)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)

	// A second unsubscribe of the same channel is a no-op.
	broker.Unsubscribe(sub)
}

func TestSlowSubscriberDoesNotBlockBroker(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and further sends are skipped.
	slow := broker.Subscribe()

	for i := 0; i < 60; i++ {
		broker.Publish(&Event{Type: EventScheduleFired, ServerID: int64(i)})
	}

	// A later subscriber still gets events, proving the loop never stalled.
	// It may catch the tail of the flood first, so scan for the marker.
	fresh := broker.Subscribe()
	broker.Publish(&Event{Type: EventServerStarted, ServerName: "survival"})

	deadline := time.After(2 * time.Second)
scan:
	for {
		select {
		case ev := <-fresh:
			if ev.Type == EventServerStarted {
				break scan
			}
		case <-deadline:
			t.Fatal("broker stalled behind a saturated subscriber")
		}
	}

	// Broadcast order is serial, so by now the flood has been fanned out.
	require.Len(t, slow, 50)
}
