package event

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietBus() *Bus {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewBus(log)
}

func TestSubscriberReceivesEvents(t *testing.T) {
	bus := quietBus()
	events := bus.Subscribe()

	bus.Publish(Auth, "10.0.0.1:5555", "Successful.")

	select {
	case ev := <-events:
		assert.Equal(t, Auth, ev.Category)
		assert.Equal(t, "10.0.0.1:5555", ev.ClientIP)
		assert.Equal(t, "Successful.", ev.Detail)
		assert.WithinDuration(t, time.Now(), ev.Time, time.Second)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := quietBus()
	_ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Transfer, "10.0.0.2:1", "chunk")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestCloseEndsSubscription(t *testing.T) {
	bus := quietBus()
	events := bus.Subscribe()
	bus.Close()

	_, open := <-events
	require.False(t, open)
}
