package streamhub

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstudio/studio/internal/chat/events"
	"github.com/agentstudio/studio/internal/common/logger"
)

func setupHub(t *testing.T) *Hub {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return New("r1", "c1", log)
}

func collect(t *testing.T, sub *Subscription, n int) []events.Event {
	t.Helper()
	out := make([]events.Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("stream ended after %d events, wanted %d", len(out), n)
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events, wanted %d", len(out), n)
		}
	}
	return out
}

func TestPublishOrder(t *testing.T) {
	t.Run("every subscriber sees events in publish order", func(t *testing.T) {
		hub := setupHub(t)
		s1 := hub.Subscribe()
		s2 := hub.Subscribe()

		for i := 0; i < 5; i++ {
			hub.Publish(events.Chunk(fmt.Sprintf("m%d", i)))
		}

		for _, sub := range []*Subscription{s1, s2} {
			got := collect(t, sub, 5)
			for i, ev := range got {
				assert.Equal(t, fmt.Sprintf("m%d", i), ev.Content)
			}
		}
	})
}

func TestClose(t *testing.T) {
	t.Run("close delivers one terminal done event and ends streams", func(t *testing.T) {
		hub := setupHub(t)
		sub := hub.Subscribe()

		hub.Publish(events.Chunk("a"))
		hub.Close(ReasonDone)
		hub.Close(ReasonDone)

		got := collect(t, sub, 2)
		assert.Equal(t, events.TypeChunk, got[0].Type)
		assert.Equal(t, events.TypeDone, got[1].Type)

		_, ok := <-sub.Events()
		assert.False(t, ok, "stream should be closed after terminal event")
	})

	t.Run("publish after close is a no-op", func(t *testing.T) {
		hub := setupHub(t)
		sub := hub.Subscribe()

		hub.Close(ReasonCancelled)
		hub.Publish(events.Chunk("late"))

		got := collect(t, sub, 1)
		assert.Equal(t, events.TypeDone, got[0].Type)
		_, ok := <-sub.Events()
		assert.False(t, ok)
	})

	t.Run("subscribing after close yields only the terminal event", func(t *testing.T) {
		hub := setupHub(t)
		hub.Close(ReasonFailed)

		sub := hub.Subscribe()
		got := collect(t, sub, 1)
		assert.Equal(t, events.TypeDone, got[0].Type)
		_, ok := <-sub.Events()
		assert.False(t, ok)
	})
}

func TestBackpressure(t *testing.T) {
	t.Run("slow subscriber is dropped without affecting others", func(t *testing.T) {
		hub := setupHub(t)
		slow := hub.Subscribe()
		fast := hub.Subscribe()

		// Fill slow's buffer and one more to trigger the drop. Drain
		// fast concurrently so it never overflows.
		done := make(chan []events.Event)
		go func() {
			var got []events.Event
			for ev := range fast.Events() {
				got = append(got, ev)
			}
			done <- got
		}()

		total := subscriberBuffer + 10
		for i := 0; i < total; i++ {
			hub.Publish(events.Chunk(fmt.Sprintf("m%d", i)))
		}
		hub.Close(ReasonDone)

		fastGot := <-done
		assert.Len(t, fastGot, total+1) // events plus terminal

		assert.True(t, slow.Dropped())
		// Slow still observes a clean prefix before end-of-stream.
		count := 0
		for ev := range slow.Events() {
			assert.Equal(t, fmt.Sprintf("m%d", count), ev.Content)
			count++
		}
		assert.Equal(t, subscriberBuffer, count)
	})
}

func TestUnsubscribe(t *testing.T) {
	t.Run("closing a subscription stops delivery to it only", func(t *testing.T) {
		hub := setupHub(t)
		s1 := hub.Subscribe()
		s2 := hub.Subscribe()

		s1.Close()
		s1.Close()
		hub.Publish(events.Chunk("after"))

		got := collect(t, s2, 1)
		assert.Equal(t, "after", got[0].Content)
		_, ok := <-s1.Events()
		assert.False(t, ok)
	})
}

func TestRegistry(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	t.Run("create get remove", func(t *testing.T) {
		reg := NewRegistry(log)
		hub := reg.Create("r1", "c1")
		assert.Same(t, hub, reg.Get("r1"))
		assert.Equal(t, "c1", hub.ConversationID())

		reg.Remove("r1")
		assert.Nil(t, reg.Get("r1"))
	})

	t.Run("close all closes every live hub", func(t *testing.T) {
		reg := NewRegistry(log)
		h1 := reg.Create("r1", "c1")
		h2 := reg.Create("r2", "c1")

		reg.CloseAll(ReasonCancelled)
		assert.True(t, h1.Closed())
		assert.True(t, h2.Closed())
	})
}
