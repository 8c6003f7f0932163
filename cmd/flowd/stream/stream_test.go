package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goranjovic55/NOP-sub008/common/sdk"
)

func collect(t *testing.T, sub *Subscription, n int) []sdk.Event {
	t.Helper()
	var out []sdk.Event
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestEmitPreservesOrder(t *testing.T) {
	s := New(16)
	sub := s.Subscribe()
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: fmt.Sprintf("n%d", i)})
	}

	events := collect(t, sub, 5)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("n%d", i), ev.NodeID)
	}
}

func TestMultipleSubscribersEachGetAll(t *testing.T) {
	s := New(16)
	a := s.Subscribe()
	b := s.Subscribe()
	assert.Equal(t, 2, s.SubscriberCount())

	s.Emit(sdk.Event{Type: sdk.EventNodeStart, NodeID: "x"})
	s.Close()

	for _, sub := range []*Subscription{a, b} {
		events := collect(t, sub, 1)
		require.Len(t, events, 1)
		assert.Equal(t, "x", events[0].NodeID)
	}
}

func TestOverflowDropsOldestProgressOnly(t *testing.T) {
	s := New(4)
	sub := s.Subscribe()

	// Fill without a consumer: progress, node, progress, node, then two more
	// node events forcing two progress drops.
	s.Emit(sdk.Event{Type: sdk.EventProgress, Progress: &sdk.Progress{Completed: 1}})
	s.Emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: "a"})
	s.Emit(sdk.Event{Type: sdk.EventProgress, Progress: &sdk.Progress{Completed: 2}})
	s.Emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: "b"})

	// Give the pump a moment to move one event into the outbound channel,
	// then saturate the queue.
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 6; i++ {
		s.Emit(sdk.Event{Type: sdk.EventNodeComplete, NodeID: fmt.Sprintf("n%d", i)})
	}
	assert.True(t, s.TakeDropped())
	assert.False(t, s.TakeDropped(), "flag clears on read")

	s.Close()
	events := collect(t, sub, 100)

	var nodes []string
	for _, ev := range events {
		if ev.Type == sdk.EventNodeComplete {
			nodes = append(nodes, ev.NodeID)
		}
	}
	assert.Equal(t, []string{"a", "b", "n0", "n1", "n2", "n3", "n4", "n5"}, nodes,
		"node events survive overflow in order")
}

func TestControlChannel(t *testing.T) {
	s := New(16)

	require.NoError(t, s.SendControl(sdk.ControlPause))
	require.NoError(t, s.SendControl(sdk.ControlCancel))

	assert.Equal(t, sdk.ControlPause, <-s.Control())
	assert.Equal(t, sdk.ControlCancel, <-s.Control())
}

func TestControlQueueFull(t *testing.T) {
	s := New(16)
	for i := 0; i < controlQueueSize; i++ {
		require.NoError(t, s.SendControl(sdk.ControlPause))
	}
	assert.ErrorIs(t, s.SendControl(sdk.ControlCancel), ErrControlQueueFull)
}

func TestSubscribeAfterClose(t *testing.T) {
	s := New(16)
	s.Close()

	sub := s.Subscribe()
	_, ok := <-sub.Events()
	assert.False(t, ok, "channel closes immediately")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New(16)
	sub := s.Subscribe()
	s.Unsubscribe(sub)
	assert.Equal(t, 0, s.SubscriberCount())

	s.Emit(sdk.Event{Type: sdk.EventNodeStart, NodeID: "late"})

	events := collect(t, sub, 10)
	assert.Empty(t, events)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := New(16)
	sub := s.Subscribe()
	s.Close()
	s.Close()
	sub.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
