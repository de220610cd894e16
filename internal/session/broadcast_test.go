package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_DeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(10)
	_, ch1, hist := b.Subscribe()
	_, ch2, _ := b.Subscribe()
	assert.Empty(t, hist)

	b.OnMessage(Message{SessionID: "s", Stream: StreamStderr, Text: "oops", Complete: true})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, EventStderr, ev.Type)
			assert.Equal(t, "oops", ev.Data)
			assert.True(t, ev.Complete)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBroadcaster_HistoryForLateSubscribers(t *testing.T) {
	b := NewBroadcaster(10)
	b.OnMessage(Message{SessionID: "s", Stream: StreamStdout, Text: "first"})
	b.OnExited(ExitOutcome{SessionID: "s", ExitCode: 2, TimedOut: true})

	_, ch, hist := b.Subscribe()
	require.Len(t, hist, 2)
	assert.Equal(t, EventStdout, hist[0].Type)
	assert.Equal(t, "first", hist[0].Data)
	assert.Equal(t, EventExit, hist[1].Type)
	assert.Equal(t, 2, hist[1].ExitCode)
	assert.True(t, hist[1].TimedOut)

	select {
	case ev := <-ch:
		t.Fatalf("history replayed on channel: %+v", ev)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewBroadcaster(10)
	id, ch, _ := b.Subscribe()
	b.Unsubscribe(id)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")

	// Publishing with no subscribers must not panic.
	b.Publish(Event{Type: EventStdout, Data: "x"})
	assert.Len(t, b.History(), 1)
}

func TestBroadcaster_SlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroadcaster(10)
	_, ch, _ := b.Subscribe()

	for i := 0; i < defaultSubscriberBufCap+50; i++ {
		b.Publish(Event{Type: EventStdout, Data: "x"})
	}
	assert.Len(t, ch, defaultSubscriberBufCap)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(10)
	_, ch, _ := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(Event{Type: EventStdout, Data: "ignored"})
	assert.Empty(t, b.History())

	_, late, _ := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}

func TestBroadcaster_ReceivesSessionEvents(t *testing.T) {
	requireShell(t)
	b := NewBroadcaster(0)
	_, ch, _ := b.Subscribe()

	s := New(Config{Path: "/bin/sh", OutputLatency: 50 * time.Millisecond, Listener: b})
	require.NoError(t, s.Start(`-c "echo hi"`))

	var got []Event
	timeout := time.After(10 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out, got %+v", got)
		}
	}

	assert.Equal(t, EventStdout, got[0].Type)
	assert.Equal(t, "hi", got[0].Data)
	assert.Equal(t, EventExit, got[1].Type)
	assert.Equal(t, s.ID(), got[1].SessionID)
}
