package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultHistoryCapacity  = 1000
	defaultSubscriberBufCap = 100
)

// EventType distinguishes stdout, stderr, and exit events.
type EventType string

const (
	EventStdout EventType = "stdout"
	EventStderr EventType = "stderr"
	EventExit   EventType = "exit"
)

// Event is the flattened form of a Message or ExitOutcome handed to
// subscribers.
type Event struct {
	SessionID string    `json:"sessionId"`
	Type      EventType `json:"type"`
	Data      string    `json:"data,omitempty"`
	Complete  bool      `json:"complete,omitempty"`
	ExitCode  int       `json:"exitCode,omitempty"`
	TimedOut  bool      `json:"timedOut,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageEvent converts a framed message into an Event.
func MessageEvent(m Message) Event {
	typ := EventStdout
	if m.Stream == StreamStderr {
		typ = EventStderr
	}
	return Event{
		SessionID: m.SessionID,
		Type:      typ,
		Data:      m.Text,
		Complete:  m.Complete,
		Timestamp: m.Timestamp,
	}
}

// ExitEvent converts an exit outcome into an Event.
func ExitEvent(o ExitOutcome) Event {
	return Event{
		SessionID: o.SessionID,
		Type:      EventExit,
		ExitCode:  o.ExitCode,
		TimedOut:  o.TimedOut,
		Timestamp: o.Timestamp,
	}
}

// Broadcaster is a Listener that fans events out to any number of
// subscriber channels and keeps recent history for late subscribers.
// A subscriber whose channel is full misses events rather than stalling
// the session.
type Broadcaster struct {
	mu          sync.RWMutex
	ringBuf     *RingBuffer
	subscribers map[string]chan Event
	bufCap      int
	closed      bool
}

// NewBroadcaster creates a broadcaster keeping up to history events.
func NewBroadcaster(history int) *Broadcaster {
	if history <= 0 {
		history = defaultHistoryCapacity
	}
	return &Broadcaster{
		ringBuf:     NewRingBuffer(history),
		subscribers: make(map[string]chan Event),
		bufCap:      defaultSubscriberBufCap,
	}
}

func (b *Broadcaster) OnMessage(m Message) { b.Publish(MessageEvent(m)) }

func (b *Broadcaster) OnExited(o ExitOutcome) { b.Publish(ExitEvent(o)) }

// Publish records an event and sends it to all subscribers.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.ringBuf.Write(event)
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber channel full, drop the event.
		}
	}
}

// Subscribe returns a subscription ID, a channel of future events and the
// buffered history. No event is both in the history and on the channel.
func (b *Broadcaster) Subscribe() (string, <-chan Event, []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subID := uuid.New().String()
	ch := make(chan Event, b.bufCap)
	if b.closed {
		close(ch)
		return subID, ch, b.ringBuf.ReadAll()
	}
	b.subscribers[subID] = ch
	return subID, ch, b.ringBuf.ReadAll()
}

// Unsubscribe closes and removes a subscription.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[subID]; ok {
		close(ch)
		delete(b.subscribers, subID)
	}
}

// History returns the buffered events in order.
func (b *Broadcaster) History() []Event {
	return b.ringBuf.ReadAll()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
