// Package events implements the ordered log/progress stream of a run.
package events

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Type classifies an Event.
type Type string

const (
	TypeLog      Type = "log"
	TypeProgress Type = "progress"
	TypeState    Type = "state"
)

// Event is one entry of the run stream.
type Event struct {
	Type    Type      `json:"type"`
	Time    time.Time `json:"time"`
	Message string    `json:"message,omitempty"`
	Current int       `json:"current,omitempty"`
	Total   int       `json:"total,omitempty"`
	State   string    `json:"state,omitempty"`
}

// Line formats e the way the CLI prints it: "[HH:MM:SS] message".
func (e Event) Line() string {
	msg := e.Message
	switch e.Type {
	case TypeProgress:
		if msg == "" {
			msg = fmt.Sprintf("%d/%d", e.Current, e.Total)
		}
	case TypeState:
		if msg == "" {
			msg = "state: " + e.State
		}
	}
	return fmt.Sprintf("[%s] %s", e.Time.Format("15:04:05"), msg)
}

// envelope carries either an event or a sync marker through the loop.
type envelope struct {
	event Event
	done  chan struct{}
}

const (
	publishBuffer    = 256
	subscriberBuffer = 256
)

// Broker fans events out to subscribers in publish order.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber set. Public methods communicate with this loop through channels,
// so no mutexes are required.
type Broker struct {
	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan envelope

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	now     func() time.Time
}

// NewBroker creates a broker and starts its loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan envelope, publishBuffer),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
		now:           time.Now,
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan Event]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case env := <-b.publishCh:
			if env.done != nil {
				close(env.done)
				continue
			}
			for ch := range clients {
				select {
				case ch <- env.event:
				default:
					// Subscriber buffer full; skip to avoid blocking the loop.
				}
			}
		}
	}
}

// Close stops the loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a subscriber and returns its channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// Publish queues e for delivery. A zero Time is stamped with the current time.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	select {
	case b.publishCh <- envelope{event: e}:
	case <-b.stopped:
	}
}

// Log publishes a log event.
func (b *Broker) Log(format string, args ...any) {
	b.Publish(Event{Type: TypeLog, Message: fmt.Sprintf(format, args...)})
}

// Progress publishes a progress event.
func (b *Broker) Progress(current, total int) {
	b.Publish(Event{Type: TypeProgress, Current: current, Total: total})
}

// State publishes a state change.
func (b *Broker) State(state string) {
	b.Publish(Event{Type: TypeState, State: state})
}

// Sync blocks until every event published before the call has been handed
// to subscribers.
func (b *Broker) Sync() {
	if b.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case b.publishCh <- envelope{done: done}:
	case <-b.stopped:
		return
	}
	select {
	case <-done:
	case <-b.stopped:
	}
}
