package events

import (
	"fmt"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	b.Log("hello")
	b.Sync()
	if e := <-ch; e.Message != "hello" {
		t.Fatalf("message = %q", e.Message)
	}
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestPublishOrder(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Log("line %d", i)
	}
	b.Sync()

	for i := 0; i < 100; i++ {
		select {
		case e := <-ch:
			want := fmt.Sprintf("line %d", i)
			if e.Message != want {
				t.Fatalf("event %d = %q, want %q", i, e.Message, want)
			}
		default:
			t.Fatalf("event %d missing after Sync", i)
		}
	}
}

func TestHelpersSetType(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Log("hello")
	b.Progress(1, 3)
	b.State("Downloading")
	b.Sync()

	if e := <-ch; e.Type != TypeLog || e.Time.IsZero() {
		t.Errorf("log event = %+v", e)
	}
	if e := <-ch; e.Type != TypeProgress || e.Current != 1 || e.Total != 3 {
		t.Errorf("progress event = %+v", e)
	}
	if e := <-ch; e.Type != TypeState || e.State != "Downloading" {
		t.Errorf("state event = %+v", e)
	}
}

func TestLine(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	cases := []struct {
		e    Event
		want string
	}{
		{Event{Type: TypeLog, Time: at, Message: "saved"}, "[07:08:09] saved"},
		{Event{Type: TypeProgress, Time: at, Current: 2, Total: 5}, "[07:08:09] 2/5"},
		{Event{Type: TypeState, Time: at, State: "Completed"}, "[07:08:09] state: Completed"},
	}
	for _, tc := range cases {
		if got := tc.e.Line(); got != tc.want {
			t.Errorf("Line() = %q, want %q", got, tc.want)
		}
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker()
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Overfill the subscriber buffer; publishing must not block.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Log("x")
	}
	b.Sync()
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered = %d, want %d", len(ch), subscriberBuffer)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	// Safe no-ops after close.
	b.Log("late")
	b.Sync()
	if _, ok := <-b.Subscribe(); ok {
		t.Error("subscribe after close should return a closed channel")
	}
}
