package bus

import (
	"context"
	"testing"
	"time"
)

func TestPublishConsume(t *testing.T) {
	q := NewQueue()
	q.Publish(Event{Kind: EventLocator, Channel: "telegram", ChatID: "42", Locator: "https://youtube.com/watch?v=abc"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ev, ok := q.Consume(ctx)
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Kind != EventLocator || ev.ChatID != "42" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SessionKey() != "telegram:42" {
		t.Fatalf("session key = %q", ev.SessionKey())
	}
}

func TestConsumeStopsOnContextDone(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := q.Consume(ctx); ok {
		t.Fatal("expected consume to stop after cancel")
	}
}

func TestPublishWaitHoldsOutcomeUntilRoom(t *testing.T) {
	q := NewQueue()
	for i := 0; i < defaultQueueSize+10; i++ {
		q.Publish(Event{Kind: EventAnother, ChatID: "filler"})
	}

	delivered := make(chan bool, 1)
	go func() {
		delivered <- q.PublishWait(context.Background(), Event{Kind: EventJobFinished, ChatID: "7"})
	}()

	select {
	case <-delivered:
		t.Fatal("outcome enqueued while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Consume(ctx)

	select {
	case ok := <-delivered:
		if !ok {
			t.Fatal("PublishWait reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outcome never enqueued after room opened")
	}

	// Drain until the outcome surfaces.
	for {
		ev, ok := q.Consume(ctx)
		if !ok {
			t.Fatal("outcome lost")
		}
		if ev.Kind == EventJobFinished {
			if ev.ChatID != "7" {
				t.Fatalf("outcome chat = %q", ev.ChatID)
			}
			return
		}
	}
}

func TestPublishWaitGivesUpOnContextDone(t *testing.T) {
	q := NewQueue()
	for i := 0; i < defaultQueueSize+10; i++ {
		q.Publish(Event{Kind: EventAnother, ChatID: "filler"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if q.PublishWait(ctx, Event{Kind: EventJobFinished}) {
		t.Fatal("expected PublishWait to give up after cancel")
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			q.Publish(Event{Kind: EventFormat, ChatID: "1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full queue")
	}
}
