package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "page.created", Data: map[string]string{"name": "Projects:Ansuz"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: page.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"name":"Projects:Ansuz"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishPageEvent_ChangedThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger index.changed.
	b.PublishPageEvent("created", "a")
	// Second event immediately should NOT trigger another index.changed.
	b.PublishPageEvent("updated", "b")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	changedCount := 0
	pageCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "index.changed") {
				changedCount++
			} else {
				pageCount++
			}
		default:
			break loop
		}
	}

	if pageCount != 2 {
		t.Errorf("page events = %d, want 2", pageCount)
	}
	if changedCount != 1 {
		t.Errorf("changed events = %d, want 1 (throttled)", changedCount)
	}
}

func TestPublishIndexChangedThrottled(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// A burst of commit notifications collapses into one broadcast.
	for i := 0; i < 10; i++ {
		b.PublishIndexChanged()
	}

	time.Sleep(50 * time.Millisecond)
	changedCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			if strings.Contains(string(msg), "index.changed") {
				changedCount++
			}
		default:
			break loop
		}
	}
	if changedCount != 1 {
		t.Errorf("changed events = %d, want 1 (throttled)", changedCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "page.updated", Data: map[string]string{"name": "x"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: page.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "page.updated", Data: map[string]string{"name": "x"}})
	b.PublishPageEvent("updated", "x")
	b.PublishIndexChanged()
}
