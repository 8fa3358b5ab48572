package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{userID: "usr_a", sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventBookingUpdate, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_AddressedEvents(t *testing.T) {
	h := testHub()
	client := &Client{userID: "usr_a", sub: Subscription{AllEvents: true}}

	mine := &Event{Type: EventNotification, UserID: "usr_a"}
	theirs := &Event{Type: EventNotification, UserID: "usr_b"}
	public := &Event{Type: EventBookingUpdate}

	if !h.shouldSend(client, mine) {
		t.Error("Should receive events addressed to own account")
	}
	if h.shouldSend(client, theirs) {
		t.Error("Should NOT receive events addressed to another account")
	}
	if !h.shouldSend(client, public) {
		t.Error("Should receive unaddressed events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{userID: "usr_a", sub: Subscription{
		EventTypes: []EventType{EventBookingUpdate},
	}}

	bookingEvent := &Event{Type: EventBookingUpdate}
	disputeEvent := &Event{Type: EventDisputeUpdate}

	if !h.shouldSend(client, bookingEvent) {
		t.Error("Should receive booking_update events")
	}
	if h.shouldSend(client, disputeEvent) {
		t.Error("Should NOT receive dispute_update events")
	}
}

func TestShouldSend_BookingFilter(t *testing.T) {
	h := testHub()

	client := &Client{userID: "usr_a", sub: Subscription{
		BookingIDs: []string{"bk_watched"},
	}}

	matching := &Event{Type: EventBookingUpdate, BookingID: "bk_watched"}
	notMatching := &Event{Type: EventBookingUpdate, BookingID: "bk_other"}

	if !h.shouldSend(client, matching) {
		t.Error("Should match the watched booking")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated bookings")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{userID: "usr_a", sub: Subscription{}}

	event := &Event{Type: EventBookingUpdate}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription should receive unaddressed events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	client := &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		userID: "usr_a",
		sub:    Subscription{AllEvents: true},
	}
	h.register <- client

	h.Publish("usr_a", EventNotification, "bk_1", map[string]any{"message": "held"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("expected serialized event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		userID: "usr_a",
		sub:    Subscription{AllEvents: true},
	}
	h.register <- client

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not shut down")
	}

	if _, ok := <-client.send; ok {
		t.Error("client send channel should be closed on shutdown")
	}
}

func TestHub_Stats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	h.register <- &Client{
		hub:    h,
		send:   make(chan []byte, 8),
		userID: "usr_a",
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		stats := h.Stats()
		if stats["connectedClients"].(int) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("stats never reflected the registered client")
}
