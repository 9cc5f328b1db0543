package server

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/proofmind/internal/certificates"
	"go.uber.org/goleak"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	defer goleak.VerifyNone(t)

	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "owner-1")

	event := certificates.Event{
		ID:               "event-1",
		Type:             certificates.EventCertificateCreated,
		Owner:            "owner-1",
		ProofID:          "proof-001",
		TimestampSeconds: time.Now().Unix(),
	}
	if err := dispatcher.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case received := <-stream:
		if received.Type != certificates.EventCertificateCreated {
			t.Fatalf("expected event type %s, got %s", certificates.EventCertificateCreated, received.Type)
		}
		if received.ProofID != "proof-001" {
			t.Fatalf("expected proof-001, got %s", received.ProofID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime event within deadline")
	}

	cleanup()
	cancel()
	waitForSubscriberCount(t, dispatcher, "owner-1", 0)
}

func TestRealtimeDispatcherIsolatedByOwner(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otherCtx, otherCancel := context.WithCancel(context.Background())
	defer otherCancel()

	ownerStream, cleanup := dispatcher.Subscribe(ctx, "owner-2")
	defer cleanup()

	otherStream, otherCleanup := dispatcher.Subscribe(otherCtx, "owner-3")
	defer otherCleanup()

	_ = dispatcher.Publish(context.Background(), certificates.Event{
		ID:    "event-2",
		Type:  certificates.EventCertificateUpdated,
		Owner: "owner-3",
	})

	select {
	case <-ownerStream:
		t.Fatal("did not expect realtime event for unrelated owner")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case received := <-otherStream:
		if received.Owner != "owner-3" {
			t.Fatalf("expected owner-3, received %s", received.Owner)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime event for subscribed owner")
	}
}

func TestRealtimeDispatcherSubscribeAllReceivesEveryOwner(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.SubscribeAll(ctx)
	defer cleanup()

	for _, owner := range []string{"owner-a", "owner-b"} {
		_ = dispatcher.Publish(context.Background(), certificates.Event{
			Type:  certificates.EventCertificateCreated,
			Owner: owner,
		})
	}

	for _, expected := range []string{"owner-a", "owner-b"} {
		select {
		case received := <-stream:
			if received.Owner != expected {
				t.Fatalf("expected %s, received %s", expected, received.Owner)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("expected event for %s", expected)
		}
	}
}

func TestRealtimeDispatcherTreatsAsteriskAsOrdinaryOwner(t *testing.T) {
	defer goleak.VerifyNone(t)

	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	ownerStream, _ := dispatcher.Subscribe(ctx, "*")
	allStream, _ := dispatcher.SubscribeAll(ctx)

	if err := dispatcher.Publish(context.Background(), certificates.Event{
		ID:    "event-1",
		Type:  certificates.EventCertificateCreated,
		Owner: "*",
	}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	select {
	case received, open := <-ownerStream:
		if !open {
			t.Fatalf("expected open stream for owner *")
		}
		if received.ID != "event-1" {
			t.Fatalf("unexpected event %s", received.ID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected event for owner *")
	}

	if len(allStream) != 1 {
		t.Fatalf("expected exactly one copy on the all-owner stream, got %d", len(allStream))
	}

	cancel()
	waitForSubscriberCount(t, dispatcher, "*", 0)
	deadline := time.Now().Add(time.Second)
	for dispatcher.allOwnersCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected all-owner subscriber to unregister")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRealtimeDispatcherDropsWhenSubscriberIsFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "owner-1")
	defer cleanup()

	for index := 0; index < defaultRealtimeBuffer+5; index++ {
		if err := dispatcher.Publish(context.Background(), certificates.Event{
			Type:  certificates.EventCertificateUpdated,
			Owner: "owner-1",
		}); err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
	}
	if len(stream) != defaultRealtimeBuffer {
		t.Fatalf("expected buffered stream to hold %d events, got %d", defaultRealtimeBuffer, len(stream))
	}
}

func TestRealtimeDispatcherUnregistersOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "owner-1")
	if count := dispatcher.subscriberCount("owner-1"); count != 1 {
		t.Fatalf("expected one subscriber, got %d", count)
	}

	cancel()
	waitForSubscriberCount(t, dispatcher, "owner-1", 0)
}

func TestRealtimeDispatcherRejectsBlankOwner(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected closed stream for blank owner")
	}
}

func waitForSubscriberCount(t *testing.T, dispatcher *RealtimeDispatcher, key string, expected int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if dispatcher.subscriberCount(key) == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers for %s, got %d", expected, key, dispatcher.subscriberCount(key))
}
