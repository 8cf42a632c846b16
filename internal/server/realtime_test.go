package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherPublishesToSubscribers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := dispatcher.Subscribe(ctx)
	defer cleanupFirst()
	second, cleanupSecond := dispatcher.Subscribe(ctx)
	defer cleanupSecond()

	dispatcher.Publish(RealtimeMessage{
		EventType:  RealtimeEventDiagramChanged,
		DiagramIDs: []string{"diagram-a"},
		Timestamp:  time.Now().UTC(),
	})

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		select {
		case received := <-stream:
			if received.EventType != RealtimeEventDiagramChanged {
				t.Fatalf("expected event type %s, got %s", RealtimeEventDiagramChanged, received.EventType)
			}
			if len(received.DiagramIDs) != 1 || received.DiagramIDs[0] != "diagram-a" {
				t.Fatalf("unexpected diagram ids %v", received.DiagramIDs)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected realtime message within deadline")
		}
	}
}

func TestRealtimeDispatcherRemovesSubscriberOnCancel(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()
	if dispatcher.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber removed after context cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRealtimeDispatcherDropsForFullBuffer(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx)
	defer cleanup()

	for i := 0; i < dispatcher.bufferSize+4; i++ {
		dispatcher.Publish(RealtimeMessage{EventType: RealtimeEventDiagramChanged})
	}
	if len(stream) != dispatcher.bufferSize {
		t.Fatalf("expected buffer to hold %d messages, got %d", dispatcher.bufferSize, len(stream))
	}
}
