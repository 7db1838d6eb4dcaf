package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/trustwork/trustwork-core/pkg/logger"
)

func TestRedisPublisher(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "trustwork.events."+AttemptCompleted)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	publisher := NewRedisPublisher(client, "trustwork.events", logger.NewNop())
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := publisher.Publish(ctx, AttemptCompleted, "att-1", "user-1", at); err != nil {
		t.Fatalf("Publish() failed: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		if event.Kind != AttemptCompleted || event.ID != "att-1" || event.ActorID != "user-1" {
			t.Errorf("Unexpected event payload: %+v", event)
		}
		if !event.At.Equal(at) {
			t.Errorf("Expected timestamp %s, got %s", at, event.At)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for published event")
	}
}

func TestRedisPublisherChannelPerKind(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.PSubscribe(ctx, "trustwork.events.*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	publisher := NewRedisPublisher(client, "trustwork.events", logger.NewNop())
	kinds := []string{AssignmentStatus, MilestoneSubmitted, ReviewCreated}
	for _, kind := range kinds {
		if err := publisher.Publish(ctx, kind, "id-1", "user-1", time.Now()); err != nil {
			t.Fatalf("Publish(%s) failed: %v", kind, err)
		}
	}

	seen := map[string]bool{}
	for range kinds {
		select {
		case msg := <-sub.Channel():
			seen[msg.Channel] = true
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for published events")
		}
	}
	for _, kind := range kinds {
		if !seen["trustwork.events."+kind] {
			t.Errorf("Expected a message on channel for %s", kind)
		}
	}
}
