package notifier

import (
	"context"
	"encoding/json"
	"testing"
)

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "client-1", Topics: []string{Topic("t1", "Patient")}, Send: make(chan []byte, 4)}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(Topic("t1", "Patient")) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(Topic("t1", "Patient")))
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "client-2", Topics: []string{Topic("t1", "Patient")}, Send: make(chan []byte, 4)}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, stillOpen := <-client.Send; stillOpen {
		t.Fatalf("expected Send channel closed after Unregister")
	}
}

func TestHub_PublishScopedByTopic(t *testing.T) {
	hub := NewHub()
	subscriber := &Client{ID: "sub", Topics: []string{Topic("t1", "Patient")}, Send: make(chan []byte, 4)}
	other := &Client{ID: "other", Topics: []string{Topic("t2", "Patient")}, Send: make(chan []byte, 4)}
	hub.Register(subscriber)
	hub.Register(other)

	if err := hub.Publish(context.Background(), ResourceEvent{
		Interaction:  "create",
		TenantID:     "t1",
		ResourceType: "Patient",
		ResourceID:   "abc",
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-subscriber.Send:
		var ev ResourceEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if ev.ResourceID != "abc" {
			t.Fatalf("expected resourceId abc, got %q", ev.ResourceID)
		}
	default:
		t.Fatal("expected subscriber to receive the event")
	}

	select {
	case <-other.Send:
		t.Fatal("tenant t2 subscriber should not receive tenant t1's event")
	default:
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "c", Topics: nil, Send: make(chan []byte, 4)}
	hub.Register(client)

	hub.Subscribe(client, []string{Topic("t1", "Patient")})
	if hub.TopicCount(Topic("t1", "Patient")) != 1 {
		t.Fatal("expected subscription to take effect")
	}

	hub.Unsubscribe(client, []string{Topic("t1", "Patient")})
	if hub.TopicCount(Topic("t1", "Patient")) != 0 {
		t.Fatal("expected unsubscribe to remove the topic")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub()
	client := &Client{ID: "c", Send: make(chan []byte, 4)}
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{Topic("t1", "Patient")}})
	if hub.TopicCount(Topic("t1", "Patient")) != 1 {
		t.Fatal("expected subscribe action to register the topic")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{Topic("t1", "Patient")}})
	if hub.TopicCount(Topic("t1", "Patient")) != 0 {
		t.Fatal("expected unsubscribe action to remove the topic")
	}
}
