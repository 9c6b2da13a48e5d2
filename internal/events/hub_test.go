package events

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestHubDeliversByRoom(t *testing.T) {
	hub := NewHub(nil)
	l1 := hub.Subscribe("c1", "u1", []string{LocationRoom("L1"), RoomProducts})
	l2 := hub.Subscribe("c2", "u2", []string{LocationRoom("L2")})
	defer hub.Unsubscribe("c1")
	defer hub.Unsubscribe("c2")

	ev := Event{Type: TypeInventoryUpdate, EntityID: "r1", Rooms: []string{LocationRoom("L1"), RoomProducts}}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-l1.Events:
		if got.EntityID != "r1" {
			t.Fatalf("got %+v", got)
		}
	default:
		t.Fatal("L1 subscriber did not receive the event")
	}
	select {
	case got := <-l1.Events:
		t.Fatalf("event delivered twice: %+v", got)
	default:
	}
	select {
	case got := <-l2.Events:
		t.Fatalf("L2 subscriber received foreign event %+v", got)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil)
	drops := 0
	hub.OnDrop(func() { drops++ })
	c := hub.Subscribe("c1", "u1", []string{RoomSales})

	for i := 0; i < clientBuffer+3; i++ {
		_ = hub.Publish(context.Background(), Event{Type: TypeNewSale, Rooms: []string{RoomSales}})
	}
	if len(c.Events) != clientBuffer {
		t.Fatalf("buffered = %d, want %d", len(c.Events), clientBuffer)
	}
	if drops != 3 {
		t.Fatalf("drops = %d, want 3", drops)
	}

	hub.Unsubscribe("c1")
	if hub.ClientCount() != 0 {
		t.Fatal("client still registered")
	}
}

func TestRedisRelay(t *testing.T) {
	url := os.Getenv("STOCKFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("STOCKFLOW_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	hub := NewHub(nil)
	relay := NewRedisRelay(client, "stockflow:test:events", hub, nil)
	sub := hub.Subscribe("c1", "u1", []string{RoomProducts})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = relay.Run(runCtx) }()
	time.Sleep(200 * time.Millisecond)

	if err := relay.Publish(ctx, Event{Type: TypeProductUpdate, EntityID: "p1", Rooms: []string{RoomProducts}}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-sub.Events:
		if ev.EntityID != "p1" {
			t.Fatalf("got %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("relayed event never arrived")
	}
}
