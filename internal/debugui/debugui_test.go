package debugui

import (
	"context"
	"testing"

	"github.com/sdss/archond/internal/ports"
	"github.com/sdss/archond/internal/replysink"
)

func TestServerStartBindsAListener(t *testing.T) {
	fanout := replysink.NewFanOut(nil)
	s := New(fanout, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := s.Start(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if addr == nil || addr.String() == "" {
		t.Fatalf("expected a bound address, got %v", addr)
	}
	if Addr(addr) == "" {
		t.Fatalf("expected non-empty formatted address")
	}
}

func TestFanoutSubscriptionReceivesPublishedEvents(t *testing.T) {
	fanout := replysink.NewFanOut(nil)
	ch, cancel := fanout.Subscribe()
	defer cancel()

	ev := ports.Event{Key: "status", Fields: map[string]any{"controller": "sp1"}}
	if err := fanout.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Key != "status" {
			t.Fatalf("expected key %q, got %q", "status", got.Key)
		}
	default:
		t.Fatalf("expected a buffered event on the subscription channel")
	}
}
