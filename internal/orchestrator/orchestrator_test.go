package orchestrator

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archontest"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/exposure"
	"github.com/sdss/archond/internal/status"
)

type fakeCounter struct{ n int64 }

func (c *fakeCounter) Next(ctx context.Context) (int64, error) {
	return atomic.AddInt64(&c.n, 1), nil
}

func (c *fakeCounter) Current(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&c.n), nil
}

func dialFakeController(t *testing.T, name string) (*archontest.Server, *Unit) {
	t.Helper()
	s := archontest.New()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	conn := client.New(client.Descriptor{Name: name, Host: host, Port: port})
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	mgr := acf.NewManager(name, conn)
	return s, &Unit{Name: name, Client: conn, Config: mgr, Engine: exposure.New(name, conn, mgr)}
}

// TestOrchestratorAbortInterruptsLiveExpose exercises §8 scenario 3 one
// level up from internal/exposure's own Engine test: a fleet-wide Abort
// must return promptly, and land each exposing controller on IDLE, while
// an Expose call is still in flight holding the orchestrator's op token.
func TestOrchestratorAbortInterruptsLiveExpose(t *testing.T) {
	_, unit := dialFakeController(t, "sp1")
	o := New([]*Unit{unit}, nil, nil, nil, &fakeCounter{})

	result := make(chan error, 1)
	go func() {
		_, err := o.Expose(context.Background(), ExposeRequest{Centiseconds: 6000, AutoRead: false})
		result <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !unit.Engine.Status().Has(status.Exposing) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Expose to reach EXPOSING")
		}
		time.Sleep(time.Millisecond)
	}

	abortStart := time.Now()
	if err := o.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if elapsed := time.Since(abortStart); elapsed > 200*time.Millisecond {
		t.Fatalf("Abort took %v to return; it must not wait on the fleet's in-flight Expose", elapsed)
	}

	cur := unit.Engine.Status()
	if !cur.Has(status.Idle) {
		t.Fatalf("expected IDLE immediately after Abort, got %s", cur)
	}
	if cur.Has(status.Exposing) || cur.Has(status.ReadoutPending) {
		t.Fatalf("expected EXPOSING/READOUT_PENDING cleared, got %s", cur)
	}

	// Expose itself is still blocked in the controller's integration
	// timer (Abort updates the local status model but does not cancel
	// the caller's own Expose call); it must not have returned yet.
	select {
	case err := <-result:
		t.Fatalf("Expose returned early (%v); Abort must not cancel the in-flight Expose call", err)
	case <-time.After(50 * time.Millisecond):
	}
}
