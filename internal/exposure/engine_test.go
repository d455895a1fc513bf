package exposure

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archontest"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/status"
)

func dialFake(t *testing.T, s *archontest.Server) *client.Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	c := client.New(client.Descriptor{Name: "fake", Host: host, Port: port})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// TestAbortInterruptsLiveExpose exercises §8 scenario 3: aborting a long
// exposure must return IDLE promptly rather than queue behind the
// in-flight Expose call that holds Engine's internal op token.
func TestAbortInterruptsLiveExpose(t *testing.T) {
	s := archontest.New()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	conn := dialFake(t, s)
	mgr := acf.NewManager("fake", conn)
	e := New("fake", conn, mgr)

	result := make(chan error, 1)
	go func() {
		result <- e.Expose(context.Background(), 6000, false)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !e.Status().Has(status.Exposing) {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for Expose to reach EXPOSING")
		}
		time.Sleep(time.Millisecond)
	}

	abortStart := time.Now()
	if err := e.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if elapsed := time.Since(abortStart); elapsed > 200*time.Millisecond {
		t.Fatalf("Abort took %v to return; it must not wait on the in-flight Expose", elapsed)
	}

	cur := e.Status()
	if !cur.Has(status.Idle) {
		t.Fatalf("expected IDLE immediately after Abort, got %s", cur)
	}
	if cur.Has(status.Exposing) || cur.Has(status.ReadoutPending) {
		t.Fatalf("expected EXPOSING/READOUT_PENDING cleared, got %s", cur)
	}

	// The Expose goroutine is still blocked in its 60s integration timer;
	// it must not have been forced to return yet just because Abort ran.
	select {
	case err := <-result:
		t.Fatalf("Expose returned early (%v); Abort must not cancel the caller's own Expose call", err)
	case <-time.After(50 * time.Millisecond):
	}
}
