package archontest

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sdss/archond/internal/client"
)

func dial(t *testing.T, s *Server) *client.Client {
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

func TestServerAcksExactCommand(t *testing.T) {
	s := New()
	s.On("SYSTEM", func(cmd string) Reply { return Ack("BACKPLANE_TYPE=X12") })
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	c := dial(t, s)
	fut, err := c.Send(context.Background(), "SYSTEM", client.SendOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(reply.Lines) != 1 || reply.Lines[0] != "BACKPLANE_TYPE=X12" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestServerNaksUnregisteredCommand(t *testing.T) {
	s := New()
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	c := dial(t, s)
	fut, err := c.Send(context.Background(), "BOGUS", client.SendOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := fut.Wait(context.Background()); err == nil {
		t.Fatalf("expected a NAK error for an unregistered command")
	}
}

func TestServerPrefixHandlerAndBinaryReply(t *testing.T) {
	s := New()
	s.OnPrefix("WCONFIG", func(cmd string) Reply { return Ack("") })
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	s.On("FETCH", func(cmd string) Reply { return BinaryAck(payload) })
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Close()

	c := dial(t, s)

	fut, err := c.Send(context.Background(), "WCONFIG0000PIXELS=100", client.SendOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := fut.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	fut, err = c.Send(context.Background(), "FETCH", client.SendOptions{Timeout: time.Second, ExpectBinaryLen: len(payload)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	reply, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(reply.Binary) != string(payload) {
		t.Fatalf("expected binary payload %x, got %x", payload, reply.Binary)
	}
}
