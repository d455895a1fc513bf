package wire

import (
	"bytes"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	got := EncodeCommand(0x1A, "STATUS")
	want := []byte(">1ASTATUS\n")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeLineAck(t *testing.T) {
	id, kind, payload, err := DecodeLine([]byte("<1AOK"))
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x1A || kind != AckText || string(payload) != "OK" {
		t.Fatalf("got id=%v kind=%v payload=%q", id, kind, payload)
	}
}

func TestDecodeLineNak(t *testing.T) {
	id, kind, _, err := DecodeLine([]byte("?2F"))
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x2F || kind != Nak {
		t.Fatalf("got id=%v kind=%v", id, kind)
	}
}

func TestDecodeLineMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("<"),
		[]byte("!1AOK"),
		[]byte("<ZZOK"),
	}
	for _, c := range cases {
		if _, _, _, err := DecodeLine(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestAllocatorNeverIssuesZero(t *testing.T) {
	a := NewAllocator()
	for i := 0; i < 512; i++ {
		id, ok := a.Reserve()
		if !ok {
			t.Fatalf("reserve failed at iteration %d", i)
		}
		if id == 0 {
			t.Fatal("allocator issued 0x00")
		}
		a.Release(id)
	}
}

func TestAllocatorNeverReusesInFlight(t *testing.T) {
	a := NewAllocator()
	seen := make(map[ID]bool)
	for i := 0; i < 255; i++ {
		id, ok := a.Reserve()
		if !ok {
			t.Fatalf("reserve failed at %d", i)
		}
		if seen[id] {
			t.Fatalf("id %v reused while still in flight", id)
		}
		seen[id] = true
	}
	if _, ok := a.Reserve(); ok {
		t.Fatal("expected allocator to be exhausted")
	}
}

func TestAllocatorPoisonBlocksReuse(t *testing.T) {
	a := NewAllocator()
	id, _ := a.Reserve()
	a.Poison(id)
	if !a.IsPoisoned(id) {
		t.Fatal("expected id to be poisoned")
	}
	for i := 0; i < 300; i++ {
		got, ok := a.Reserve()
		if ok && got == id {
			t.Fatal("poisoned id was reissued")
		}
		if ok {
			a.Release(got)
		}
	}
	a.ClearPoison(id)
	a.Release(id)
}
