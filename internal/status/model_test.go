package status

import "testing"

func TestUpdateExclusionExposureGroup(t *testing.T) {
	m := NewModel()
	m.Set(Idle | PowerOn)
	m.Update(Exposing|ReadoutPending, true)
	got := m.Get()
	if !got.Has(Exposing | ReadoutPending) {
		t.Fatalf("expected EXPOSING|READOUT_PENDING, got %s", got)
	}
	if got.Any(Idle | Reading | Fetching) {
		t.Fatalf("exposure group not exclusive: %s", got)
	}
	if !got.Has(PowerOn) {
		t.Fatalf("unrelated group cleared: %s", got)
	}
}

func TestUpdateExclusionPowerGroup(t *testing.T) {
	m := NewModel()
	m.Set(Idle | PowerOn)
	m.Update(PowerBad, true)
	got := m.Get()
	if got.Has(PowerOn) {
		t.Fatalf("POWERON should have been cleared: %s", got)
	}
	if !got.Has(PowerBad) {
		t.Fatalf("expected POWERBAD: %s", got)
	}
	if !got.Has(Idle) {
		t.Fatalf("unrelated group cleared: %s", got)
	}
}

func TestReadoutPendingCompatibleWithExposing(t *testing.T) {
	m := NewModel()
	m.Set(Exposing | ReadoutPending)
	got := m.Get()
	if !got.Has(Exposing | ReadoutPending) {
		t.Fatalf("expected both bits set: %s", got)
	}
}

func TestSubscribeReceivesCurrentValueFirst(t *testing.T) {
	m := NewModel()
	m.Set(Idle | PowerOn)
	ch, cancel := m.Subscribe()
	defer cancel()
	select {
	case v := <-ch:
		if !v.Has(Idle) {
			t.Fatalf("expected initial snapshot IDLE, got %s", v)
		}
	default:
		t.Fatal("expected initial snapshot to be delivered immediately")
	}
}

func TestSubscribeCoalescesIdenticalResets(t *testing.T) {
	m := NewModel()
	ch, cancel := m.Subscribe()
	defer cancel()
	<-ch // drain initial snapshot

	m.Update(Idle, true)
	m.Update(Idle, true) // identical re-set, must be elided
	select {
	case v := <-ch:
		if !v.Has(Idle) {
			t.Fatalf("unexpected value %s", v)
		}
	default:
		t.Fatal("expected one change notification")
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected second notification %s", v)
	default:
	}
}

func TestSubscribeCoalescesSlowConsumer(t *testing.T) {
	m := NewModel()
	m.Set(Idle)
	ch, cancel := m.Subscribe()
	defer cancel()
	<-ch // drain initial snapshot

	// Fire several distinct transitions without reading in between; only
	// the latest should remain queued.
	m.Update(Exposing|ReadoutPending, true)
	m.Update(Reading, true)
	m.Update(FetchPending, true)

	v := <-ch
	if !v.Has(FetchPending) {
		t.Fatalf("expected coalesced latest value to include FETCH_PENDING, got %s", v)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra queued value %s", extra)
	default:
	}
}

func TestNamesAndString(t *testing.T) {
	b := Idle | PowerOn
	names := b.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
	if b.String() == "" {
		t.Fatal("expected non-empty string")
	}
	if (Bits(0)).String() != "NONE" {
		t.Fatalf("expected NONE for empty bitmask")
	}
}
