package wire

import (
	"sync"
)

// Allocator hands out command ids from a circular 8-bit counter that skips
// 0x00. Ids that have timed out are "poisoned": they will not be reissued
// until a late reply for them has been observed and cleared, so a late
// reply can never be misattributed to an unrelated later command reusing
// the same id.
type Allocator struct {
	mu       sync.Mutex
	next     byte
	inFlight map[ID]bool
	poisoned map[ID]bool
}

// NewAllocator returns an Allocator ready to hand out ids.
func NewAllocator() *Allocator {
	return &Allocator{
		next:     1,
		inFlight: make(map[ID]bool),
		poisoned: make(map[ID]bool),
	}
}

// Reserve returns the next id that is neither in flight nor poisoned,
// marking it in flight. It cycles the full 8-bit space (skipping 0x00)
// before giving up.
func (a *Allocator) Reserve() (ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.next
	for {
		id := ID(a.next)
		a.next++
		if a.next == 0 {
			a.next = 1
		}
		if !a.inFlight[id] && !a.poisoned[id] {
			a.inFlight[id] = true
			return id, true
		}
		if a.next == start {
			return 0, false
		}
	}
}

// Release marks id as no longer in flight, available for reuse.
func (a *Allocator) Release(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, id)
}

// Poison marks id as poisoned: it stays unavailable for reuse until
// ClearPoison is called once the late reply has been observed (or
// discarded as unroutable).
func (a *Allocator) Poison(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inFlight, id)
	a.poisoned[id] = true
}

// ClearPoison lifts the poison on id, making it reusable again.
func (a *Allocator) ClearPoison(id ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.poisoned, id)
}

// IsPoisoned reports whether id is currently poisoned.
func (a *Allocator) IsPoisoned(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.poisoned[id]
}

// ResetAll clears all in-flight and poison state, used on connection loss.
func (a *Allocator) ResetAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight = make(map[ID]bool)
	a.poisoned = make(map[ID]bool)
}
