// Package status implements the controller-local status bitmask FSM: the
// composite state the Archon firmware itself does not expose, reconstructed
// and maintained entirely on the client side, with change fan-out to
// subscribers.
package status

import "strings"

// Bits is a bitmask over the controller status flags.
type Bits uint32

// Flag values. Exclusion groups are enforced by Model.Update, never by the
// type itself — see DESIGN.md for why this stays a plain integer plus a
// small helper instead of a class hierarchy.
const (
	Unknown Bits = 1 << iota
	Idle
	Exposing
	ReadoutPending
	Reading
	Fetching
	FetchPending
	Flushing
	Error
	PowerOn
	PowerBad
	PowerOff
)

// exposureGroup is mutually exclusive: setting any bit in it clears the
// rest of the group. FetchPending is its own transient marker and is not
// part of the group: the poller clears Reading before it sets FetchPending,
// so the two are never asserted together.
var exposureGroup = []Bits{Idle, Exposing, Reading, Fetching}

var powerGroup = []Bits{PowerOn, PowerOff, PowerBad}

var names = []struct {
	bit  Bits
	name string
}{
	{Unknown, "UNKNOWN"},
	{Idle, "IDLE"},
	{Exposing, "EXPOSING"},
	{ReadoutPending, "READOUT_PENDING"},
	{Reading, "READING"},
	{Fetching, "FETCHING"},
	{FetchPending, "FETCH_PENDING"},
	{Flushing, "FLUSHING"},
	{Error, "ERROR"},
	{PowerOn, "POWERON"},
	{PowerBad, "POWERBAD"},
	{PowerOff, "POWEROFF"},
}

// Has reports whether all bits in mask are set.
func (b Bits) Has(mask Bits) bool {
	return b&mask == mask
}

// Any reports whether any bit in mask is set.
func (b Bits) Any(mask Bits) bool {
	return b&mask != 0
}

// Names returns the status flag names set in b, in declaration order.
func (b Bits) Names() []string {
	var out []string
	for _, n := range names {
		if b.Has(n.bit) {
			out = append(out, n.name)
		}
	}
	return out
}

// String renders the bitmask as a pipe-joined list of flag names.
func (b Bits) String() string {
	n := b.Names()
	if len(n) == 0 {
		return "NONE"
	}
	return strings.Join(n, "|")
}

// applyExclusions clears the other members of any exclusion group that mask
// intersects, then applies mask with on/off semantics.
func applyExclusions(cur, mask Bits, on bool) Bits {
	if on {
		for _, group := range [][]Bits{exposureGroup, powerGroup} {
			var hit Bits
			for _, bit := range group {
				if mask&bit != 0 {
					hit |= bit
				}
			}
			if hit != 0 {
				var groupMask Bits
				for _, bit := range group {
					groupMask |= bit
				}
				cur &^= groupMask
			}
		}
		return cur | mask
	}
	return cur &^ mask
}
