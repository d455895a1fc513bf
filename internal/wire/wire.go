// Package wire implements the Archon line protocol: framing outbound
// commands as ">IITEXT\n" and classifying inbound replies as an ack-text,
// ack-binary (FETCH) or nak frame carrying the 2-hex-digit id.
package wire

import (
	"fmt"

	"github.com/sdss/archond/internal/archonerr"
)

// ID is a 2-hex-digit command id in [0x01, 0xFF]; 0x00 is never issued.
type ID byte

// String renders the id the way the controller expects it on the wire:
// two uppercase hex digits.
func (i ID) String() string {
	return fmt.Sprintf("%02X", byte(i))
}

// Kind classifies an inbound reply frame.
type Kind int

const (
	// AckText is a successful reply terminated by '\n'.
	AckText Kind = iota
	// AckBinary is a successful FETCH reply: a fixed-length binary block
	// with no trailing newline.
	AckBinary
	// Nak is an explicit command failure ("?II\n").
	Nak
)

// EncodeCommand frames a command for transmission: ">II<text>\n".
func EncodeCommand(id ID, text string) []byte {
	out := make([]byte, 0, len(text)+4)
	out = append(out, '>')
	out = append(out, []byte(id.String())...)
	out = append(out, []byte(text)...)
	out = append(out, '\n')
	return out
}

// DecodeLine classifies a single ASCII reply line (already stripped of its
// trailing '\n' by the caller) and returns the id it correlates to and the
// payload text following it. It never handles FETCH's binary block; the
// caller special-cases FETCH by length before calling DecodeLine on
// anything but the two leading marker+id bytes.
func DecodeLine(line []byte) (ID, Kind, []byte, error) {
	if len(line) < 3 {
		return 0, 0, nil, archonerr.New(archonerr.Protocol, "", fmt.Sprintf("short frame: %q", line))
	}
	marker := line[0]
	idBytes := line[1:3]
	id, err := ParseID(idBytes)
	if err != nil {
		return 0, 0, nil, archonerr.Wrap(archonerr.Protocol, "", fmt.Sprintf("bad id in frame: %q", line), err)
	}
	payload := line[3:]
	switch marker {
	case '<':
		return id, AckText, payload, nil
	case '?':
		return id, Nak, payload, nil
	default:
		return 0, 0, nil, archonerr.New(archonerr.Protocol, "", fmt.Sprintf("unknown frame marker %q in %q", marker, line))
	}
}

// ParseID parses a 2-hex-digit command id, as found right after a frame's
// leading marker byte.
func ParseID(b []byte) (ID, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("wire: id must be 2 hex digits, got %q", b)
	}
	hi, err := hexDigit(b[0])
	if err != nil {
		return 0, err
	}
	lo, err := hexDigit(b[1])
	if err != nil {
		return 0, err
	}
	return ID(hi<<4 | lo), nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	default:
		return 0, fmt.Errorf("wire: not a hex digit: %q", c)
	}
}

// IsFrameStart reports whether b is a reply frame marker ('<' or '?'),
// used by the reader loop to resynchronize after a protocol error; the
// two hex id digits that follow are checked separately by ParseID.
func IsFrameStart(b byte) bool {
	return b == '<' || b == '?'
}
