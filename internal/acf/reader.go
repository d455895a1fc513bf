package acf

import (
	"context"
	"fmt"
	"strings"

	"github.com/sdss/archond/internal/archonerr"
)

// ReadConfig enumerates RCONFIGnnnn slots starting at 0 until an empty
// reply terminates the stream, and returns the reassembled ACF text. The
// slot cap bounds a runaway controller that never returns an empty line.
const maxReadSlots = 8192

// ReadConfig reads the controller's full ACF back via RCONFIGnnnn polling
// and returns the reassembled text (each returned line is "KEY=VALUE",
// joined with "\n" under a synthesized [CONFIG] header so it round-trips
// through Parse the same way a WriteConfig source text would).
func (m *Manager) ReadConfig(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("[" + SectionConfig + "]\n")
	for slot := 0; slot < maxReadSlots; slot++ {
		reply, err := m.send(ctx, fmt.Sprintf("RCONFIG%04d", slot))
		if err != nil {
			return "", archonerr.Wrap(archonerr.Config, m.name, fmt.Sprintf("read_config: slot %d failed", slot), err)
		}
		if len(reply.Lines) == 0 || strings.TrimSpace(reply.Lines[0]) == "" {
			doc, perr := Parse(b.String())
			if perr != nil {
				return "", perr
			}
			m.doc = doc
			return b.String(), nil
		}
		b.WriteString(reply.Lines[0])
		b.WriteString("\n")
	}
	return "", archonerr.New(archonerr.Config, m.name, "read_config: slot space exhausted without an empty terminator")
}
