package acf

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/client"
)

// Sender is the subset of *client.Client the ACF manager needs, narrowed so
// it can be faked in tests without a real TCP connection.
type Sender interface {
	Send(ctx context.Context, text string, opts client.SendOptions) (*client.ReplyFuture, error)
}

// Manager edits and reads back a controller's ACF, keeping the in-memory
// Document as the name->slot index for O(1) named-parameter edits.
type Manager struct {
	name string
	conn Sender
	doc  *Document

	// LineDelay rate-limits each WCONFIGnnnn line during WriteConfig, per
	// §4.3's "rate-limited by a configured inter-line delay."
	LineDelay time.Duration
	// CommandTimeout bounds each individual command's reply wait.
	CommandTimeout time.Duration
}

// NewManager returns a Manager bound to controller name over conn, with no
// Document loaded yet (call WriteConfig or load one via Parse/ReadConfig).
func NewManager(name string, conn Sender) *Manager {
	return &Manager{name: name, conn: conn, LineDelay: 10 * time.Millisecond, CommandTimeout: 5 * time.Second}
}

// Document returns the manager's currently loaded ACF, or nil if none has
// been loaded or written yet.
func (m *Manager) Document() *Document { return m.doc }

func (m *Manager) send(ctx context.Context, text string) (client.Reply, error) {
	fut, err := m.conn.Send(ctx, text, client.SendOptions{Timeout: m.CommandTimeout})
	if err != nil {
		return client.Reply{}, err
	}
	return fut.Wait(ctx)
}

// WriteConfig sequences POLLOFF, CLEARCONFIG, a stream of
// WCONFIGnnnnKEY=VALUE lines (rate-limited by LineDelay), the requested
// subsystem applies, and POLLON. overrides is merged onto the parsed text
// before emission: each name in overrides replaces the matching named
// parameter's value, or is appended as a new CONFIG line if absent.
//
// On any line's NAK the whole operation is abandoned and the caller is
// told which line failed; no partial state is left applied on the client
// side (the controller itself may already hold some lines — recovery is
// via a subsequent successful WriteConfig, per the exposure engine's
// ConfigError handling).
func (m *Manager) WriteConfig(ctx context.Context, text string, overrides map[string]string, applySubsystems []string) error {
	doc, err := Parse(text)
	if err != nil {
		return err
	}
	for name, value := range overrides {
		if setErr := doc.SetValue(name, value); setErr != nil {
			doc.Config = append(doc.Config, line{key: name, value: value})
		}
	}

	if _, err := m.send(ctx, "POLLOFF"); err != nil {
		return archonerr.Wrap(archonerr.Config, m.name, "write_config: POLLOFF failed", err)
	}
	if _, err := m.send(ctx, "CLEARCONFIG"); err != nil {
		return archonerr.Wrap(archonerr.Config, m.name, "write_config: CLEARCONFIG failed", err)
	}

	for i, l := range doc.Config {
		cmd := fmt.Sprintf("WCONFIG%04d%s=%s", i, l.key, l.value)
		if _, err := m.send(ctx, cmd); err != nil {
			return archonerr.Wrap(archonerr.Config, m.name, fmt.Sprintf("write_config: line %d (%s) failed", i, l.key), err)
		}
		if m.LineDelay > 0 {
			select {
			case <-time.After(m.LineDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	for _, apply := range applySubsystems {
		if _, err := m.send(ctx, strings.ToUpper(apply)); err != nil {
			return archonerr.Wrap(archonerr.Config, m.name, fmt.Sprintf("write_config: %s failed", apply), err)
		}
	}

	if _, err := m.send(ctx, "POLLON"); err != nil {
		return archonerr.Wrap(archonerr.Config, m.name, "write_config: POLLON failed", err)
	}

	m.doc = doc
	return nil
}

// WriteLine locates name's parameter slot in the currently loaded Document
// and issues the single WCONFIGnnnn line for it, followed by
// FASTLOADPARAM/LOADPARAM to activate the new value without a full
// CLEARCONFIG/reload cycle.
func (m *Manager) WriteLine(ctx context.Context, name, value string) error {
	if m.doc == nil {
		return archonerr.New(archonerr.Config, m.name, "write_line: no ACF loaded")
	}
	slot, err := m.doc.Slot(name)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("WCONFIG%04d%s=%s", slot, name, value)
	if _, err := m.send(ctx, cmd); err != nil {
		return archonerr.Wrap(archonerr.Config, m.name, fmt.Sprintf("write_line: %s failed", name), err)
	}
	if _, err := m.send(ctx, fmt.Sprintf("FASTLOADPARAM %s %s", name, value)); err != nil {
		if _, err2 := m.send(ctx, fmt.Sprintf("LOADPARAM %s %s", name, value)); err2 != nil {
			return archonerr.Wrap(archonerr.Config, m.name, fmt.Sprintf("write_line: %s activate failed", name), err2)
		}
	}
	return m.doc.SetValue(name, value)
}
