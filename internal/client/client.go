package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/logging"
	"github.com/sdss/archond/internal/status"
	"github.com/sdss/archond/internal/wire"
)

const defaultHandshakeTimeout = 5 * time.Second

// Client owns one persistent TCP connection to an Archon controller. It
// serialises writes through a single writer goroutine, correlates replies
// to commands by id via a single reader goroutine, and maintains the
// controller's status model.
type Client struct {
	desc Descriptor
	log  *slog.Logger

	mu      sync.Mutex
	conn    net.Conn
	pending map[wire.ID]*PendingCommand
	unique  map[string]wire.ID
	alloc   *wire.Allocator
	closed  bool

	writeCh chan []byte
	status  *status.Model
}

// New returns a Client for desc. The connection is not opened until
// Connect is called.
func New(desc Descriptor) *Client {
	return &Client{
		desc:    desc,
		log:     logging.WithController(logging.Default(), desc.Name),
		pending: make(map[wire.ID]*PendingCommand),
		unique:  make(map[string]wire.ID),
		alloc:   wire.NewAllocator(),
		writeCh: make(chan []byte, 16),
		status:  status.NewModel(),
	}
}

// Status returns the controller's status model.
func (c *Client) Status() *status.Model { return c.status }

// Descriptor returns the controller descriptor this client was built from.
func (c *Client) Descriptor() Descriptor { return c.desc }

// Connect opens the socket with a bounded handshake timeout and starts the
// reader and writer goroutines. On success, status is set to IDLE|POWERON
// unless a power check (via the caller issuing a STATUS/SYSTEM command
// after Connect returns) reports POWERBAD.
func (c *Client) Connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", c.desc.Addr())
	if err != nil {
		return archonerr.Wrap(archonerr.Device, c.desc.Name, "connect failed", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)

	c.status.Set(status.Idle | status.PowerOn)
	return nil
}

// Close shuts down the connection and fails every outstanding command with
// CmdDisconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	pending := c.pending
	c.pending = make(map[wire.ID]*PendingCommand)
	c.unique = make(map[string]wire.ID)
	c.mu.Unlock()

	derr := archonerr.New(archonerr.Disconnected, c.desc.Name, "client closed")
	for _, pc := range pending {
		c.finishCommand(pc, CmdDisconnected, nil, nil, derr)
	}
	c.alloc.ResetAll()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// SendOptions configures a single Send call.
type SendOptions struct {
	// Timeout, if non-zero, fails the command with TimedOut if no reply
	// arrives in time.
	Timeout time.Duration
	// Unique disallows a second in-flight command with the same literal
	// text.
	Unique bool
	// ExpectBinaryLen, if non-zero, tells the reader loop that the ack for
	// this command is a fixed-length binary block (FETCH) rather than a
	// text line.
	ExpectBinaryLen int
}

// Send issues command text and returns immediately with a ReplyFuture that
// resolves when the reply arrives, the deadline expires, the connection
// drops, or the controller NAKs.
func (c *Client) Send(ctx context.Context, text string, opts SendOptions) (*ReplyFuture, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, archonerr.New(archonerr.Disconnected, c.desc.Name, "send on closed client")
	}
	if opts.Unique {
		if _, inFlight := c.unique[text]; inFlight {
			c.mu.Unlock()
			return nil, archonerr.New(archonerr.InvalidState, c.desc.Name, fmt.Sprintf("duplicate in-flight command %q", text))
		}
	}
	id, ok := c.alloc.Reserve()
	if !ok {
		c.mu.Unlock()
		return nil, archonerr.New(archonerr.Protocol, c.desc.Name, "command id space exhausted")
	}
	pc := &PendingCommand{
		ID:        id,
		Text:      text,
		State:     Running,
		binaryLen: opts.ExpectBinaryLen,
		done:      make(chan struct{}),
	}
	if opts.Timeout > 0 {
		pc.Deadline = time.Now().Add(opts.Timeout)
	}
	c.pending[id] = pc
	if opts.Unique {
		c.unique[text] = id
	}
	c.mu.Unlock()

	var timer *time.Timer
	if opts.Timeout > 0 {
		timer = time.AfterFunc(opts.Timeout, func() {
			c.timeoutCommand(id)
		})
	}

	select {
	case c.writeCh <- wire.EncodeCommand(id, text):
	case <-ctx.Done():
		c.finishCommand(pc, Failed, nil, nil, ctx.Err())
		if timer != nil {
			timer.Stop()
		}
		return nil, ctx.Err()
	}

	return &ReplyFuture{pc: pc, timer: timer}, nil
}

func (c *Client) timeoutCommand(id wire.ID) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	if pc.Text != "" {
		delete(c.unique, pc.Text)
	}
	c.alloc.Poison(id)
	c.mu.Unlock()

	pc.State = TimedOut
	pc.err = archonerr.New(archonerr.Timeout, c.desc.Name, fmt.Sprintf("command %q (id %s) timed out", pc.Text, id))
	close(pc.done)
}

// writeLoop is the single writer task: bytes for a given socket are never
// interleaved because only this goroutine calls conn.Write.
func (c *Client) writeLoop(conn net.Conn) {
	for b := range c.writeCh {
		if _, err := conn.Write(b); err != nil {
			c.log.Error("write failed", "err", err)
			c.handleDisconnect(err)
			return
		}
	}
}

// readLoop pulls frames off the socket, attaches each to its pending
// command by id, and resolves it.
func (c *Client) readLoop(conn net.Conn) {
	br := bufio.NewReader(conn)
	for {
		marker, err := br.ReadByte()
		if err != nil {
			c.handleDisconnect(err)
			return
		}
		if !wire.IsFrameStart(marker) {
			c.log.Warn("resync: unexpected byte", "byte", marker)
			continue
		}
		idBytes := make([]byte, 2)
		if _, err := io.ReadFull(br, idBytes); err != nil {
			c.handleDisconnect(err)
			return
		}
		id, err := wire.ParseID(idBytes)
		if err != nil {
			c.log.Warn("resync: bad id", "err", err)
			continue
		}

		c.mu.Lock()
		pc, known := c.pending[id]
		c.mu.Unlock()

		if marker == '<' && known && pc.binaryLen > 0 {
			if pc.streamCh != nil {
				err := c.streamBinary(pc, br.Read)
				state := Done
				if err != nil {
					state = Failed
				}
				c.finishByID(id, state, nil, nil, err)
				continue
			}
			buf := make([]byte, pc.binaryLen)
			if _, err := io.ReadFull(br, buf); err != nil {
				c.handleDisconnect(err)
				return
			}
			c.completeBinary(id, buf)
			continue
		}

		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			c.handleDisconnect(err)
			return
		}
		line = trimEOL(line)

		if !known {
			c.log.Warn("unknown command id, dropping reply", "id", id.String())
			if c.alloc.IsPoisoned(id) {
				c.alloc.ClearPoison(id)
			}
			continue
		}

		switch marker {
		case '<':
			c.completeText(id, line)
		case '?':
			c.completeNak(id, line)
		}
	}
}

func trimEOL(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func (c *Client) completeText(id wire.ID, line string) {
	c.finishByID(id, Done, []string{line}, nil, nil)
}

func (c *Client) completeBinary(id wire.ID, payload []byte) {
	c.finishByID(id, Done, nil, payload, nil)
}

func (c *Client) completeNak(id wire.ID, line string) {
	err := archonerr.New(archonerr.CommandFailed, c.desc.Name, fmt.Sprintf("command nak: %s", line))
	c.finishByID(id, Failed, []string{line}, nil, err)
}

func (c *Client) finishByID(id wire.ID, state CommandState, lines []string, binary []byte, err error) {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	if pc.Text != "" {
		delete(c.unique, pc.Text)
	}
	c.alloc.Release(id)
	wasPoisoned := c.alloc.IsPoisoned(id)
	if wasPoisoned {
		c.alloc.ClearPoison(id)
	}
	c.mu.Unlock()

	if wasPoisoned {
		// The command already resolved as TimedOut; this is the late
		// reply arriving after the fact. Drop it, it must not be
		// misattributed to anything.
		return
	}

	c.finishCommand(pc, state, lines, binary, err)
}

func (c *Client) finishCommand(pc *PendingCommand, state CommandState, lines []string, binary []byte, err error) {
	pc.State = state
	pc.Lines = append(pc.Lines, lines...)
	pc.binary = binary
	pc.err = err
	select {
	case <-pc.done:
		// already closed (e.g. context cancellation raced a reply)
	default:
		close(pc.done)
	}
}

// handleDisconnect transitions every outstanding pending command to
// CmdDisconnected, clears the id pool, and marks controller status
// UNKNOWN|ERROR. Reconnection is on explicit request only.
func (c *Client) handleDisconnect(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[wire.ID]*PendingCommand)
	c.unique = make(map[string]wire.ID)
	c.mu.Unlock()

	derr := archonerr.Wrap(archonerr.Disconnected, c.desc.Name, "connection lost", cause)
	for _, pc := range pending {
		c.finishCommand(pc, CmdDisconnected, nil, nil, derr)
	}
	c.alloc.ResetAll()
	c.status.Set(status.Unknown | status.Error)
}

// ReplyFuture is the caller-owned handle linked to a PendingCommand by id.
type ReplyFuture struct {
	pc    *PendingCommand
	timer *time.Timer
}

// Wait blocks until the command resolves or ctx is done.
func (f *ReplyFuture) Wait(ctx context.Context) (Reply, error) {
	select {
	case <-f.pc.done:
		if f.timer != nil {
			f.timer.Stop()
		}
		return Reply{Lines: f.pc.Lines, Binary: f.pc.binary, State: f.pc.State, Err: f.pc.err}, f.pc.err
	case <-ctx.Done():
		return Reply{State: Running}, ctx.Err()
	}
}
