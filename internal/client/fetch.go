package client

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/wire"
)

const fetchChunkSize = 32 * 1024

// StreamFetch is a specialised Send that does not buffer the whole FETCH
// payload: the reader loop pulls the expected byte count off the socket in
// chunks, yielding them to the caller, then the normal correlator resumes.
// length must equal the declared buffer size; a mismatch at the end of the
// transfer surfaces as a FetchError.
func (c *Client) StreamFetch(ctx context.Context, text string, length int) (io.ReadCloser, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, archonerr.New(archonerr.Disconnected, c.desc.Name, "fetch on closed client")
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
		binaryLen: length,
		done:      make(chan struct{}),
	}
	pc.streamCh = make(chan []byte, 4)
	c.pending[id] = pc
	c.mu.Unlock()

	select {
	case c.writeCh <- wire.EncodeCommand(id, text):
	case <-ctx.Done():
		c.finishCommand(pc, Failed, nil, nil, ctx.Err())
		return nil, ctx.Err()
	}

	return &streamReader{pc: pc}, nil
}

type streamReader struct {
	pc  *PendingCommand
	buf bytes.Buffer
}

func (s *streamReader) Read(p []byte) (int, error) {
	for s.buf.Len() == 0 {
		chunk, ok := <-s.pc.streamCh
		if !ok {
			select {
			case <-s.pc.done:
			default:
			}
			if s.pc.err != nil {
				return 0, s.pc.err
			}
			return 0, io.EOF
		}
		s.buf.Write(chunk)
	}
	return s.buf.Read(p)
}

func (s *streamReader) Close() error {
	return nil
}

// streamBinary is called from the reader loop instead of reading the whole
// binaryLen into one buffer when pc.streamCh is set.
func (c *Client) streamBinary(pc *PendingCommand, read func([]byte) (int, error)) error {
	remaining := pc.binaryLen
	for remaining > 0 {
		n := fetchChunkSize
		if remaining < n {
			n = remaining
		}
		chunk := make([]byte, n)
		got, err := read(chunk)
		if got > 0 {
			pc.streamCh <- chunk[:got]
		}
		remaining -= got
		if err != nil {
			close(pc.streamCh)
			return err
		}
	}
	close(pc.streamCh)
	if remaining != 0 {
		return archonerr.New(archonerr.Fetch, c.desc.Name, fmt.Sprintf("fetch length mismatch: %d bytes short", remaining))
	}
	return nil
}
