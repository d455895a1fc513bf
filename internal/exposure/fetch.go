package exposure

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/status"
)

// FetchOptions names an explicit buffer to fetch instead of letting Fetch
// select the buffer with the greatest complete frame number.
type FetchOptions struct {
	Buffer int // 0 means "select automatically"
}

// Fetch is valid in FETCH_PENDING (or with an explicit buffer). It selects
// the buffer with the greatest complete frame number, reads
// pixels*lines*(bitwidth/8) bytes via the client's StreamFetch, reshapes
// into a Frame, and clears status to Idle. A length mismatch between the
// declared buffer size and what was actually received fails with
// FetchError and leaves status at FETCH_PENDING for a retry.
func (e *Engine) Fetch(ctx context.Context, opts FetchOptions) (Frame, error) {
	if err := e.acquireOp(ctx); err != nil {
		return Frame{}, err
	}
	defer e.releaseOp()

	if opts.Buffer == 0 {
		if err := e.requireStatus(status.FetchPending); err != nil {
			return Frame{}, err
		}
	}

	bufs := e.poller.buffersSnapshot()
	var chosen client.BufferDescriptor
	var ok bool
	if opts.Buffer != 0 {
		for _, b := range bufs {
			if b.Index == opts.Buffer {
				chosen, ok = b, true
				break
			}
		}
	} else {
		chosen, ok = client.SelectBuffer(bufs)
	}
	if !ok {
		return Frame{}, archonerr.New(archonerr.Fetch, e.name, "fetch: no complete buffer available")
	}

	e.conn.Status().Update(status.FetchPending, false)
	e.conn.Status().Update(status.Fetching, true)

	bitDepth := chosen.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	length := chosen.Width * chosen.Height * (bitDepth / 8)

	rc, err := e.conn.StreamFetch(ctx, fmt.Sprintf("FETCH%d", chosen.Index), length)
	if err != nil {
		e.conn.Status().Update(status.Fetching, false)
		e.conn.Status().Update(status.FetchPending, true)
		return Frame{}, archonerr.Wrap(archonerr.Fetch, e.name, "fetch: stream failed", err)
	}
	defer rc.Close()

	buf := make([]byte, length)
	n, err := io.ReadFull(rc, buf)
	if err != nil || n != length {
		e.conn.Status().Update(status.Fetching, false)
		e.conn.Status().Update(status.FetchPending, true)
		return Frame{}, archonerr.Wrap(archonerr.Fetch, e.name, fmt.Sprintf("fetch: expected %d bytes, got %d", length, n), err)
	}

	frame, ok := decodeFrame(buf, chosen.Width, chosen.Height, bitDepth)
	if !ok {
		e.conn.Status().Update(status.Fetching, false)
		e.conn.Status().Update(status.FetchPending, true)
		return Frame{}, archonerr.New(archonerr.Fetch, e.name, "fetch: length mismatch decoding buffer")
	}
	frame.FrameNo = chosen.FrameNo
	frame.FinishedAt = time.Now()

	e.mu.Lock()
	e.lastBufferMeta = chosen
	e.mu.Unlock()

	e.conn.Status().Update(status.Fetching, false)
	e.conn.Status().Update(status.Idle, true)

	return frame, nil
}
