package exposure

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/status"
)

const pollInterval = time.Second

// poller is the background task that queries FRAME on every tick (roughly
// every second), whether or not an exposure is in flight; it does not send
// STATUS. It correlates the hardware
// frame counter and buffer completeness with the local status model and
// advancing bits per §4.4: READING flips to FETCH_PENDING once the
// current buffer reports complete past the exposure's starting frame
// number; after a FETCH completes, bits clear to Idle (handled by Fetch
// itself, not the poller).
type poller struct {
	e *Engine

	mu      sync.Mutex
	buffers []client.BufferDescriptor
	frameNo uint64
}

func newPoller(e *Engine) *poller { return &poller{e: e} }

func (p *poller) lastFrameNo() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frameNo
}

func (p *poller) buffersSnapshot() []client.BufferDescriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]client.BufferDescriptor, len(p.buffers))
	copy(out, p.buffers)
	return out
}

func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *poller) pollOnce(ctx context.Context) {
	reply, err := p.e.send(ctx, "FRAME", 2*time.Second)
	if err != nil {
		p.e.log.Debug("poller: FRAME failed", "err", err)
		return
	}
	if len(reply.Lines) == 0 {
		return
	}
	bufs := parseFrameReply(reply.Lines[0])

	cur := p.e.conn.Status().Get()
	if !cur.Any(status.Reading | status.Exposing) {
		p.mu.Lock()
		p.buffers = bufs
		p.mu.Unlock()
		return
	}

	best, ok := client.SelectBuffer(bufs)
	p.mu.Lock()
	p.buffers = bufs
	p.frameNo = maxFrameNo(bufs)
	p.mu.Unlock()

	if !ok {
		return
	}

	p.e.mu.Lock()
	start := p.e.startFrameNo
	p.e.mu.Unlock()

	if cur.Has(status.Reading) && best.FrameNo > start && best.Complete {
		p.e.conn.Status().Update(status.Reading, false)
		p.e.conn.Status().Update(status.FetchPending, true)
	}
}

func maxFrameNo(bufs []client.BufferDescriptor) uint64 {
	var max uint64
	for _, b := range bufs {
		if b.FrameNo > max {
			max = b.FrameNo
		}
	}
	return max
}

// parseFrameReply parses the Archon's FRAME reply, a space-separated list
// of "KEY=VALUE" pairs including "BUFn COMPLETE", "BUFnFRAME", "BUFnBASE",
// "BUFnWIDTH", "BUFnHEIGHT", "BUFnSAMPLE". Unrecognised keys are ignored;
// a controller-specific dialect extension never breaks parsing.
func parseFrameReply(line string) []client.BufferDescriptor {
	fields := strings.Fields(line)
	byIndex := map[int]*client.BufferDescriptor{}
	order := []int{}

	get := func(idx int) *client.BufferDescriptor {
		b, ok := byIndex[idx]
		if !ok {
			nb := &client.BufferDescriptor{Index: idx, BitDepth: 16}
			byIndex[idx] = nb
			order = append(order, idx)
			return nb
		}
		return b
	}

	for _, f := range fields {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := kv[0], kv[1]
		idx, field, ok := splitBufKey(key)
		if !ok {
			continue
		}
		b := get(idx)
		switch field {
		case "COMPLETE":
			b.Complete = val == "1"
		case "FRAME":
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				b.FrameNo = n
			}
		case "WIDTH":
			if n, err := strconv.Atoi(val); err == nil {
				b.Width = n
			}
		case "HEIGHT":
			if n, err := strconv.Atoi(val); err == nil {
				b.Height = n
			}
		case "SAMPLE":
			if n, err := strconv.Atoi(val); err == nil {
				b.SampleMode = n
			}
		case "BITDEPTH":
			if n, err := strconv.Atoi(val); err == nil {
				b.BitDepth = n
			}
		}
	}

	out := make([]client.BufferDescriptor, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out
}

// splitBufKey splits a FRAME field key like "BUF2COMPLETE" into (2,
// "COMPLETE"). Archon buffer indices are single digits 1..3 in practice.
func splitBufKey(key string) (int, string, bool) {
	if !strings.HasPrefix(key, "BUF") {
		return 0, "", false
	}
	rest := key[3:]
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(rest[:i])
	if err != nil {
		return 0, "", false
	}
	return idx, rest[i:], true
}
