// Package exposure implements the per-controller exposure state machine:
// flush control, integration, read-out, buffer fetch and frame packaging,
// layered on top of internal/client's wire-level command correlation and
// internal/status's bitmask model.
package exposure

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/logging"
	"github.com/sdss/archond/internal/status"
)

// Cotask is a side effect run concurrently with integration ("pre-exposure
// cotask") or with read-out ("read cotask"). Its returned map is merged
// into the exposure's per-controller header.
type Cotask func(ctx context.Context) (map[string]any, error)

// Engine drives one controller's exposure lifecycle. Exactly one of
// {Expose, Readout, Fetch, Flush, WriteConfig} may be in flight at a time;
// Engine serialises them with a token, held for the call's duration but
// never by Abort. Status polls (STATUS/SYSTEM/FRAME) are not gated and
// may run concurrently with any of the above.
type Engine struct {
	name string
	conn *client.Client
	cfg  *acf.Manager
	log  *slog.Logger

	// opSlot is a 1-buffered token serialising expose/readout/fetch/
	// flush/write_config/reset: exactly one holds it at a time, per
	// §4.5's "exactly one of {expose, readout, fetch, flush,
	// write_config} is in flight at a time." Abort deliberately never
	// takes it — it must be able to interrupt a live Expose rather than
	// queue behind it.
	opSlot chan struct{}

	mu             sync.Mutex
	errored        bool
	startFrameNo   uint64
	lastBufferMeta client.BufferDescriptor

	poller *poller
}

// New returns an Engine for an already-constructed controller client and
// ACF manager. Callers must call Start to begin the background status
// poller before issuing exposures.
func New(name string, conn *client.Client, cfg *acf.Manager) *Engine {
	e := &Engine{
		name:   name,
		conn:   conn,
		cfg:    cfg,
		log:    logging.WithController(logging.Default(), name),
		opSlot: make(chan struct{}, 1),
	}
	e.opSlot <- struct{}{}
	e.poller = newPoller(e)
	return e
}

// acquireOp waits for the op token. It never blocks Abort, which does not
// call it.
func (e *Engine) acquireOp(ctx context.Context) error {
	select {
	case <-e.opSlot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseOp() {
	e.opSlot <- struct{}{}
}

// Start launches the background FRAME poller. It runs until ctx is
// cancelled.
func (e *Engine) Start(ctx context.Context) {
	go e.poller.run(ctx)
}

// Status returns the controller's current status bitmask.
func (e *Engine) Status() status.Bits { return e.conn.Status().Get() }

func (e *Engine) requireStatus(mask status.Bits) error {
	cur := e.conn.Status().Get()
	if !cur.Has(mask) {
		return archonerr.New(archonerr.InvalidState, e.name, fmt.Sprintf("requires %s, have %s", mask, cur))
	}
	return nil
}

func (e *Engine) send(ctx context.Context, text string, timeout time.Duration) (client.Reply, error) {
	fut, err := e.conn.Send(ctx, text, client.SendOptions{Timeout: timeout})
	if err != nil {
		return client.Reply{}, err
	}
	reply, err := fut.Wait(ctx)
	if err != nil {
		return reply, err
	}
	return reply, nil
}

// isErrored reports whether a prior expose-path failure forced the ERROR
// bit and is still latched, refusing further exposures until Reset.
func (e *Engine) isErrored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errored
}

func (e *Engine) latchError() {
	e.mu.Lock()
	e.errored = true
	e.mu.Unlock()
	e.conn.Status().Update(status.Error, true)
}

// Reset clears the latched expose-path error, the only way back to normal
// operation after a NAK or timeout on an expose-path command.
func (e *Engine) Reset(ctx context.Context) error {
	if err := e.acquireOp(ctx); err != nil {
		return err
	}
	defer e.releaseOp()
	e.mu.Lock()
	e.errored = false
	e.mu.Unlock()
	e.conn.Status().Update(status.Error, false)
	return nil
}

// Expose requires Idle; it disables auto-flush, records the starting frame
// number, sets IntMS/Exposures and the EXPOSING|READOUT_PENDING bits, then
// returns once integration (and, if autoRead, read-out) completes.
func (e *Engine) Expose(ctx context.Context, centiseconds int, autoRead bool) error {
	if e.isErrored() {
		return archonerr.New(archonerr.InvalidState, e.name, "expose refused: controller is in ERROR, reset required")
	}
	if err := e.acquireOp(ctx); err != nil {
		return err
	}
	defer e.releaseOp()

	if err := e.requireStatus(status.Idle); err != nil {
		return err
	}

	if e.cfg.Document() != nil {
		if err := e.cfg.WriteLine(ctx, "DoFlush", "0"); err != nil {
			return archonerr.Wrap(archonerr.Config, e.name, "expose: disable auto-flush failed", err)
		}
	}

	e.mu.Lock()
	e.startFrameNo = e.poller.lastFrameNo()
	e.mu.Unlock()

	if e.cfg.Document() != nil {
		if err := e.cfg.WriteLine(ctx, "IntMS", fmt.Sprintf("%d", centiseconds)); err != nil {
			e.latchError()
			return archonerr.Wrap(archonerr.Config, e.name, "expose: set IntMS failed", err)
		}
		if err := e.cfg.WriteLine(ctx, "Exposures", "1"); err != nil {
			e.latchError()
			return archonerr.Wrap(archonerr.Config, e.name, "expose: set Exposures failed", err)
		}
	}

	e.conn.Status().Update(status.Exposing|status.ReadoutPending, true)

	if err := e.awaitExposureConsumed(ctx); err != nil {
		e.latchError()
		return err
	}

	if err := e.awaitIntegrationDone(ctx, centiseconds); err != nil {
		e.latchError()
		return err
	}

	if !autoRead {
		return nil
	}
	return e.readout(ctx)
}

// awaitExposureConsumed implements Open Question (a): the ACF's Exposures
// parameter is decremented by the controller's own timing script, so the
// client must not assume the write took effect instantly — it reads back
// Exposures via RCONFIGnnnn (through ReadConfig) until it observes the
// controller has accepted it, bounded and logged.
func (e *Engine) awaitExposureConsumed(ctx context.Context) error {
	if e.cfg.Document() == nil {
		return nil
	}
	const attempts = 5
	for i := 0; i < attempts; i++ {
		if _, err := e.cfg.ReadConfig(ctx); err != nil {
			e.log.Warn("awaitExposureConsumed: read back failed", "attempt", i, "err", err)
			continue
		}
		if n, err := e.cfg.Document().Int("Exposures"); err == nil && n == 0 {
			return nil
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.log.Warn("awaitExposureConsumed: controller did not acknowledge Exposures write within budget")
	return nil
}

// awaitIntegrationDone waits out the integration time. Unlike readout, the
// controller does not signal integration-complete on its own status line —
// EXPOSING only clears once Readout sets READING (or Abort sets IDLE) — so
// this simply blocks for the requested duration, the same interval IntMS
// asked the controller to integrate for.
func (e *Engine) awaitIntegrationDone(ctx context.Context, centiseconds int) error {
	timer := time.NewTimer(time.Duration(centiseconds) * 10 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		e.sendAbortExposureDetached()
		return ctx.Err()
	}
}

// sendAbortExposureDetached issues AbortExposure on the controller when the
// caller's context is cancelled mid-integration, per §5's "expose
// cancellation implies issuing AbortExposure on the controller." It uses a
// context detached from the (already-done) caller context so the write is
// not itself cancelled before it reaches the wire.
func (e *Engine) sendAbortExposureDetached() {
	if e.cfg.Document() == nil {
		return
	}
	detached, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.cfg.WriteLine(detached, "AbortExposure", "1"); err != nil {
		e.log.Warn("awaitIntegrationDone: abort-on-cancel failed", "err", err)
	}
}

// Abort is valid in EXPOSING only: it sets AbortExposure, clears
// READOUT_PENDING and returns status to Idle. It does not take opSlot: it
// must be able to interrupt a live Expose/Readout rather than wait for one
// to finish on its own.
func (e *Engine) Abort(ctx context.Context) error {
	if err := e.requireStatus(status.Exposing); err != nil {
		return err
	}
	if e.cfg.Document() != nil {
		if err := e.cfg.WriteLine(ctx, "AbortExposure", "1"); err != nil {
			return archonerr.Wrap(archonerr.Config, e.name, "abort failed", err)
		}
	}
	e.conn.Status().Update(status.ReadoutPending, false)
	e.conn.Status().Update(status.Idle, true)
	return nil
}

// Readout is valid in READOUT_PENDING: it sets ReadOut, transitions to
// Reading, and completes when the poller observes the new buffer complete
// and flips the bit to FetchPending.
func (e *Engine) Readout(ctx context.Context) error {
	if err := e.acquireOp(ctx); err != nil {
		return err
	}
	defer e.releaseOp()
	return e.readout(ctx)
}

// readout is Readout's body, run by a caller that already holds the op
// token (Readout itself, or Expose with autoRead).
func (e *Engine) readout(ctx context.Context) error {
	if err := e.requireStatus(status.ReadoutPending); err != nil {
		return err
	}
	if e.cfg.Document() != nil {
		if err := e.cfg.WriteLine(ctx, "ReadOut", "1"); err != nil {
			return archonerr.Wrap(archonerr.Config, e.name, "readout failed", err)
		}
	}
	e.conn.Status().Update(status.Reading, true)

	ch, cancel := e.conn.Status().Subscribe()
	defer cancel()
	for {
		select {
		case bits := <-ch:
			if bits.Has(status.FetchPending) {
				return nil
			}
			if bits.Has(status.Idle) {
				// Poller reached Idle without FetchPending: treat as done
				// (e.g. auto-flush reasserted Idle after a trivial frame).
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush is valid in Idle: it sets FlushCount and asserts DoFlush, staying
// in Flushing until the parameter resets.
func (e *Engine) Flush(ctx context.Context, count int) error {
	if err := e.acquireOp(ctx); err != nil {
		return err
	}
	defer e.releaseOp()

	if err := e.requireStatus(status.Idle); err != nil {
		return err
	}
	if e.cfg.Document() != nil {
		if err := e.cfg.WriteLine(ctx, "FlushCount", fmt.Sprintf("%d", count)); err != nil {
			return archonerr.Wrap(archonerr.Config, e.name, "flush: set FlushCount failed", err)
		}
		if err := e.cfg.WriteLine(ctx, "DoFlush", "1"); err != nil {
			return archonerr.Wrap(archonerr.Config, e.name, "flush: assert DoFlush failed", err)
		}
	}
	e.conn.Status().Update(status.Flushing, true)

	ch, cancel := e.conn.Status().Subscribe()
	defer cancel()
	for {
		select {
		case bits := <-ch:
			if !bits.Has(status.Flushing) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WriteConfig forwards to the bound ACF manager, under the same op token
// as the other exposure-path operations so it cannot interleave with an
// in-flight expose/readout/fetch/flush.
func (e *Engine) WriteConfig(ctx context.Context, text string, overrides map[string]string, applySubsystems []string) error {
	if err := e.acquireOp(ctx); err != nil {
		return err
	}
	defer e.releaseOp()
	return e.cfg.WriteConfig(ctx, text, overrides, applySubsystems)
}
