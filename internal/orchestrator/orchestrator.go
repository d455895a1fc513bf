// Package orchestrator drives an exposure across a fleet of Archon
// controllers as a single operation: exposure-number allocation,
// synchronised start/read/fetch, per-detector FITS assembly, lockfile-
// bracketed persistence, and crash recovery of orphaned in-flight writes.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sdss/archond/internal/acf"
	"github.com/sdss/archond/internal/archonerr"
	"github.com/sdss/archond/internal/client"
	"github.com/sdss/archond/internal/exposure"
	"github.com/sdss/archond/internal/logging"
	"github.com/sdss/archond/internal/ports"
	"github.com/sdss/archond/internal/status"
)

// SoftwareVersion is stamped into every FITS header's SWVER card.
const SoftwareVersion = "archond/1.0"

// Unit binds one controller's wire client, ACF manager and exposure
// engine together under the name it is addressed by.
type Unit struct {
	Name   string
	Client *client.Client
	Config *acf.Manager
	Engine *exposure.Engine
}

// Orchestrator coordinates start/read/fetch across a configured set of
// controllers. The fleet-wide op token it holds while transitioning the
// fleet is nested outside each Unit's own Engine token, per §5's "The
// orchestrator holds an exposure-wide mutex while transitioning the
// fleet; per-controller mutexes are nested inside that" — except Abort,
// which bypasses both levels so it can interrupt a live Expose.
type Orchestrator struct {
	units []*Unit

	Sink     ports.ReplySink
	Writer   ports.FITSWriter
	Clock    ports.Clock
	Counter  ports.CounterStore
	EnvSense ports.EnvSensor // optional; nil disables environmental header augmentation

	// PathTemplate is a printf-style string with placeholders
	// {observatory}, {hemisphere}, {controller}, {exposure_no}.
	PathTemplate string
	Observatory  string
	Hemisphere   string

	// opSlot is a 1-buffered token serialising Expose/Reset across the
	// fleet. Abort deliberately never takes it, for the same reason
	// internal/exposure.Engine's own opSlot exempts Abort: it must be
	// able to interrupt an in-flight Expose, not queue behind it. Lazily
	// initialised so an Orchestrator built as a struct literal (as the
	// recovery/path tests do, exercising only Recover/biasSection) still
	// works.
	opSlot     chan struct{}
	opSlotOnce sync.Once
	log        *slog.Logger
}

func (o *Orchestrator) slot() chan struct{} {
	o.opSlotOnce.Do(func() {
		o.opSlot = make(chan struct{}, 1)
		o.opSlot <- struct{}{}
	})
	return o.opSlot
}

// acquireOp waits for the fleet op token.
func (o *Orchestrator) acquireOp(ctx context.Context) error {
	select {
	case <-o.slot():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) releaseOp() {
	o.slot() <- struct{}{}
}

// New returns an Orchestrator over units, publishing through sink and
// persisting through writer/counter.
func New(units []*Unit, sink ports.ReplySink, writer ports.FITSWriter, clock ports.Clock, counter ports.CounterStore) *Orchestrator {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Orchestrator{
		units:   units,
		Sink:    sink,
		Writer:  writer,
		Clock:   clock,
		Counter: counter,
		log:     logging.Default(),
	}
}

func (o *Orchestrator) publish(ctx context.Context, key, controller string, fields map[string]any) {
	if o.Sink == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["controller"] = controller
	if err := o.Sink.Publish(ctx, ports.Event{Key: key, Fields: fields}); err != nil {
		o.log.Warn("publish failed", "key", key, "err", err)
	}
}

func (o *Orchestrator) publishError(ctx context.Context, controller, msg string) {
	o.publish(ctx, "error", controller, map[string]any{"message": msg})
}

// ExposeRequest is the caller-supplied input to Expose.
type ExposeRequest struct {
	Centiseconds int
	AutoRead     bool
	ExtraHeader  map[string]any
	PreTasks     []exposure.Cotask
	ReadTasks    []exposure.Cotask
}

// ExposeResult is returned once every participating controller's file has
// been written (or has failed with a surfaced error).
type ExposeResult struct {
	ExposureNo int64
	Filenames  []string
	Errors     map[string]error
}

// Expose drives steps 1-6 of §4.6 across every configured unit: allocate
// the exposure number, run pre-exposure cotasks, broadcast expose to every
// controller, run read cotasks during read-out, fetch buffers in
// parallel, crop per-detector regions, and write each FITS file bracketed
// by a lockfile.
func (o *Orchestrator) Expose(ctx context.Context, req ExposeRequest) (ExposeResult, error) {
	if err := o.acquireOp(ctx); err != nil {
		return ExposeResult{}, err
	}
	defer o.releaseOp()

	expNo, err := o.Counter.Next(ctx)
	if err != nil {
		return ExposeResult{}, archonerr.Wrap(archonerr.Persist, "", "expose: allocate exposure number failed", err)
	}
	o.publish(ctx, "status", "fleet", map[string]any{"last_exposure_no": expNo})

	preHeader := o.runCotasks(ctx, req.PreTasks)

	started := o.Clock.Now()
	if err := o.broadcastExpose(ctx, req.Centiseconds, req.AutoRead); err != nil {
		return ExposeResult{ExposureNo: expNo}, err
	}

	readHeader := o.runCotasks(ctx, req.ReadTasks)

	frames, fetchErrs := o.fetchAll(ctx)
	finished := o.Clock.Now()

	result := ExposeResult{ExposureNo: expNo, Errors: map[string]error{}}
	for name, err := range fetchErrs {
		result.Errors[name] = err
		o.publishError(ctx, name, err.Error())
	}

	var env ports.Environment
	if o.EnvSense != nil {
		if e, err := o.EnvSense.Sense(ctx); err == nil {
			env = e
		}
	}

	for _, u := range o.units {
		frame, ok := frames[u.Name]
		if !ok {
			continue
		}
		paths, err := o.writeDetectors(ctx, u, expNo, frame, started, finished, req.ExtraHeader, preHeader, readHeader, env)
		if err != nil {
			result.Errors[u.Name] = err
			o.publishError(ctx, u.Name, err.Error())
			continue
		}
		result.Filenames = append(result.Filenames, paths...)
	}

	o.publish(ctx, "filenames", "fleet", map[string]any{"filenames": result.Filenames})
	return result, nil
}

func (o *Orchestrator) runCotasks(ctx context.Context, tasks []exposure.Cotask) map[string]any {
	merged := map[string]any{}
	if len(tasks) == 0 {
		return merged
	}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			fields, err := t(ctx)
			if err != nil {
				o.log.Warn("cotask failed", "err", err)
				return
			}
			mu.Lock()
			for k, v := range fields {
				merged[k] = v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return merged
}

// broadcastExpose sends expose(t, auto_read) to every unit simultaneously
// and awaits all integrations. If any fails, abort is broadcast to the
// rest and a composite error is returned.
func (o *Orchestrator) broadcastExpose(ctx context.Context, centiseconds int, autoRead bool) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := map[string]error{}

	for _, u := range o.units {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := u.Engine.Expose(ctx, centiseconds, autoRead); err != nil {
				mu.Lock()
				errs[u.Name] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}

	var abortWg sync.WaitGroup
	for _, u := range o.units {
		if _, failed := errs[u.Name]; failed {
			continue
		}
		u := u
		abortWg.Add(1)
		go func() {
			defer abortWg.Done()
			if u.Engine.Status().Has(status.Exposing) {
				_ = u.Engine.Abort(ctx)
			}
		}()
	}
	abortWg.Wait()

	for name, err := range errs {
		o.publishError(ctx, name, err.Error())
	}
	return archonerr.New(archonerr.Device, "fleet", fmt.Sprintf("expose failed on %d controller(s), aborted remainder", len(errs)))
}

// fetchAll fetches every unit's buffer in parallel.
func (o *Orchestrator) fetchAll(ctx context.Context) (map[string]exposure.Frame, map[string]error) {
	frames := map[string]exposure.Frame{}
	errs := map[string]error{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, u := range o.units {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			frame, err := u.Engine.Fetch(ctx, exposure.FetchOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[u.Name] = err
				return
			}
			frames[u.Name] = frame
		}()
	}
	wg.Wait()
	return frames, errs
}

// Abort cancels any in-flight exposure on every controller and discards
// pending readouts, without clearing a latched expose-path error: a
// controller left in ERROR by a prior NAK/timeout still refuses further
// exposures after Abort, matching §4.5 ("the engine refuses further
// exposures until an explicit reset"). It does not wait for opSlot: a
// concurrent Expose must be interruptible, not block Abort until it
// finishes on its own.
func (o *Orchestrator) Abort(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, u := range o.units {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if u.Engine.Status().Has(status.Exposing) {
				_ = u.Engine.Abort(ctx)
			}
		}()
	}
	wg.Wait()
	return nil
}

// Reset aborts any in-flight exposure on every controller, discards
// pending readouts, clears any latched expose-path error, and returns the
// whole system to Idle.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.acquireOp(ctx); err != nil {
		return err
	}
	defer o.releaseOp()

	var wg sync.WaitGroup
	for _, u := range o.units {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			if u.Engine.Status().Has(status.Exposing) {
				_ = u.Engine.Abort(ctx)
			}
			_ = u.Engine.Reset(ctx)
			u.Client.Status().Update(status.ReadoutPending|status.FetchPending, false)
			u.Client.Status().Update(status.Idle, true)
		}()
	}
	wg.Wait()
	return nil
}

// Units exposes the configured controller units for callers (the CLI
// status command, debugui) that need read-only access.
func (o *Orchestrator) Units() []*Unit { return o.units }

// unitByName is a small helper used by recovery and by the CLI dispatcher.
func (o *Orchestrator) unitByName(name string) (*Unit, bool) {
	for _, u := range o.units {
		if u.Name == name {
			return u, true
		}
	}
	return nil, false
}
