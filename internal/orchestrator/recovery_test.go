package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sdss/archond/internal/lockfile"
	"github.com/sdss/archond/internal/ports"
)

type fakeWriter struct {
	mu      sync.Mutex
	written map[string]ports.HDU
	failOn  map[string]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{written: map[string]ports.HDU{}, failOn: map[string]bool{}}
}

func (w *fakeWriter) Write(ctx context.Context, path string, hdu ports.HDU) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failOn[path] {
		return errPersistFailed
	}
	w.written[path] = hdu
	return nil
}

var errPersistFailed = &writerErr{"fake writer: forced failure"}

type writerErr struct{ msg string }

func (e *writerErr) Error() string { return e.msg }

type fakeSink struct {
	mu     sync.Mutex
	events []ports.Event
}

func (s *fakeSink) Publish(ctx context.Context, ev ports.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestRecoverRewritesOrphanedLockfileAndClearsIt(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "sp1-1-b1.fits")

	rec := lockfile.Record{
		ExposureNo: 1,
		Controller: "sp1",
		Detector:   "b1",
		Path:       finalPath,
		Width:      2,
		Height:     2,
		Bitpix:     16,
		CreatedAt:  time.Now(),
		Pix16:      []uint16{1, 2, 3, 4},
	}
	if err := lockfile.Write(rec); err != nil {
		t.Fatalf("lockfile.Write: %v", err)
	}

	w := newFakeWriter()
	o := &Orchestrator{Writer: w, Sink: &fakeSink{}, Clock: fixedClock{time.Now()}}

	result, err := o.Recover(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Recovered) != 1 || result.Recovered[0] != finalPath {
		t.Fatalf("expected %q recovered, got %v (failed=%v)", finalPath, result.Recovered, result.Failed)
	}
	if _, ok := w.written[finalPath]; !ok {
		t.Fatalf("writer never received %q", finalPath)
	}

	if _, err := lockfile.Read(finalPath); err == nil {
		t.Fatalf("expected lockfile to be removed after successful recovery")
	}
}

func TestRecoverLeavesLockfileWhenWriteFails(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "sp1-2-b1.fits")

	rec := lockfile.Record{ExposureNo: 2, Controller: "sp1", Detector: "b1", Path: finalPath, Width: 1, Height: 1, Bitpix: 16, Pix16: []uint16{9}}
	if err := lockfile.Write(rec); err != nil {
		t.Fatalf("lockfile.Write: %v", err)
	}

	w := newFakeWriter()
	w.failOn[finalPath] = true
	o := &Orchestrator{Writer: w, Sink: &fakeSink{}, Clock: fixedClock{time.Now()}}

	result, err := o.Recover(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Recovered) != 0 {
		t.Fatalf("expected nothing recovered, got %v", result.Recovered)
	}
	if _, failed := result.Failed[finalPath]; !failed {
		t.Fatalf("expected failure recorded for %q, got %v", finalPath, result.Failed)
	}
	if _, err := lockfile.Read(finalPath); err != nil {
		t.Fatalf("expected lockfile preserved for retry, got error reading it: %v", err)
	}
}
