// Package seqfile persists the monotonic exposure sequence number across
// daemon restarts: a plain decimal integer in a single file, guarded by an
// exclusive flock around each read-modify-write, per §6's "updated under
// a file lock."
package seqfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sdss/archond/internal/archonerr"
)

// Store is a ports.CounterStore backed by a single file, guarded both by
// an in-process mutex (so two goroutines in this daemon never race) and
// an OS-level exclusive flock (so a second daemon process sharing the
// same state directory cannot corrupt the counter either).
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store that persists its counter at path. The file is
// created (starting at 0) if it does not already exist.
func New(path string) (*Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte("0\n"), 0o644); err != nil {
			return nil, archonerr.Wrap(archonerr.Config, "", "seqfile: create failed", err)
		}
	}
	return &Store{path: path}, nil
}

func (s *Store) withLock(fn func(f *os.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return archonerr.Wrap(archonerr.Config, "", "seqfile: open failed", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return archonerr.Wrap(archonerr.Config, "", "seqfile: flock failed", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn(f)
}

func readCounter(f *os.File) (int64, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, 64)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return 0, nil
	}
	text := strings.TrimSpace(string(buf[:n]))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, archonerr.Wrap(archonerr.Config, "", fmt.Sprintf("seqfile: malformed counter %q", text), err)
	}
	return v, nil
}

func writeCounter(f *os.File, v int64) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := f.WriteString(strconv.FormatInt(v, 10) + "\n")
	return err
}

// Next atomically increments and returns the next exposure number.
func (s *Store) Next(ctx context.Context) (int64, error) {
	var next int64
	err := s.withLock(func(f *os.File) error {
		cur, err := readCounter(f)
		if err != nil {
			return err
		}
		next = cur + 1
		return writeCounter(f, next)
	})
	return next, err
}

// Current returns the last allocated exposure number without advancing it.
func (s *Store) Current(ctx context.Context) (int64, error) {
	var cur int64
	err := s.withLock(func(f *os.File) error {
		v, err := readCounter(f)
		cur = v
		return err
	})
	return cur, err
}
