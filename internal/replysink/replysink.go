// Package replysink provides reference ports.ReplySink implementations: a
// log/slog-backed sink that renders every structured event at Info level
// with the well-known §6 keys as slog attributes, and a fan-out sink that
// mirrors the same events to any number of subscribers (used by
// internal/debugui's websocket stream).
package replysink

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/sdss/archond/internal/ports"
)

// Slog is a ports.ReplySink that logs every event through the given
// logger, sorted by field key for deterministic output.
type Slog struct {
	log *slog.Logger
}

// NewSlog returns a Slog sink writing through log.
func NewSlog(log *slog.Logger) *Slog {
	return &Slog{log: log}
}

func (s *Slog) Publish(ctx context.Context, ev ports.Event) error {
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, ev.Fields[k])
	}
	s.log.Info(ev.Key, args...)
	return nil
}

// FanOut re-publishes every event it receives to every currently
// registered subscriber, coalescing nothing (each subscriber gets its own
// buffered channel so a slow debug-UI viewer cannot stall the primary
// sink). It wraps an inner ReplySink that always receives every event
// first.
type FanOut struct {
	inner ports.ReplySink

	mu   sync.Mutex
	subs map[chan ports.Event]struct{}
}

// NewFanOut wraps inner, additionally fanning every event out to
// subscribers registered via Subscribe.
func NewFanOut(inner ports.ReplySink) *FanOut {
	return &FanOut{inner: inner, subs: make(map[chan ports.Event]struct{})}
}

func (f *FanOut) Publish(ctx context.Context, ev ports.Event) error {
	if f.inner != nil {
		if err := f.inner.Publish(ctx, ev); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the primary sink.
		}
	}
	return nil
}

// Subscribe registers a new fan-out subscriber. The returned cancel
// function must be called to release it.
func (f *FanOut) Subscribe() (<-chan ports.Event, func()) {
	ch := make(chan ports.Event, 32)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	cancel := func() {
		f.mu.Lock()
		delete(f.subs, ch)
		f.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}
