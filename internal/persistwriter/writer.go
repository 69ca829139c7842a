// Package persistwriter implements the Persistence Writer (C7): a
// debounced durable flush of each diagram's snapshot, with immediate
// flush on critical operations and session end.
package persistwriter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
)

const defaultDebounce = 1500 * time.Millisecond

type pending struct {
	snap  diagram.Snapshot
	timer *time.Timer
}

// Writer holds, per diagram, a pending timer and a pending snapshot.
type Writer struct {
	mu      sync.Mutex
	entries map[string]*pending
	store   docstore.Store
	log     *slog.Logger
	debounceFor time.Duration
}

// New wraps a docstore.Store.
func New(store docstore.Store, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	return &Writer{entries: make(map[string]*pending), store: store, log: log, debounceFor: defaultDebounce}
}

// SetDebounce overrides the debounce interval (spec §4.7 default 1500ms,
// configurable per deployment). Only affects timers armed afterward.
func (w *Writer) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceFor = d
}

// Debounce cancels any pending timer for d, stores snap, and arms a new
// timer; when it fires, the snapshot is flushed.
func (w *Writer) Debounce(d string, snap diagram.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.entries[d]; ok {
		e.timer.Stop()
		e.snap = snap
		e.timer = time.AfterFunc(w.debounceFor, func() { w.fire(d) })
		return
	}
	w.entries[d] = &pending{
		snap:  snap,
		timer: time.AfterFunc(w.debounceFor, func() { w.fire(d) }),
	}
}

func (w *Writer) fire(d string) {
	_ = w.Flush(context.Background(), d, nil)
}

// Flush cancels any pending timer for d and flushes snap (or the last
// pending snapshot if snap is nil) to durable storage. It is a no-op if d
// is not a durable diagram id. Flush failures are logged and returned to
// the caller; the pipeline does not fail the operation that triggered
// them, and the next debounce cycle retries.
func (w *Writer) Flush(ctx context.Context, d string, snap *diagram.Snapshot) error {
	w.mu.Lock()
	var toSave diagram.Snapshot
	have := false
	if e, ok := w.entries[d]; ok {
		e.timer.Stop()
		toSave = e.snap
		have = true
		delete(w.entries, d)
	}
	if snap != nil {
		toSave = *snap
		have = true
	}
	w.mu.Unlock()

	if !have || !docstore.IsDurableID(d) {
		return nil
	}

	if err := w.store.SaveDiagram(ctx, d, toSave); err != nil {
		w.log.Warn("persistwriter: flush failed, will retry on next debounce", slog.String("diagram", d), slog.Any("error", err))
		return err
	}
	return nil
}

// Pending reports whether d has a debounce timer outstanding (for tests
// and diagnostics).
func (w *Writer) Pending(d string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entries[d]
	return ok
}
