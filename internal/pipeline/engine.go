// Package pipeline implements the Operation Pipeline (C6): a per-diagram
// serial executor that merges the Lamport clock, applies an operation to
// the hot snapshot, fans the result out to every other session, and
// schedules persistence and an audit entry, in that order (spec §4.6).
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/diagramsync/collabcore/internal/clock"
	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
	"github.com/diagramsync/collabcore/internal/history"
	"github.com/diagramsync/collabcore/internal/persistwriter"
	"github.com/diagramsync/collabcore/internal/statestore"
)

// queueCapacity bounds per-diagram back-pressure (spec §5: "per-diagram
// queue depth is bounded by memory only... implementations should expose
// a size limit and drop or reject ops past it").
const queueCapacity = 256

// Broadcaster is the Session Gateway's fan-out surface. The pipeline
// depends on it, never the reverse, so C6 has no knowledge of transport
// (spec §4.9, design note on explicit dependencies replacing globals).
type Broadcaster interface {
	// BroadcastExcept delivers an applied operation to every session on
	// diagram d except the sender's clientID (spec §4.6 step 5).
	BroadcastExcept(d, exceptClientID string, op diagram.Operation, appliedAt int64)
	// Reject delivers op_rejected to a single sender (spec §7 InvalidOperation,
	// §5 back-pressure).
	Reject(d, clientID, opID, reason string)
}

type job struct {
	clientID string
	op       diagram.Operation
}

type worker struct {
	inbox chan job
	done  chan struct{}
}

// Engine is the Operation Pipeline: one serial executor per diagram,
// spawned lazily on first use (spec §9 design note, option (a): "one
// long-lived worker task per active diagram with an unbounded inbound
// channel" -- here bounded, for back-pressure).
type Engine struct {
	mu      sync.Mutex
	workers map[string]*worker

	clock   *clock.Service
	state   *statestore.Store
	docs    docstore.Store
	persist *persistwriter.Writer
	history history.API
	bc      Broadcaster
	log     *slog.Logger
	now     func() time.Time
}

// New wires the Operation Pipeline's dependencies.
func New(clk *clock.Service, state *statestore.Store, docs docstore.Store, persist *persistwriter.Writer, hist history.API, bc Broadcaster, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		workers: make(map[string]*worker),
		clock:   clk,
		state:   state,
		docs:    docs,
		persist: persist,
		history: hist,
		bc:      bc,
		log:     log,
		now:     time.Now,
	}
}

// Load returns the current snapshot for d (spec §4.6 step 2): a hot-cache
// hit returns directly; a miss consults durable storage for durable ids
// and seeds the hot cache, or starts empty for transient ids and
// UnknownDiagram (spec §7). It is shared by the pipeline worker and by
// join_project (spec §4.9), which needs the same read before any
// operation has been applied. The returned warning is non-empty only when
// the hot-cache read or a durable load failed (TransientStoreError, spec
// §7); the snapshot is then empty and the caller should surface the
// warning to a joining client. The returned error is always nil.
func (e *Engine) Load(ctx context.Context, d string) (snap diagram.Snapshot, warning string, err error) {
	hot, ok, err := e.state.Get(ctx, d)
	if err != nil {
		return diagram.Empty(), "presence/state cache unavailable, starting from an empty diagram", nil
	}
	if ok {
		return hot, "", nil
	}

	if docstore.IsDurableID(d) {
		loaded, found, loadErr := e.docs.LoadDiagram(ctx, d)
		if loadErr != nil {
			e.log.Warn("pipeline: durable load failed, joining with empty snapshot", slog.String("diagram", d), slog.Any("error", loadErr))
			empty := diagram.Empty()
			_ = e.state.InitFromDurable(ctx, d, empty)
			return empty, "could not load the saved diagram, starting from an empty canvas", nil
		}
		if found {
			_ = e.state.InitFromDurable(ctx, d, loaded)
			return loaded, "", nil
		}
	}

	empty := diagram.Empty()
	_ = e.state.InitFromDurable(ctx, d, empty)
	return empty, "", nil
}

// Submit enqueues op for diagram d from clientID, spawning its worker on
// first use. A full queue rejects the op synchronously instead of
// blocking the caller (spec §5 back-pressure).
func (e *Engine) Submit(d, clientID string, op diagram.Operation) {
	w := e.workerFor(d)
	select {
	case w.inbox <- job{clientID: clientID, op: op}:
	default:
		e.bc.Reject(d, clientID, op.ID, "queue_full")
	}
}

// Shutdown tears down d's worker (spec §3 lifecycle: "evicted when no
// sessions remain after a grace period") and resets its clock; the next
// incoming operation re-establishes both.
func (e *Engine) Shutdown(d string) {
	e.mu.Lock()
	w, ok := e.workers[d]
	if ok {
		delete(e.workers, d)
	}
	e.mu.Unlock()
	if ok {
		close(w.done)
	}
	e.clock.Reset(d)
}

func (e *Engine) workerFor(d string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.workers[d]; ok {
		return w
	}
	w := &worker{inbox: make(chan job, queueCapacity), done: make(chan struct{})}
	e.workers[d] = w
	go e.run(d, w)
	return w
}

// run is the diagram's single-threaded logical executor. Every job is
// processed start-to-finish (merge, apply, broadcast, persist, history)
// before the next is dequeued, which trivially satisfies the ordering
// contract of spec §4.6/§5 ("step 1 of the next op must not start until
// step 4 of the previous has completed"); pipelining steps 5-7 against
// the next op's steps 1-4 is a permitted optimization this implementation
// does not take, favoring the simpler single-goroutine model the spec's
// own design notes call out as option (a).
func (e *Engine) run(d string, w *worker) {
	for {
		select {
		case j := <-w.inbox:
			e.safeProcess(d, j)
		case <-w.done:
			return
		}
	}
}

// safeProcess isolates a panicking operation from the rest of the
// process (spec §7 Fatal: "one diagram's worker crash must not take down
// other diagrams"). Recovering in place rather than letting the goroutine
// die gives the same observable contract -- this diagram's clock resets,
// the next operation re-establishes it, other diagrams are untouched --
// without the bookkeeping of detecting and respawning a dead goroutine.
func (e *Engine) safeProcess(d string, j job) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("pipeline: worker panic recovered", slog.String("diagram", d), slog.Any("panic", r))
			e.clock.Reset(d)
		}
	}()
	e.process(d, j)
}

func (e *Engine) process(d string, j job) {
	ctx := context.Background()
	op := j.op
	if op.UserID == "" {
		// spec §7 IdentityMissing: apply with userId "anonymous", matching
		// the source's behavior; history/audit reflects it.
		op.UserID = "anonymous"
	}

	// Step 1: merge clock. The broadcast and history record still carry
	// the sender's own lamportClock (spec §4.6 step 5 "broadcast {...o,
	// appliedAt: now}"); merging only advances this diagram's server-side
	// clock so the next outbound op is correctly ordered after it.
	e.clock.Merge(d, op.LamportClock)

	// Step 2: read snapshot (loads + seeds durable state on first touch).
	snap, _, err := e.Load(ctx, d)
	if err != nil {
		e.log.Error("pipeline: load failed", slog.String("diagram", d), slog.Any("error", err))
		return
	}

	// Step 3: apply.
	next := diagram.Apply(snap, op)

	// Step 4: write snapshot.
	if err := e.state.Put(ctx, d, next); err != nil {
		e.log.Error("pipeline: state put failed", slog.String("diagram", d), slog.Any("error", err))
	}

	// Step 5: fan out.
	appliedAt := e.now().UnixMilli()
	e.bc.BroadcastExcept(d, j.clientID, op, appliedAt)

	// Step 6: schedule persistence.
	if op.Type.IsCritical() {
		if err := e.persist.Flush(ctx, d, &next); err != nil {
			e.log.Warn("pipeline: critical flush failed, next debounce will retry", slog.String("diagram", d), slog.Any("error", err))
		}
	} else {
		e.persist.Debounce(d, next)
	}

	// Step 7: append history, best-effort.
	entry := buildHistoryEntry(d, op, appliedAt)
	if err := e.history.Append(ctx, entry); err != nil {
		e.log.Warn("pipeline: history append failed", slog.String("diagram", d), slog.Any("error", err))
	}
}
