package cli

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/diagramsync/collabcore/internal/cachestore"
	"github.com/diagramsync/collabcore/internal/clock"
	"github.com/diagramsync/collabcore/internal/diagram"
	"github.com/diagramsync/collabcore/internal/docstore"
	"github.com/diagramsync/collabcore/internal/history"
	"github.com/diagramsync/collabcore/internal/persistwriter"
	"github.com/diagramsync/collabcore/internal/pipeline"
	"github.com/diagramsync/collabcore/internal/statestore"
)

var (
	benchClients int
	benchOps     int
)

// NewBench creates the bench command, a synthetic load generator that
// exercises the operation pipeline's broadcast fan-out against many
// concurrent senders without opening real sockets (spec §8: "≥50
// concurrent sessions on one diagram must all receive every broadcast").
func NewBench() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load-test the operation pipeline in-process",
		Long: `Drives the operation pipeline directly with many simulated clients
submitting ops concurrently on one diagram, and reports how many
broadcasts a counting fan-out observed versus how many ops were
accepted.`,
		RunE: runBench,
	}
	cmd.Flags().IntVar(&benchClients, "clients", 50, "number of simulated concurrent sessions")
	cmd.Flags().IntVar(&benchOps, "ops", 20, "operations submitted per client")
	return cmd
}

// countingBroadcaster is a pipeline.Broadcaster double that counts how
// many applied operations the pipeline fanned out and how many it
// rejected, standing in for the real session gateway's fan-out during a
// bench run. It counts one per operation, not one per receiving client.
type countingBroadcaster struct {
	mu        sync.Mutex
	delivered int
	rejected  int
}

func (b *countingBroadcaster) BroadcastExcept(_, _ string, _ diagram.Operation, _ int64) {
	b.mu.Lock()
	b.delivered++
	b.mu.Unlock()
}

func (b *countingBroadcaster) Reject(_, _, _, _ string) {
	b.mu.Lock()
	b.rejected++
	b.mu.Unlock()
}

func runBench(cmd *cobra.Command, args []string) error {
	ui := NewUI()
	ui.Header(iconDiagram, "Benchmarking operation pipeline")
	ui.Blank()

	cache := cachestore.NewMemoryStore()
	state := statestore.New(cache)
	// bench runs entirely against the transient hot path; durable writes
	// are skipped by using a transient diagram id (spec §3 IsDurableID).
	memDocs := &benchDocStore{}
	persist := persistwriter.New(memDocs, nil)
	hist := history.NewService(memDocs, nil)
	bc := &countingBroadcaster{}
	engine := pipeline.New(clock.New(), state, memDocs, persist, hist, bc, nil)

	const diagramID = "local_bench"
	ui.Step(fmt.Sprintf("%d clients x %d ops on diagram %q", benchClients, benchOps, diagramID))

	start := time.Now()
	var wg sync.WaitGroup
	for c := 0; c < benchClients; c++ {
		wg.Add(1)
		clientID := fmt.Sprintf("bench-client-%d", c)
		go func(clientID string) {
			defer wg.Done()
			for i := 0; i < benchOps; i++ {
				engine.Submit(diagramID, clientID, diagram.Operation{
					ID:     fmt.Sprintf("%s-op-%d", clientID, i),
					Type:   diagram.EntityMove,
					UserID: clientID,
					Payload: map[string]any{
						"position": map[string]any{"x": float64(i), "y": 0},
					},
					TargetID: "bench-entity",
				})
			}
		}(clientID)
	}
	wg.Wait()

	// The pipeline drains asynchronously; give the single worker a moment
	// to finish what was enqueued before reporting totals.
	deadline := time.Now().Add(5 * time.Second)
	total := benchClients * benchOps
	for time.Now().Before(deadline) {
		bc.mu.Lock()
		done := bc.delivered + bc.rejected
		bc.mu.Unlock()
		if done >= total {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	elapsed := time.Since(start)

	bc.mu.Lock()
	delivered, rejected := bc.delivered, bc.rejected
	bc.mu.Unlock()

	ui.Summary([][2]string{
		{"Submitted", fmt.Sprintf("%d", total)},
		{"Broadcast", fmt.Sprintf("%d", delivered)},
		{"Rejected", fmt.Sprintf("%d", rejected)},
		{"Elapsed", elapsed.Round(time.Millisecond).String()},
	})
	ui.Success("Bench run complete")
	return nil
}

// benchDocStore is an in-memory docstore.Store used only so the bench
// command never touches disk; the diagram id it operates on is transient
// (local_*) so persistwriter and history never try to reach it anyway.
type benchDocStore struct {
	mu      sync.Mutex
	entries map[string][]docstore.HistoryEntry
}

func (b *benchDocStore) LoadDiagram(_ context.Context, id string) (diagram.Snapshot, bool, error) {
	return diagram.Empty(), false, nil
}

func (b *benchDocStore) SaveDiagram(_ context.Context, id string, snap diagram.Snapshot) error {
	return nil
}

func (b *benchDocStore) DeleteDiagram(_ context.Context, id string) error { return nil }

func (b *benchDocStore) AppendHistory(_ context.Context, entry docstore.HistoryEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.entries == nil {
		b.entries = make(map[string][]docstore.HistoryEntry)
	}
	b.entries[entry.DiagramID] = append(b.entries[entry.DiagramID], entry)
	return nil
}

func (b *benchDocStore) RecentHistory(_ context.Context, id string, limit int) ([]docstore.HistoryEntry, error) {
	return nil, nil
}
