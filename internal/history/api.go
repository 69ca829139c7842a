// Package history implements the History Log (C8): an append-only audit
// trail with bounded retention per diagram on read.
package history

import (
	"context"

	"github.com/diagramsync/collabcore/internal/docstore"
)

// Entry is an alias for the Document Store's history record shape; the
// two packages share one representation so there is no translation layer
// between what the pipeline appends and what gets persisted.
type Entry = docstore.HistoryEntry

// MaxRecent is the hard cap applied to every read regardless of the
// caller-requested limit (spec §3: "cap 100 on reads").
const MaxRecent = 100

// API is the History Log's public surface (spec §4.8).
type API interface {
	// Append persists entry. Fire-and-forget from the pipeline's view:
	// callers should not let a failure here fail the operation that
	// produced it.
	Append(ctx context.Context, entry Entry) error
	// Recent returns up to MaxRecent entries for d, most-recent-first.
	Recent(ctx context.Context, d string, limit int) ([]Entry, error)
}
