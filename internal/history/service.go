package history

import (
	"context"
	"log/slog"

	"github.com/diagramsync/collabcore/internal/docstore"
)

// Service implements API on top of the Document Store contract. Writes
// for transient (non-durable) diagram ids are skipped, matching §6:
// "the core calls these only when id matches the durable id shape".
type Service struct {
	store docstore.Store
	log   *slog.Logger
}

// NewService wraps a docstore.Store.
func NewService(store docstore.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, log: log}
}

func (s *Service) Append(ctx context.Context, entry Entry) error {
	if !docstore.IsDurableID(entry.DiagramID) {
		return nil
	}
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.log.Warn("history: append failed", slog.String("diagram", entry.DiagramID), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Service) Recent(ctx context.Context, d string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxRecent {
		limit = MaxRecent
	}
	if !docstore.IsDurableID(d) {
		return nil, nil
	}
	return s.store.RecentHistory(ctx, d, limit)
}
