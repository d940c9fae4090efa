package sync

import (
	"context"
	"errors"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/repository/postgres"
)

// pgStore adapts the Postgres repository to the Store interface. The
// indirection exists because BeginReplace must return the package-local
// ReplaceTx interface.
type pgStore struct {
	*postgres.CatalogRepo
}

// NewStore wraps the Postgres catalog repository for the orchestrator.
func NewStore(repo *postgres.CatalogRepo) Store {
	return pgStore{repo}
}

func (s pgStore) BeginReplace(ctx context.Context) (ReplaceTx, error) {
	return s.CatalogRepo.BeginReplace(ctx)
}

func (s pgStore) StartRun(ctx context.Context) (*catalog.SyncRun, error) {
	run, err := s.CatalogRepo.StartRun(ctx)
	if errors.Is(err, postgres.ErrSyncInProgress) {
		return nil, ErrAlreadyRunning
	}
	return run, err
}
