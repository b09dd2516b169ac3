package service

import (
	"context"
	"fmt"

	"coach21/internal/models"
	"coach21/internal/repository"
)

// anyVersion skips the caller-side version comparison. The store still
// rejects the write if the record changes between read and update.
const anyVersion int64 = 0

// recordMutation edits rec in place and reports whether anything changed
type recordMutation func(rec *models.ProgressRecord) (bool, error)

// mutateRecord applies fn to a fresh copy of the record and writes it back
// with the optimistic version check. Unchanged records are not written.
func mutateRecord(ctx context.Context, repo *repository.ProgressRepository, id string, version int64, fn recordMutation) (*models.ProgressRecord, error) {
	rec, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress record: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	if version != anyVersion && rec.Version != version {
		return nil, repository.ErrVersionConflict
	}

	changed, err := fn(rec)
	if err != nil {
		return nil, err
	}
	if !changed {
		return rec, nil
	}
	if err := repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
