// Package stats persists per-task records and run summaries. The Memory
// store backs tests and local runs; Postgres is used when DATABASE_URL is
// set.
package stats

import (
	"context"
	"errors"

	"binsim/internal/model"
)

// Store is the persistence interface used by the simulation and API server.
type Store interface {
	SaveTaskRecord(ctx context.Context, runID string, rec model.TaskRecord) error
	ListTaskRecords(ctx context.Context, runID string) ([]model.TaskRecord, error)

	SaveRunSummary(ctx context.Context, s model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (model.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)
}

var ErrNotFound = errors.New("not found")
