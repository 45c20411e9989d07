package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/nft_cover_downloader/internal/storage"
	"github.com/italolelis/nft_cover_downloader/internal/telemetry"
)

// InstrumentedRunRepository wraps RunRepository with telemetry.
type InstrumentedRunRepository struct {
	repo      *RunRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedRunRepository creates a new instrumented run repository.
func NewInstrumentedRunRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedRunRepository {
	return &InstrumentedRunRepository{
		repo:      NewRunRepository(dbConn),
		telemetry: tel,
	}
}

var _ storage.RunRepository = (*InstrumentedRunRepository)(nil)

// StartRun inserts a run with telemetry.
func (r *InstrumentedRunRepository) StartRun(ctx context.Context, run storage.Run) error {
	return r.telemetry.InstrumentDBOperation(ctx, "start_run", func(ctx context.Context) error {
		return r.repo.StartRun(ctx, run)
	})
}

// AppendRecord appends a record with telemetry.
func (r *InstrumentedRunRepository) AppendRecord(ctx context.Context, rec storage.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "append_record", func(ctx context.Context) error {
		return r.repo.AppendRecord(ctx, rec)
	})
}

// FinishRun updates a run with telemetry.
func (r *InstrumentedRunRepository) FinishRun(ctx context.Context, run storage.Run) error {
	return r.telemetry.InstrumentDBOperation(ctx, "finish_run", func(ctx context.Context) error {
		return r.repo.FinishRun(ctx, run)
	})
}

// GetRun retrieves a run with telemetry.
func (r *InstrumentedRunRepository) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	var result *storage.Run

	err := r.telemetry.InstrumentDBOperation(ctx, "get_run", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetRun(ctx, id)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetRecords retrieves the records of a run with telemetry.
func (r *InstrumentedRunRepository) GetRecords(ctx context.Context, runID string) ([]storage.Record, error) {
	var result []storage.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_records", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetRecords(ctx, runID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LatestRuns lists recent runs with telemetry.
func (r *InstrumentedRunRepository) LatestRuns(ctx context.Context, policyID string, limit int) ([]storage.Run, error) {
	var result []storage.Run

	err := r.telemetry.InstrumentDBOperation(ctx, "latest_runs", func(ctx context.Context) error {
		var err error

		result, err = r.repo.LatestRuns(ctx, policyID, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
