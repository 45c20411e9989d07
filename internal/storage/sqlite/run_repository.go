package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/nft_cover_downloader/internal/storage"
)

// timeLayout has a fixed width so stored timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(dbConn *sql.DB) *RunRepository {
	return &RunRepository{db: dbConn}
}

// StartRun inserts a run with zero counters.
func (r *RunRepository) StartRun(ctx context.Context, run storage.Run) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (id, policy_id, work_dir, requested, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.PolicyID, run.WorkDir, run.Requested, run.StartedAt.UTC().Format(timeLayout),
	)

	return err
}

// AppendRecord adds one download record to a run.
func (r *RunRepository) AppendRecord(ctx context.Context, rec storage.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO records (run_id, asset_id, content_id, file_path, outcome, reason, bytes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.AssetID, rec.ContentID, rec.Path, rec.Outcome, rec.Reason, rec.Bytes,
		rec.RecordedAt.UTC().Format(timeLayout),
	)

	return err
}

// FinishRun stores the final counters and stop reason.
func (r *RunRepository) FinishRun(ctx context.Context, run storage.Run) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at = ?,
			stop_reason = ?,
			attempted = ?,
			succeeded = ?,
			duplicates = ?,
			failed = ?
		WHERE id = ?`,
		run.FinishedAt.UTC().Format(timeLayout), run.StopReason,
		run.Attempted, run.Succeeded, run.Duplicates, run.Failed,
		run.ID,
	)
	if err != nil {
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return storage.ErrRunNotFound
	}

	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, policy_id, work_dir, requested, started_at, finished_at, stop_reason, attempted, succeeded, duplicates, failed
		FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrRunNotFound
	}

	if err != nil {
		return nil, err
	}

	return run, nil
}

// LatestRuns returns the most recent runs for a policy, newest first.
func (r *RunRepository) LatestRuns(ctx context.Context, policyID string, limit int) ([]storage.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, policy_id, work_dir, requested, started_at, finished_at, stop_reason, attempted, succeeded, duplicates, failed
		FROM runs
		WHERE policy_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, policyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.Run

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, *run)
	}

	return runs, rows.Err()
}

// GetRecords returns the records of a run in the order they were appended.
func (r *RunRepository) GetRecords(ctx context.Context, runID string) ([]storage.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, asset_id, content_id, file_path, outcome, reason, bytes, recorded_at
		FROM records
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.Record

	for rows.Next() {
		var (
			rec                         storage.Record
			contentID, filePath, reason sql.NullString
			recordedAt                  string
		)

		if err := rows.Scan(&rec.RunID, &rec.AssetID, &contentID, &filePath, &rec.Outcome, &reason, &rec.Bytes, &recordedAt); err != nil {
			return nil, err
		}

		rec.ContentID = contentID.String
		rec.Path = filePath.String
		rec.Reason = reason.String
		rec.RecordedAt = parseTime(recordedAt)

		records = append(records, rec)
	}

	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*storage.Run, error) {
	var (
		run        storage.Run
		workDir    sql.NullString
		startedAt  string
		finishedAt sql.NullString
		stopReason sql.NullString
	)

	err := s.Scan(
		&run.ID, &run.PolicyID, &workDir, &run.Requested, &startedAt, &finishedAt, &stopReason,
		&run.Attempted, &run.Succeeded, &run.Duplicates, &run.Failed,
	)
	if err != nil {
		return nil, err
	}

	run.WorkDir = workDir.String
	run.StartedAt = parseTime(startedAt)
	run.StopReason = stopReason.String

	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}

	return &run, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}

	return t
}
