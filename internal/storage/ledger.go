package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

// StopReasonFatal marks a run that ended before any candidate was processed.
const StopReasonFatal = "fatal"

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Ledger records one run into a RunWriteRepository. It implements acquire.Recorder.
//
// The ledger is an audit trail: write failures are logged and never fail the run.
type Ledger struct {
	repo  RunWriteRepository
	runID string
}

// BeginRun stores the start of run and returns a ledger bound to it. A zero StartedAt
// means now.
func BeginRun(ctx context.Context, repo RunWriteRepository, run Run) (*Ledger, error) {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	if err := repo.StartRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start run %s: %w", run.ID, err)
	}

	return &Ledger{repo: repo, runID: run.ID}, nil
}

// RunID returns the id of the run being recorded.
func (l *Ledger) RunID() string {
	return l.runID
}

// Record implements acquire.Recorder.
func (l *Ledger) Record(ctx context.Context, rec acquire.DownloadRecord) {
	err := l.repo.AppendRecord(ctx, Record{
		RunID:      l.runID,
		AssetID:    string(rec.AssetID),
		ContentID:  rec.ContentID.String(),
		Path:       rec.Path,
		Outcome:    string(rec.Outcome),
		Reason:     rec.Reason,
		Bytes:      rec.Bytes,
		RecordedAt: rec.RecordedAt,
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to append ledger record", "asset_id", rec.AssetID, "err", err)
	}
}

// Finish stores the terminal state of the run.
func (l *Ledger) Finish(ctx context.Context, summary *acquire.Summary) error {
	if err := l.repo.FinishRun(ctx, Run{
		ID:         l.runID,
		PolicyID:   summary.PolicyID,
		Requested:  summary.Requested,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		StopReason: string(summary.StopReason),
		Attempted:  summary.State.Attempted,
		Succeeded:  summary.State.Succeeded,
		Duplicates: summary.State.Duplicates,
		Failed:     summary.State.Failed,
	}); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", l.runID, err)
	}

	return nil
}

// Abort closes a run that never reached the acquisition loop, e.g. because the policy
// was rejected. Counters stay at zero.
func (l *Ledger) Abort(ctx context.Context, cause error) error {
	logctx.LoggerFromContext(ctx).DebugContext(ctx, "aborting ledger run", "run_id", l.runID, "cause", cause)

	if err := l.repo.FinishRun(ctx, Run{
		ID:         l.runID,
		FinishedAt: time.Now().UTC(),
		StopReason: StopReasonFatal,
	}); err != nil {
		return fmt.Errorf("failed to abort run %s: %w", l.runID, err)
	}

	return nil
}

var _ acquire.Recorder = (*Ledger)(nil)
