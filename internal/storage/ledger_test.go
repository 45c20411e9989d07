package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/content/contenttest"
	"github.com/italolelis/nft_cover_downloader/internal/storage"
	"github.com/italolelis/nft_cover_downloader/internal/storage/sqlite"
)

func TestLedger_RecordsRun(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRunRepository(db)
	runID := storage.NewRunID()

	ledger, err := storage.BeginRun(ctx, repo, storage.Run{ID: runID, PolicyID: "policy", WorkDir: "/covers", Requested: 3})
	require.NoError(t, err)
	assert.Equal(t, runID, ledger.RunID())

	id := contenttest.RawID(t, contenttest.PayloadFor("ledger"))
	now := time.Now()

	ledger.Record(ctx, acquire.DownloadRecord{
		AssetID:    "asset01",
		ContentID:  id,
		Path:       "/covers/x",
		Outcome:    acquire.OutcomeSuccess,
		Bytes:      42,
		RecordedAt: now,
	})
	ledger.Record(ctx, acquire.DownloadRecord{
		AssetID:    "asset02",
		Outcome:    acquire.OutcomeFailed,
		Reason:     "metadata_lookup for asset asset02: 404",
		RecordedAt: now,
	})

	require.NoError(t, ledger.Finish(ctx, &acquire.Summary{
		PolicyID:   "policy",
		Requested:  3,
		State:      acquire.RunState{Attempted: 2, Succeeded: 1, Failed: 1},
		StopReason: acquire.StopExhausted,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}))

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "exhausted", run.StopReason)
	assert.Equal(t, "/covers", run.WorkDir)
	assert.Equal(t, 1, run.Succeeded)

	records, err := repo.GetRecords(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, id.String(), records[0].ContentID)
	assert.Equal(t, "success", records[0].Outcome)
	assert.Empty(t, records[1].ContentID)
	assert.Equal(t, "failed", records[1].Outcome)
}

func TestLedger_AbortClosesRun(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := sqlite.NewRunRepository(db)
	runID := storage.NewRunID()

	ledger, err := storage.BeginRun(ctx, repo, storage.Run{ID: runID, PolicyID: "not-a-policy", WorkDir: "/covers", Requested: 3})
	require.NoError(t, err)

	require.NoError(t, ledger.Abort(ctx, acquire.ErrUnknownCollection))

	run, err := repo.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, storage.StopReasonFatal, run.StopReason)
	assert.False(t, run.FinishedAt.IsZero())
	assert.Zero(t, run.Attempted)

	records, err := repo.GetRecords(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLedger_WriteFailuresDoNotPanic(t *testing.T) {
	repo := &failingRepo{err: errors.New("database is locked"), failStart: true}

	_, err := storage.BeginRun(context.Background(), repo, storage.Run{ID: "r", PolicyID: "policy", Requested: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.err)

	repo.failStart = false

	ledger, err := storage.BeginRun(context.Background(), repo, storage.Run{ID: "r", PolicyID: "policy", Requested: 1})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		ledger.Record(context.Background(), acquire.DownloadRecord{AssetID: "a", Outcome: acquire.OutcomeSuccess})
	})

	err = ledger.Finish(context.Background(), &acquire.Summary{StopReason: acquire.StopCapReached})
	assert.ErrorIs(t, err, repo.err)

	err = ledger.Abort(context.Background(), acquire.ErrUnknownCollection)
	assert.ErrorIs(t, err, repo.err)
}

func TestNewRunID(t *testing.T) {
	a, b := storage.NewRunID(), storage.NewRunID()

	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

type failingRepo struct {
	err       error
	failStart bool
}

func (r *failingRepo) StartRun(context.Context, storage.Run) error {
	if r.failStart {
		return r.err
	}

	return nil
}

func (r *failingRepo) AppendRecord(context.Context, storage.Record) error {
	return r.err
}

func (r *failingRepo) FinishRun(context.Context, storage.Run) error {
	return r.err
}
