package storage

import (
	"context"
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the acquisition loop.
type Run struct {
	ID         string
	PolicyID   string
	WorkDir    string
	Requested  int
	StartedAt  time.Time
	FinishedAt time.Time
	StopReason string
	Attempted  int
	Succeeded  int
	Duplicates int
	Failed     int
}

// Record is the persisted form of one download record.
type Record struct {
	RunID      string
	AssetID    string
	ContentID  string
	Path       string
	Outcome    string
	Reason     string
	Bytes      int
	RecordedAt time.Time
}

// RunWriteRepository persists runs and their records.
type RunWriteRepository interface {
	StartRun(ctx context.Context, run Run) error
	AppendRecord(ctx context.Context, rec Record) error
	FinishRun(ctx context.Context, run Run) error
}

// RunReadRepository queries past runs.
type RunReadRepository interface {
	GetRun(ctx context.Context, id string) (*Run, error)
	GetRecords(ctx context.Context, runID string) ([]Record, error)
	LatestRuns(ctx context.Context, policyID string, limit int) ([]Run, error)
}

// RunRepository is the full ledger.
type RunRepository interface {
	RunReadRepository
	RunWriteRepository
}
