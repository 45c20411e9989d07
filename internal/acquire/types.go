package acquire

import (
	"context"
	"time"

	"github.com/italolelis/nft_cover_downloader/internal/content"
)

// AssetID identifies a collection member (policy id + hex asset name).
type AssetID string

// Candidate is one (asset, content id) pair produced by a MetadataSource.
type Candidate struct {
	AssetID   AssetID
	ContentID content.ID
}

// CandidateIterator yields candidates lazily, in upstream order.
//
// Next returns ErrExhausted when there is nothing left, an *ItemError when a single asset
// could not be resolved (the iterator stays usable), or any other error when the
// sequence itself broke.
type CandidateIterator interface {
	Next(ctx context.Context) (Candidate, error)
}

// MetadataSource validates a policy id and enumerates its candidates.
type MetadataSource interface {
	Resolve(ctx context.Context, policyID string) (CandidateIterator, error)
}

// ContentFetcher retrieves payload bytes from the content-addressed network.
type ContentFetcher interface {
	Fetch(ctx context.Context, id content.ID) ([]byte, error)
}

// ContentStore is the local, deduplicating destination for payloads.
type ContentStore interface {
	Exists(id content.ID) bool
	Write(ctx context.Context, id content.ID, data []byte) (string, error)
	Path(id content.ID) string
}

// Recorder observes every DownloadRecord as it is produced.
type Recorder interface {
	Record(ctx context.Context, rec DownloadRecord)
}

// Outcome is the result of processing one candidate.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeAlreadyPresent Outcome = "already_present"
	OutcomeFailed         Outcome = "failed"
)

// DownloadRecord is created once per candidate and never mutated afterwards.
type DownloadRecord struct {
	AssetID    AssetID
	ContentID  content.ID
	Path       string
	Outcome    Outcome
	Reason     string
	Bytes      int
	Err        error
	RecordedAt time.Time
}

// RunState counts outcomes. The cap is checked against Succeeded.
type RunState struct {
	Attempted  int
	Succeeded  int
	Duplicates int
	Failed     int
}

// StopReason tells why a run ended.
type StopReason string

const (
	StopCapReached   StopReason = "cap_reached"
	StopExhausted    StopReason = "exhausted"
	StopSourceFailed StopReason = "source_failed"
	StopCancelled    StopReason = "cancelled"
)

// Summary is the terminal state of a run.
type Summary struct {
	PolicyID   string
	Requested  int
	State      RunState
	Records    []DownloadRecord
	StopReason StopReason
	SourceErr  error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failures returns the failed records in the order they were produced.
func (s *Summary) Failures() []DownloadRecord {
	var failed []DownloadRecord

	for _, rec := range s.Records {
		if rec.Outcome == OutcomeFailed {
			failed = append(failed, rec)
		}
	}

	return failed
}

// Duration of the run.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
