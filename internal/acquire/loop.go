package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/nft_cover_downloader/internal/logctx"
	"github.com/italolelis/nft_cover_downloader/internal/telemetry"
)

// Loop drives MetadataSource -> dedup check -> ContentFetcher -> ContentStore until the
// requested number of distinct files has been written or the candidates run out.
type Loop struct {
	source      MetadataSource
	fetcher     ContentFetcher
	store       ContentStore
	maxParallel int
	recorders   []Recorder
	prepare     []func(ctx context.Context) error
	telemetry   *telemetry.Telemetry
	now         func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxParallel allows up to n concurrent fetch+write workers. Values below 2 keep
// the loop strictly sequential.
func WithMaxParallel(n int) Option {
	return func(l *Loop) {
		if n < 1 {
			n = 1
		}

		l.maxParallel = n
	}
}

// WithRecorder registers an observer for every DownloadRecord.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) {
		if r != nil {
			l.recorders = append(l.recorders, r)
		}
	}
}

// WithPrepare registers a step that runs once the policy has been resolved and before
// the first candidate is pulled. Nothing registered here runs for a rejected policy.
func WithPrepare(fn func(ctx context.Context) error) Option {
	return func(l *Loop) {
		if fn != nil {
			l.prepare = append(l.prepare, fn)
		}
	}
}

// WithTelemetry enables outcome metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(l *Loop) {
		l.telemetry = t
	}
}

// NewLoop wires the three collaborators together.
func NewLoop(source MetadataSource, fetcher ContentFetcher, store ContentStore, opts ...Option) *Loop {
	l := &Loop{
		source:      source,
		fetcher:     fetcher,
		store:       store,
		maxParallel: 1,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Run acquires up to total distinct covers for policyID.
//
// A *FatalError is returned when the policy cannot be resolved; nothing is downloaded in
// that case. Per-candidate failures never surface as errors: they are in the Summary.
// When ctx is cancelled the Summary is still returned, together with ctx's error.
func (l *Loop) Run(ctx context.Context, policyID string, total int) (*Summary, error) {
	if total <= 0 {
		return nil, fmt.Errorf("total files must be positive, got %d", total)
	}

	logger := logctx.LoggerFromContext(ctx).With("policy_id", policyID)
	ctx = logctx.WithLogger(ctx, logger)

	startedAt := l.now()

	candidates, err := l.source.Resolve(ctx, policyID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to resolve collection", "err", err)

		return nil, &FatalError{PolicyID: policyID, Err: err}
	}

	for _, fn := range l.prepare {
		if err := fn(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare run: %w", err)
		}
	}

	logger.InfoContext(ctx, "acquiring covers", "total_files", total, "max_parallel", l.maxParallel)

	r := newRun(l, total)
	stop := r.drive(ctx, candidates)

	summary := &Summary{
		PolicyID:   policyID,
		Requested:  total,
		State:      r.state,
		Records:    r.records,
		StopReason: stop,
		SourceErr:  r.sourceErr,
		StartedAt:  startedAt,
		FinishedAt: l.now(),
	}

	logger.InfoContext(ctx, "acquisition finished",
		"stop_reason", summary.StopReason,
		"attempted", summary.State.Attempted,
		"succeeded", summary.State.Succeeded,
		"duplicates", summary.State.Duplicates,
		"failed", summary.State.Failed,
		"duration", summary.Duration().String(),
	)

	if stop == StopCancelled {
		return summary, ctx.Err()
	}

	return summary, nil
}

// run holds the mutable state of one Run. Everything below mu is guarded by it.
type run struct {
	loop  *Loop
	total int

	mu        sync.Mutex
	cond      *sync.Cond
	state     RunState
	inFlight  int
	claimed   map[string]struct{}
	records   []DownloadRecord
	sourceErr error
}

func newRun(l *Loop, total int) *run {
	r := &run{
		loop:    l,
		total:   total,
		claimed: make(map[string]struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	return r
}

// drive is the Running state. It returns once the run is Done and no worker is in flight.
func (r *run) drive(ctx context.Context, candidates CandidateIterator) StopReason {
	var wg errgroup.Group

	wg.SetLimit(r.loop.maxParallel)

	stop := r.pull(ctx, candidates, &wg)

	_ = wg.Wait()

	// A worker may have filled the cap while the producer was stopping for another reason.
	if stop != StopCancelled && r.state.Succeeded >= r.total {
		stop = StopCapReached
	}

	return stop
}

func (r *run) pull(ctx context.Context, candidates CandidateIterator, wg *errgroup.Group) StopReason {
	logger := logctx.LoggerFromContext(ctx)

	for {
		if !r.waitForCapacity() {
			return StopCapReached
		}

		if ctx.Err() != nil {
			return StopCancelled
		}

		cand, err := candidates.Next(ctx)
		if err != nil {
			var itemErr *ItemError

			switch {
			case errors.Is(err, ErrExhausted):
				return StopExhausted
			case errors.As(err, &itemErr):
				r.fail(ctx, cand, itemErr)

				continue
			case ctx.Err() != nil:
				return StopCancelled
			default:
				logger.ErrorContext(ctx, "candidate sequence failed", "err", err)

				r.mu.Lock()
				r.sourceErr = err
				r.mu.Unlock()

				return StopSourceFailed
			}
		}

		if !r.claim(ctx, cand) {
			continue
		}

		if r.loop.maxParallel <= 1 {
			r.acquire(ctx, cand)

			continue
		}

		wg.Go(func() error {
			r.acquire(ctx, cand)

			return nil
		})
	}
}

// waitForCapacity blocks while in-flight workers could still fill the cap and reports
// whether another candidate may be dispatched.
func (r *run) waitForCapacity() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.inFlight > 0 && r.state.Succeeded+r.inFlight >= r.total {
		r.cond.Wait()
	}

	return r.state.Succeeded < r.total
}

// claim takes ownership of the candidate's content id. Only the producer claims, so the
// disk probe cannot race with another claimer for the same key.
func (r *run) claim(ctx context.Context, cand Candidate) bool {
	key := cand.ContentID.Key()

	r.mu.Lock()
	_, taken := r.claimed[key]
	r.mu.Unlock()

	if taken || r.loop.store.Exists(cand.ContentID) {
		r.finish(ctx, DownloadRecord{
			AssetID:   cand.AssetID,
			ContentID: cand.ContentID,
			Path:      r.loop.store.Path(cand.ContentID),
			Outcome:   OutcomeAlreadyPresent,
		}, false)

		return false
	}

	r.mu.Lock()
	r.claimed[key] = struct{}{}
	r.inFlight++
	r.mu.Unlock()

	return true
}

func (r *run) acquire(ctx context.Context, cand Candidate) {
	rec := DownloadRecord{
		AssetID:   cand.AssetID,
		ContentID: cand.ContentID,
		Path:      r.loop.store.Path(cand.ContentID),
	}

	data, err := r.loop.fetcher.Fetch(ctx, cand.ContentID)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Err = &ItemError{Kind: ItemFetch, AssetID: cand.AssetID, Err: err}
		r.finish(ctx, rec, true)

		return
	}

	path, err := r.loop.store.Write(ctx, cand.ContentID, data)
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Err = &ItemError{Kind: ItemStore, AssetID: cand.AssetID, Err: err}
		r.finish(ctx, rec, true)

		return
	}

	rec.Path = path
	rec.Bytes = len(data)
	rec.Outcome = OutcomeSuccess
	r.finish(ctx, rec, true)
}

func (r *run) fail(ctx context.Context, cand Candidate, itemErr *ItemError) {
	r.finish(ctx, DownloadRecord{
		AssetID:   itemErr.AssetID,
		ContentID: cand.ContentID,
		Outcome:   OutcomeFailed,
		Err:       itemErr,
	}, false)
}

// finish appends the record, updates RunState and, for dispatched candidates, releases
// the in-flight slot. A failed claim is dropped so a later asset may retry the content.
func (r *run) finish(ctx context.Context, rec DownloadRecord, dispatched bool) {
	rec.RecordedAt = r.loop.now()
	if rec.Err != nil {
		rec.Reason = rec.Err.Error()
	}

	r.mu.Lock()

	if dispatched {
		r.inFlight--

		if rec.Outcome == OutcomeFailed {
			delete(r.claimed, rec.ContentID.Key())
		}
	}

	r.state.Attempted++

	switch rec.Outcome {
	case OutcomeSuccess:
		r.state.Succeeded++
	case OutcomeAlreadyPresent:
		r.state.Duplicates++
	case OutcomeFailed:
		r.state.Failed++
	}

	r.records = append(r.records, rec)
	r.cond.Broadcast()
	r.mu.Unlock()

	r.report(ctx, rec)
}

func (r *run) report(ctx context.Context, rec DownloadRecord) {
	logger := logctx.LoggerFromContext(ctx).With(
		"asset_id", rec.AssetID,
		"content_id", rec.ContentID.String(),
	)

	switch rec.Outcome {
	case OutcomeSuccess:
		logger.InfoContext(ctx, "cover downloaded", "path", rec.Path, "size", humanize.Bytes(uint64(rec.Bytes)))
		r.loop.telemetry.RecordBytesWritten(ctx, int64(rec.Bytes))
	case OutcomeAlreadyPresent:
		logger.InfoContext(ctx, "cover already present", "path", rec.Path)
	case OutcomeFailed:
		logger.ErrorContext(ctx, "failed to acquire cover", "reason", rec.Reason)
	}

	r.loop.telemetry.RecordCandidate(ctx, string(rec.Outcome))

	for _, recorder := range r.loop.recorders {
		recorder.Record(ctx, rec)
	}
}
