package acquire_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/content/contenttest"
)

// step is one element yielded by sliceIterator: a candidate or an error.
type step struct {
	cand acquire.Candidate
	err  error
}

// sliceSource resolves to a fixed sequence of steps.
type sliceSource struct {
	steps      []step
	resolveErr error

	resolves  atomic.Int32
	nextCalls atomic.Int32
}

func (s *sliceSource) Resolve(context.Context, string) (acquire.CandidateIterator, error) {
	s.resolves.Add(1)

	if s.resolveErr != nil {
		return nil, s.resolveErr
	}

	return &sliceIterator{src: s}, nil
}

type sliceIterator struct {
	src *sliceSource
	pos int
}

func (it *sliceIterator) Next(ctx context.Context) (acquire.Candidate, error) {
	it.src.nextCalls.Add(1)

	if err := ctx.Err(); err != nil {
		return acquire.Candidate{}, err
	}

	if it.pos >= len(it.src.steps) {
		return acquire.Candidate{}, acquire.ErrExhausted
	}

	s := it.src.steps[it.pos]
	it.pos++

	return s.cand, s.err
}

// fakeFetcher serves payloads keyed by content id and tracks concurrency.
type fakeFetcher struct {
	payloads map[string][]byte
	failures map[string]error
	delay    time.Duration

	mu       sync.Mutex
	calls    map[string]int
	inFlight int
	peak     int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, id content.ID) ([]byte, error) {
	key := id.Key()

	f.mu.Lock()
	f.calls[key]++
	f.inFlight++

	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}

	data, ok := f.payloads[key]
	failure := f.failures[key]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failure != nil {
		return nil, failure
	}

	if !ok {
		return nil, &acquire.FetchError{Kind: acquire.FetchNotFound, ContentID: id.String()}
	}

	return data, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, c := range f.calls {
		n += c
	}

	return n
}

func (f *fakeFetcher) callsFor(id content.ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[id.Key()]
}

func (f *fakeFetcher) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.peak
}

// fixture builds n distinct candidates, each with its own payload.
type fixture struct {
	source  *sliceSource
	fetcher *fakeFetcher
	ids     []content.ID
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()

	f := &fixture{source: &sliceSource{}, fetcher: newFakeFetcher()}

	for i := range n {
		payload := contenttest.PayloadFor(fmt.Sprintf("asset-%02d", i))
		id := contenttest.RawID(t, payload)

		f.ids = append(f.ids, id)
		f.fetcher.payloads[id.Key()] = payload
		f.source.steps = append(f.source.steps, step{cand: acquire.Candidate{
			AssetID:   acquire.AssetID(fmt.Sprintf("asset%02d", i)),
			ContentID: id,
		}})
	}

	return f
}

func newStore(t *testing.T) *content.Store {
	t.Helper()

	store, err := content.NewStore(t.TempDir())
	require.NoError(t, err)

	return store
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

// recorderFunc adapts a function to acquire.Recorder.
type recorderFunc func(ctx context.Context, rec acquire.DownloadRecord)

func (f recorderFunc) Record(ctx context.Context, rec acquire.DownloadRecord) {
	f(ctx, rec)
}

// failingStore wraps a real store and fails writes for selected ids.
type failingStore struct {
	*content.Store
	fail map[string]error
}

func (s *failingStore) Write(ctx context.Context, id content.ID, data []byte) (string, error) {
	if err, ok := s.fail[id.Key()]; ok {
		return "", err
	}

	return s.Store.Write(ctx, id, data)
}
