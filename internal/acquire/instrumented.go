package acquire

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/telemetry"
)

// InstrumentedSource wraps MetadataSource with telemetry.
type InstrumentedSource struct {
	source     MetadataSource
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedSource creates a new instrumented metadata source.
func NewInstrumentedSource(source MetadataSource, tel *telemetry.Telemetry, clientType string) *InstrumentedSource {
	return &InstrumentedSource{
		source:     source,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Resolve validates the policy with telemetry.
func (s *InstrumentedSource) Resolve(ctx context.Context, policyID string) (CandidateIterator, error) {
	var result CandidateIterator

	err := s.telemetry.InstrumentClientOperation(ctx, s.clientType, "resolve", func(ctx context.Context) error {
		var err error

		result, err = s.source.Resolve(ctx, policyID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return &instrumentedIterator{next: result, telemetry: s.telemetry, clientType: s.clientType}, nil
}

type instrumentedIterator struct {
	next       CandidateIterator
	telemetry  *telemetry.Telemetry
	clientType string
}

// Next counts the end of the sequence as a successful operation.
func (it *instrumentedIterator) Next(ctx context.Context) (Candidate, error) {
	var (
		cand      Candidate
		exhausted bool
	)

	err := it.telemetry.InstrumentClientOperation(ctx, it.clientType, "next_candidate", func(ctx context.Context) error {
		var err error

		cand, err = it.next.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			exhausted = true

			return nil
		}

		return err
	})

	if exhausted {
		return Candidate{}, ErrExhausted
	}

	return cand, err
}

// InstrumentedFetcher wraps ContentFetcher with telemetry.
type InstrumentedFetcher struct {
	fetcher    ContentFetcher
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedFetcher creates a new instrumented content fetcher.
func NewInstrumentedFetcher(fetcher ContentFetcher, tel *telemetry.Telemetry, clientType string) *InstrumentedFetcher {
	return &InstrumentedFetcher{
		fetcher:    fetcher,
		telemetry:  tel,
		clientType: clientType,
	}
}

// Fetch retrieves content with telemetry.
func (f *InstrumentedFetcher) Fetch(ctx context.Context, id content.ID) ([]byte, error) {
	var result []byte

	start := time.Now()

	err := f.telemetry.InstrumentClientOperation(ctx, f.clientType, "fetch", func(ctx context.Context) error {
		var err error

		result, err = f.fetcher.Fetch(ctx, id)

		return err
	})

	status := "success"
	if err != nil {
		status = fetchStatus(err)
	}

	f.telemetry.RecordFetch(ctx, status, time.Since(start))

	if err != nil {
		return nil, err
	}

	return result, nil
}

func fetchStatus(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}

	return "error"
}
