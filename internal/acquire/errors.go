package acquire

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection means the policy id is not a recognized collection.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrExhausted is returned by CandidateIterator.Next when the sequence is done.
	ErrExhausted = errors.New("candidate sequence exhausted")
)

// FatalError aborts a run before any download attempt.
type FatalError struct {
	PolicyID string
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("cannot acquire covers for policy %s: %v", e.PolicyID, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// ItemKind classifies per-candidate failures.
type ItemKind string

const (
	ItemMalformedMetadata ItemKind = "malformed_metadata"
	ItemMetadataLookup    ItemKind = "metadata_lookup"
	ItemFetch             ItemKind = "fetch"
	ItemStore             ItemKind = "store"
)

// ItemError is a per-candidate failure. It is recorded and the run continues.
type ItemError struct {
	Kind    ItemKind
	AssetID AssetID
	Err     error
}

func (e *ItemError) Error() string {
	if e.AssetID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return fmt.Sprintf("%s for asset %s: %v", e.Kind, e.AssetID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// FetchKind classifies content fetch failures.
type FetchKind string

const (
	FetchNotFound  FetchKind = "not_found"
	FetchTimeout   FetchKind = "timeout"
	FetchTransport FetchKind = "transport"
)

// FetchError is returned by ContentFetcher implementations.
type FetchError struct {
	Kind       FetchKind
	ContentID  string
	StatusCode int    // HTTP status code, if applicable
	Detail     string // human-readable detail for transport failures
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchNotFound:
		return fmt.Sprintf("content %s not found", e.ContentID)
	case e.Kind == FetchTimeout:
		return fmt.Sprintf("timed out fetching content %s", e.ContentID)
	case e.StatusCode > 0:
		return fmt.Sprintf("transport error fetching content %s (HTTP %d): %s", e.ContentID, e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("transport error fetching content %s: %s", e.ContentID, e.Detail)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a FetchError of kind NotFound.
func IsNotFound(err error) bool {
	var fe *FetchError

	return errors.As(err, &fe) && fe.Kind == FetchNotFound
}
