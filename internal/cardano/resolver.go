// Package cardano resolves NFT collections on Cardano into cover candidates using the
// Blockfrost API and a collection registry.
package cardano

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

var policyIDPattern = regexp.MustCompile(`^[0-9a-f]{56}$`)

// ValidPolicyID reports whether s has the shape of a policy hash.
func ValidPolicyID(s string) bool {
	return policyIDPattern.MatchString(s)
}

// AssetLister is the subset of the Blockfrost client the resolver needs.
type AssetLister interface {
	AssetsByPolicy(ctx context.Context, policyID string, page, count int) ([]PolicyAsset, error)
	Asset(ctx context.Context, assetID string) (*Asset, error)
}

// Resolver implements acquire.MetadataSource.
type Resolver struct {
	assets   AssetLister
	registry Registry
	pageSize int
}

// NewResolver creates a resolver. A pageSize outside 1..MaxPageSize means MaxPageSize.
func NewResolver(assets AssetLister, registry Registry, pageSize int) *Resolver {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	return &Resolver{assets: assets, registry: registry, pageSize: pageSize}
}

var _ acquire.MetadataSource = (*Resolver)(nil)

// Resolve validates policyID and returns a lazy iterator over its assets.
func (r *Resolver) Resolve(ctx context.Context, policyID string) (acquire.CandidateIterator, error) {
	policy := strings.ToLower(strings.TrimSpace(policyID))

	if !ValidPolicyID(policy) {
		return nil, fmt.Errorf("%w: %q is not a 56 character hex policy id", acquire.ErrUnknownCollection, policyID)
	}

	known, err := r.registry.Contains(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection registry: %w", err)
	}

	if !known {
		return nil, fmt.Errorf("%w: policy %s is not a listed collection", acquire.ErrUnknownCollection, policy)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "collection validated", "policy_id", policy)

	return &candidates{
		assets:   r.assets,
		policyID: policy,
		pageSize: r.pageSize,
	}, nil
}

// candidates pages through the policy listing on demand and resolves one asset per Next.
type candidates struct {
	assets   AssetLister
	policyID string
	pageSize int

	page    int
	pending []PolicyAsset
	done    bool
}

func (c *candidates) Next(ctx context.Context) (acquire.Candidate, error) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		if len(c.pending) == 0 {
			if c.done {
				return acquire.Candidate{}, acquire.ErrExhausted
			}

			if err := c.fill(ctx); err != nil {
				return acquire.Candidate{}, err
			}

			continue
		}

		next := c.pending[0]
		c.pending = c.pending[1:]

		if next.Burned() {
			logger.DebugContext(ctx, "skipping burned asset", "asset_id", next.Asset)

			continue
		}

		return c.resolve(ctx, acquire.AssetID(next.Asset))
	}
}

func (c *candidates) fill(ctx context.Context) error {
	page := c.page + 1

	assets, err := c.assets.AssetsByPolicy(ctx, c.policyID, page, c.pageSize)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			c.done = true

			return nil
		}

		return fmt.Errorf("failed to list assets page %d: %w", page, err)
	}

	c.page = page
	c.pending = assets

	if len(assets) < c.pageSize {
		c.done = true
	}

	return nil
}

func (c *candidates) resolve(ctx context.Context, assetID acquire.AssetID) (acquire.Candidate, error) {
	asset, err := c.assets.Asset(ctx, string(assetID))
	if err != nil {
		return acquire.Candidate{AssetID: assetID}, &acquire.ItemError{
			Kind:    acquire.ItemMetadataLookup,
			AssetID: assetID,
			Err:     err,
		}
	}

	uri, err := CoverURI(asset.OnchainMetadata)
	if err != nil {
		return acquire.Candidate{AssetID: assetID}, &acquire.ItemError{
			Kind:    acquire.ItemMalformedMetadata,
			AssetID: assetID,
			Err:     err,
		}
	}

	id, err := content.ParseURI(uri)
	if err != nil {
		return acquire.Candidate{AssetID: assetID}, &acquire.ItemError{
			Kind:    acquire.ItemMalformedMetadata,
			AssetID: assetID,
			Err:     err,
		}
	}

	return acquire.Candidate{AssetID: assetID, ContentID: id}, nil
}
