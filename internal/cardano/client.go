package cardano

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

// DefaultBaseURL is the Blockfrost Cardano mainnet API.
const DefaultBaseURL = "https://cardano-mainnet.blockfrost.io/api/v0"

// MaxPageSize is the largest page Blockfrost serves.
const MaxPageSize = 100

// ClientOptions configures a Blockfrost client.
type ClientOptions struct {
	BaseURL   string
	ProjectID string
	Timeout   time.Duration
	// RetryCount is the number of extra attempts for 429, 5xx and transport errors.
	RetryCount int
	RetryWait  time.Duration
}

// Client talks to the Blockfrost Cardano API.
type Client struct {
	http *resty.Client
}

// PolicyAsset is one entry of a policy listing.
type PolicyAsset struct {
	Asset    string `json:"asset"`
	Quantity string `json:"quantity"`
}

// Burned reports whether no unit of the asset is left in circulation.
func (a PolicyAsset) Burned() bool {
	q, err := strconv.ParseUint(strings.TrimSpace(a.Quantity), 10, 64)

	return err == nil && q == 0
}

// Asset holds the asset details used to locate its cover.
type Asset struct {
	Asset           string         `json:"asset"`
	PolicyID        string         `json:"policy_id"`
	AssetName       string         `json:"asset_name"`
	Fingerprint     string         `json:"fingerprint"`
	Quantity        string         `json:"quantity"`
	OnchainMetadata map[string]any `json:"onchain_metadata"`
}

type apiErrorBody struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// NewClient creates a Blockfrost client.
func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount).
		AddRetryCondition(retryable)

	if opts.ProjectID != "" {
		httpClient.SetHeader("project_id", opts.ProjectID)
	}

	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	if opts.RetryWait > 0 {
		httpClient.SetRetryWaitTime(opts.RetryWait).SetRetryMaxWaitTime(8 * opts.RetryWait)
	}

	return &Client{http: httpClient}
}

// AssetsByPolicy returns one page (1-based) of the assets minted under policyID, oldest first.
func (c *Client) AssetsByPolicy(ctx context.Context, policyID string, page, count int) ([]PolicyAsset, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "assets_by_policy", "page", page)

	var assets []PolicyAsset

	req := c.http.R().
		SetContext(ctx).
		SetPathParam("policy", policyID).
		SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"count": strconv.Itoa(count),
			"order": "asc",
		}).
		SetResult(&assets)

	if err := c.do(req, "assets_by_policy", "/assets/policy/{policy}"); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "listed policy assets", "count", len(assets))

	return assets, nil
}

// Asset returns the details of a single asset, including its on-chain metadata.
func (c *Client) Asset(ctx context.Context, assetID string) (*Asset, error) {
	var asset Asset

	req := c.http.R().
		SetContext(ctx).
		SetPathParam("asset", assetID).
		SetResult(&asset)

	if err := c.do(req, "asset", "/assets/{asset}"); err != nil {
		return nil, err
	}

	return &asset, nil
}

func (c *Client) do(req *resty.Request, operation, path string) error {
	var body apiErrorBody

	resp, err := req.SetError(&body).Get(path)
	if err != nil {
		return &APIError{Operation: operation, Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		msg := body.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.Status())
		}

		return &APIError{Operation: operation, StatusCode: resp.StatusCode(), Message: msg}
	}

	return nil
}

func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return resp == nil || resp.Request == nil || resp.Request.Context().Err() == nil
	}

	return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
}

// APIError is returned for failed Blockfrost or registry calls.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
	}

	return fmt.Sprintf("%s failed with status %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the upstream answered 404.
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}
