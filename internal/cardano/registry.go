package cardano

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

// DefaultCollectionsURL lists the collections published by book.io.
const DefaultCollectionsURL = "https://api.book.io/api/v0/collections"

// Registry decides whether a policy id is a known collection.
type Registry interface {
	Contains(ctx context.Context, policyID string) (bool, error)
}

// Collection is one entry of the collections listing.
type Collection struct {
	CollectionID string `json:"collection_id"`
	Description  string `json:"description"`
	Blockchain   string `json:"blockchain"`
	Network      string `json:"network"`
}

type collectionsResponse struct {
	Type string       `json:"type"`
	Data []Collection `json:"data"`
}

// HTTPRegistry queries a remote collections listing.
type HTTPRegistry struct {
	url  string
	http *resty.Client
}

// NewHTTPRegistry creates a registry backed by the listing at url.
func NewHTTPRegistry(url string, timeout time.Duration, retries int) *HTTPRegistry {
	if url == "" {
		url = DefaultCollectionsURL
	}

	client := resty.New().
		SetTransport(otelhttp.NewTransport(http.DefaultTransport)).
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		AddRetryCondition(retryable)

	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return &HTTPRegistry{url: url, http: client}
}

// Collections fetches the full listing.
func (r *HTTPRegistry) Collections(ctx context.Context) ([]Collection, error) {
	var out collectionsResponse

	resp, err := r.http.R().SetContext(ctx).SetResult(&out).Get(r.url)
	if err != nil {
		return nil, &APIError{Operation: "collections", Message: err.Error(), Err: err}
	}

	if resp.IsError() {
		return nil, &APIError{Operation: "collections", StatusCode: resp.StatusCode(), Message: strings.TrimSpace(resp.Status())}
	}

	return out.Data, nil
}

// Contains reports whether policyID is listed.
func (r *HTTPRegistry) Contains(ctx context.Context, policyID string) (bool, error) {
	collections, err := r.Collections(ctx)
	if err != nil {
		return false, err
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "fetched collection registry", "collections", len(collections))

	for _, c := range collections {
		if strings.EqualFold(c.CollectionID, policyID) {
			return true, nil
		}
	}

	return false, nil
}

// StaticRegistry is a fixed allow-list of policy ids.
type StaticRegistry map[string]struct{}

// NewStaticRegistry builds an allow-list from ids. Blank entries are ignored.
func NewStaticRegistry(ids ...string) StaticRegistry {
	r := make(StaticRegistry, len(ids))

	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			r[id] = struct{}{}
		}
	}

	return r
}

// Contains implements Registry.
func (r StaticRegistry) Contains(_ context.Context, policyID string) (bool, error) {
	_, ok := r[strings.ToLower(policyID)]

	return ok, nil
}
