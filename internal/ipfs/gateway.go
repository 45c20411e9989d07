package ipfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/nft_cover_downloader/internal/acquire"
	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
	"github.com/italolelis/nft_cover_downloader/internal/progress"
)

const (
	projectIDHeader  = "project_id"
	maxErrorBodySize = 512
	progressInterval = 8 * 1024 * 1024
)

// Gateway fetches content through an IPFS HTTP gateway.
type Gateway struct {
	baseURL    string
	projectID  string
	maxSize    int64
	httpClient *http.Client
}

// NewGateway creates a gateway client. projectID is sent as the project_id header when
// set; maxSize bounds a single payload (0 disables the bound).
func NewGateway(baseURL, projectID string, timeout time.Duration, maxSize int64) *Gateway {
	return &Gateway{
		baseURL:   strings.TrimRight(baseURL, "/"),
		projectID: projectID,
		maxSize:   maxSize,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var _ acquire.ContentFetcher = (*Gateway)(nil)

// Fetch implements acquire.ContentFetcher.
func (g *Gateway) Fetch(ctx context.Context, id content.ID) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx).With("content_id", id.String())

	url := g.baseURL + "/" + id.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &acquire.FetchError{Kind: acquire.FetchTransport, ContentID: id.String(), Detail: "failed to create request", Err: err}
	}

	if g.projectID != "" {
		req.Header.Set(projectIDHeader, g.projectID)
	}

	logger.DebugContext(ctx, "fetching content", "url", url)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classify(id, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(id, resp); err != nil {
		return nil, err
	}

	if g.maxSize > 0 && resp.ContentLength > g.maxSize {
		return nil, &acquire.FetchError{
			Kind:      acquire.FetchTransport,
			ContentID: id.String(),
			Detail:    fmt.Sprintf("payload of %s exceeds limit of %s", humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(g.maxSize))),
		}
	}

	body := io.Reader(resp.Body)
	if g.maxSize > 0 {
		body = io.LimitReader(resp.Body, g.maxSize+1)
	}

	pr := progress.NewReader(body, resp.ContentLength, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "fetch progress",
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "fetch progress", "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	data, err := io.ReadAll(pr)
	if err != nil {
		return nil, classify(id, err)
	}

	if g.maxSize > 0 && int64(len(data)) > g.maxSize {
		return nil, &acquire.FetchError{
			Kind:      acquire.FetchTransport,
			ContentID: id.String(),
			Detail:    fmt.Sprintf("payload exceeds limit of %s", humanize.Bytes(uint64(g.maxSize))),
		}
	}

	if err := verify(id, data); err != nil {
		return nil, err
	}

	return data, nil
}

func checkStatus(id content.ID, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return &acquire.FetchError{Kind: acquire.FetchNotFound, ContentID: id.String(), StatusCode: resp.StatusCode}
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return &acquire.FetchError{Kind: acquire.FetchTimeout, ContentID: id.String(), StatusCode: resp.StatusCode}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	detail := strings.TrimSpace(string(snippet))
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	return &acquire.FetchError{
		Kind:       acquire.FetchTransport,
		ContentID:  id.String(),
		StatusCode: resp.StatusCode,
		Detail:     detail,
	}
}

func classify(id content.ID, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &acquire.FetchError{Kind: acquire.FetchTimeout, ContentID: id.String(), Err: err}
	}

	return &acquire.FetchError{Kind: acquire.FetchTransport, ContentID: id.String(), Detail: err.Error(), Err: err}
}

// verify checks raw-codec CIDs, whose hash covers exactly the payload bytes. Other codecs
// hash an encoded DAG node the gateway has already unpacked, so there is nothing to compare.
func verify(id content.ID, data []byte) error {
	root := id.CID()
	if id.SubPath() != "" || root.Prefix().Codec != cid.Raw {
		return nil
	}

	sum, err := root.Prefix().Sum(data)
	if err != nil {
		return &acquire.FetchError{Kind: acquire.FetchTransport, ContentID: id.String(), Detail: "cannot hash payload", Err: err}
	}

	if !sum.Equals(root) {
		return &acquire.FetchError{Kind: acquire.FetchTransport, ContentID: id.String(), Detail: "payload does not match content hash"}
	}

	return nil
}
