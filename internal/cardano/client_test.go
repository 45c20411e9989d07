package cardano_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/nft_cover_downloader/internal/cardano"
)

const testPolicy = "c40ca49ac9fe48b86d6fd998645b5c8ac89a4e21e2cfdb9fdca3e7ac"

func TestClient_AssetsByPolicy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assets/policy/"+testPolicy, r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		assert.Equal(t, "asc", r.URL.Query().Get("order"))
		assert.Equal(t, "mainnetKEY", r.Header.Get("project_id"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"asset":"`+testPolicy+`01","quantity":"1"},{"asset":"`+testPolicy+`02","quantity":"0"}]`)
	}))
	defer ts.Close()

	client := cardano.NewClient(cardano.ClientOptions{BaseURL: ts.URL, ProjectID: "mainnetKEY"})

	assets, err := client.AssetsByPolicy(context.Background(), testPolicy, 2, 50)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	assert.Equal(t, testPolicy+"01", assets[0].Asset)
	assert.False(t, assets[0].Burned())
	assert.True(t, assets[1].Burned())
}

func TestClient_Asset(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/assets/"+testPolicy+"01", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"asset": "`+testPolicy+`01",
			"policy_id": "`+testPolicy+`",
			"asset_name": "01",
			"fingerprint": "asset1abc",
			"quantity": "1",
			"onchain_metadata": {"name": "Book", "files": [{"src": "ipfs://cid", "mediaType": "image/png"}]}
		}`)
	}))
	defer ts.Close()

	client := cardano.NewClient(cardano.ClientOptions{BaseURL: ts.URL})

	asset, err := client.Asset(context.Background(), testPolicy+"01")
	require.NoError(t, err)
	assert.Equal(t, testPolicy, asset.PolicyID)
	assert.Equal(t, "asset1abc", asset.Fingerprint)
	assert.Equal(t, "Book", asset.OnchainMetadata["name"])
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		body         string
		wantStatus   int
		wantMessage  string
		wantNotFound bool
	}{
		{
			name:         "not found",
			statusCode:   http.StatusNotFound,
			body:         `{"status_code":404,"error":"Not Found","message":"The requested component has not been found."}`,
			wantStatus:   http.StatusNotFound,
			wantMessage:  "The requested component has not been found.",
			wantNotFound: true,
		},
		{
			name:        "forbidden",
			statusCode:  http.StatusForbidden,
			body:        `{"status_code":403,"error":"Forbidden","message":"Invalid project token."}`,
			wantStatus:  http.StatusForbidden,
			wantMessage: "Invalid project token.",
		},
		{
			name:        "no body",
			statusCode:  http.StatusBadRequest,
			wantStatus:  http.StatusBadRequest,
			wantMessage: "400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()

			client := cardano.NewClient(cardano.ClientOptions{BaseURL: ts.URL})

			_, err := client.Asset(context.Background(), "anything")
			require.Error(t, err)

			var apiErr *cardano.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "asset", apiErr.Operation)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Contains(t, apiErr.Message, tt.wantMessage)
			assert.Equal(t, tt.wantNotFound, apiErr.NotFound())
		})
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer ts.Close()

	client := cardano.NewClient(cardano.ClientOptions{BaseURL: ts.URL, RetryCount: 3, RetryWait: time.Millisecond})

	assets, err := client.AssetsByPolicy(context.Background(), testPolicy, 1, 100)
	require.NoError(t, err)
	assert.Empty(t, assets)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := cardano.NewClient(cardano.ClientOptions{BaseURL: ts.URL, RetryCount: 3, RetryWait: time.Millisecond})

	_, err := client.Asset(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := cardano.NewClient(cardano.ClientOptions{BaseURL: url, Timeout: time.Second})

	_, err := client.AssetsByPolicy(context.Background(), testPolicy, 1, 100)
	require.Error(t, err)

	var apiErr *cardano.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Zero(t, apiErr.StatusCode)
	assert.Contains(t, err.Error(), "assets_by_policy failed")
}
