package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"

	"github.com/italolelis/nft_cover_downloader/internal/content"
)

const testPolicy = "c40ca49ac9fe48b86d6fd998645b5c8ac89a4e21e2cfdb9fdca3e7ac"

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    arguments
		wantErr bool
	}{
		{"policy only", []string{"p"}, arguments{PolicyID: "p", WorkDir: ".", TotalFiles: 10}, false},
		{"work dir", []string{"p", "/covers"}, arguments{PolicyID: "p", WorkDir: "/covers", TotalFiles: 10}, false},
		{"all", []string{"p", "/covers", "3"}, arguments{PolicyID: "p", WorkDir: "/covers", TotalFiles: 3}, false},
		{"empty work dir", []string{"p", "", "3"}, arguments{PolicyID: "p", WorkDir: ".", TotalFiles: 3}, false},
		{"zero total", []string{"p", "/covers", "0"}, arguments{}, true},
		{"negative total", []string{"p", "/covers", "-2"}, arguments{}, true},
		{"not a number", []string{"p", "/covers", "ten"}, arguments{}, true},
		{"no args", nil, arguments{}, true},
		{"too many", []string{"p", "d", "1", "x"}, arguments{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// upstream fakes Blockfrost and the IPFS gateway for one collection.
func upstream(t *testing.T, covers map[string][]byte) (blockfrost, gateway *httptest.Server) {
	t.Helper()

	assets := make([]map[string]string, 0, len(covers))
	cids := make(map[string]string, len(covers))

	i := 0
	for name, payload := range covers {
		c, err := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: 0x12, MhLength: -1}.Sum(payload)
		require.NoError(t, err)

		asset := fmt.Sprintf("%s%02x", testPolicy, i)
		assets = append(assets, map[string]string{"asset": asset, "quantity": "1"})
		cids[asset] = c.String()
		cids[c.String()] = name
		i++
	}

	blockfrost = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if strings.HasPrefix(r.URL.Path, "/assets/policy/") {
			if r.URL.Query().Get("page") != "1" {
				_, _ = w.Write([]byte("[]"))

				return
			}

			_ = json.NewEncoder(w).Encode(assets)

			return
		}

		asset := strings.TrimPrefix(r.URL.Path, "/assets/")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"asset":            asset,
			"policy_id":        testPolicy,
			"quantity":         "1",
			"onchain_metadata": map[string]any{"files": []any{map[string]any{"src": "ipfs://" + cids[asset]}}},
		})
	}))
	t.Cleanup(blockfrost.Close)

	gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, ok := cids[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write(covers[name])
	}))
	t.Cleanup(gateway.Close)

	return blockfrost, gateway
}

func setEnv(t *testing.T, blockfrost, gateway *httptest.Server) {
	t.Helper()

	t.Setenv("BLOCKFROST_PROJECT_ID", "testKEY")
	t.Setenv("BLOCKFROST_BASE_URL", blockfrost.URL)
	t.Setenv("IPFS_GATEWAY_URL", gateway.URL)
	t.Setenv("COLLECTION_IDS", testPolicy)
	t.Setenv("HTTP_RETRIES", "0")
	t.Setenv("FETCH_MAX_ATTEMPTS", "1")
	t.Setenv("LOG_LEVEL", "ERROR")
}

func TestExecute_DownloadsCovers(t *testing.T) {
	blockfrost, gateway := upstream(t, map[string][]byte{
		"one":   []byte("cover one"),
		"two":   []byte("cover two"),
		"three": []byte("cover three"),
	})
	setEnv(t, blockfrost, gateway)

	workDir := filepath.Join(t.TempDir(), "covers")
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("LEDGER_PATH", ledgerPath)

	code := execute([]string{testPolicy, workDir, "2"})
	require.Equal(t, exitOK, code)

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	db, err := sql.Open("sqlite3", ledgerPath)
	require.NoError(t, err)
	defer db.Close()

	var stopReason string
	var succeeded int
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT stop_reason, succeeded FROM runs WHERE policy_id = ?`, testPolicy).Scan(&stopReason, &succeeded))
	assert.Equal(t, "cap_reached", stopReason)
	assert.Equal(t, 2, succeeded)

	// A second run finds everything on disk.
	code = execute([]string{testPolicy, workDir, "2"})
	require.Equal(t, exitOK, code)

	entries, err = os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestExecute_RejectedPolicyLeavesWorkDirUntouched(t *testing.T) {
	blockfrost, gateway := upstream(t, map[string][]byte{"one": []byte("cover one")})
	setEnv(t, blockfrost, gateway)

	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("LEDGER_PATH", ledgerPath)
	t.Setenv("STALE_TEMP_AGE", "1s")

	workDir := t.TempDir()
	stale := filepath.Join(workDir, content.TempPrefix+"cover-1")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	assert.Equal(t, exitFailure, execute([]string{strings.Repeat("0", 56), workDir}))
	assert.FileExists(t, stale, "stale files are only swept for an accepted policy")

	db, err := sql.Open("sqlite3", ledgerPath)
	require.NoError(t, err)
	defer db.Close()

	var stopReason string
	var finishedAt sql.NullString
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT stop_reason, finished_at FROM runs`).Scan(&stopReason, &finishedAt))
	assert.Equal(t, "fatal", stopReason)
	assert.True(t, finishedAt.Valid)

	assert.Equal(t, exitOK, execute([]string{testPolicy, workDir, "1"}))
	assert.NoFileExists(t, stale)
}

func TestExecute_ExitCodes(t *testing.T) {
	blockfrost, gateway := upstream(t, map[string][]byte{"one": []byte("cover one")})
	setEnv(t, blockfrost, gateway)

	workDir := t.TempDir()

	assert.Equal(t, exitFailure, execute([]string{"not-a-policy", workDir}), "invalid policy id")
	assert.Equal(t, exitFailure, execute([]string{strings.Repeat("0", 56), workDir}), "unlisted policy id")
	assert.Equal(t, exitUsage, execute([]string{testPolicy, workDir, "zero"}), "bad total_files")
	assert.Equal(t, exitUsage, execute(nil), "missing policy id")

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "fatal errors never write files")

	missing := filepath.Join(t.TempDir(), "covers")
	assert.Equal(t, exitFailure, execute([]string{"not-a-policy", missing}))
	assert.NoDirExists(t, missing, "a rejected policy must not create the work dir")

	t.Setenv("BLOCKFROST_PROJECT_ID", "")
	assert.Equal(t, exitUsage, execute([]string{testPolicy, workDir}), "missing credentials")
}
