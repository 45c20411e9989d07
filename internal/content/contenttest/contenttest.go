// Package contenttest builds content identifiers for tests.
package contenttest

import (
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/italolelis/nft_cover_downloader/internal/content"
)

const sha2_256 = 0x12

// RawCID returns the CIDv1 (raw codec, sha2-256) of data.
func RawCID(t testing.TB, data []byte) cid.Cid {
	t.Helper()

	c, err := cid.Prefix{Version: 1, Codec: cid.Raw, MhType: sha2_256, MhLength: -1}.Sum(data)
	if err != nil {
		t.Fatalf("failed to build cid: %v", err)
	}

	return c
}

// RawID returns a content.ID addressing data directly.
func RawID(t testing.TB, data []byte) content.ID {
	t.Helper()

	return content.NewID(RawCID(t, data), "")
}

// PayloadFor returns a distinct payload per name, convenient for fakes.
func PayloadFor(name string) []byte {
	return []byte("cover image bytes for " + name)
}
