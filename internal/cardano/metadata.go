package cardano

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoMetadata means the asset was minted without on-chain metadata.
	ErrNoMetadata = errors.New("asset has no on-chain metadata")

	// ErrNoCover means the metadata has no usable files[0].src.
	ErrNoCover = errors.New("metadata has no cover file")
)

// CoverURI extracts the high-resolution cover location from CIP-25 metadata.
//
// The cover is files[0].src. Values longer than 64 characters are split into an array of
// string chunks on chain, so arrays are concatenated. The top-level image field is a
// thumbnail and is ignored.
func CoverURI(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", ErrNoMetadata
	}

	files, ok := meta["files"].([]any)
	if !ok || len(files) == 0 {
		return "", fmt.Errorf("%w: files is missing or empty", ErrNoCover)
	}

	file, ok := files[0].(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: files[0] is not an object", ErrNoCover)
	}

	src, ok := joinChunks(file["src"])
	if !ok || src == "" {
		return "", fmt.Errorf("%w: files[0].src is missing or not a string", ErrNoCover)
	}

	return src, nil
}

func joinChunks(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val), true
	case []any:
		var b strings.Builder

		for _, chunk := range val {
			s, ok := chunk.(string)
			if !ok {
				return "", false
			}

			b.WriteString(s)
		}

		return strings.TrimSpace(b.String()), true
	default:
		return "", false
	}
}
