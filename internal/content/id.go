package content

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ipfs/go-cid"
)

// ErrInvalidID is returned when a metadata value cannot be parsed as a content identifier.
var ErrInvalidID = errors.New("invalid content identifier")

// ID is a content-addressed identifier: a root CID and an optional path inside it.
type ID struct {
	root cid.Cid
	path string
}

// NewID builds an ID from an already decoded CID.
func NewID(root cid.Cid, subPath string) ID {
	return ID{root: root, path: cleanSubPath(subPath)}
}

// ParseURI parses the forms found in on-chain metadata:
// ipfs://<cid>[/path], ipfs://ipfs/<cid>[/path], /ipfs/<cid>[/path] and a bare <cid>[/path].
func ParseURI(s string) (ID, error) {
	raw := strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(raw, "ipfs://"):
		raw = strings.TrimPrefix(raw, "ipfs://")
		raw = strings.TrimPrefix(raw, "ipfs/")
	case strings.HasPrefix(raw, "/ipfs/"):
		raw = strings.TrimPrefix(raw, "/ipfs/")
	case strings.Contains(raw, "://"):
		return ID{}, fmt.Errorf("%w: unsupported scheme in %q", ErrInvalidID, s)
	}

	rootPart, subPath, _ := strings.Cut(raw, "/")
	if rootPart == "" {
		return ID{}, fmt.Errorf("%w: empty cid in %q", ErrInvalidID, s)
	}

	root, err := cid.Decode(rootPart)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q: %w", ErrInvalidID, s, err)
	}

	return NewID(root, subPath), nil
}

// CID returns the root CID as it appeared in the metadata.
func (id ID) CID() cid.Cid {
	return id.root
}

// SubPath returns the path inside the root, or an empty string.
func (id ID) SubPath() string {
	return id.path
}

// IsZero reports whether the ID was never set.
func (id ID) IsZero() bool {
	return !id.root.Defined()
}

// String renders the ID the way gateways address it.
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}

	if id.path == "" {
		return id.root.String()
	}

	return id.root.String() + "/" + id.path
}

// Key is the dedup key. CIDv0 roots are upgraded to CIDv1 so both encodings of the
// same hash collapse onto one key.
func (id ID) Key() string {
	if id.IsZero() {
		return ""
	}

	root := id.root
	if root.Version() == 0 {
		root = cid.NewCidV1(cid.DagProtobuf, root.Hash())
	}

	if id.path == "" {
		return root.String()
	}

	return root.String() + "/" + id.path
}

// Filename is the deterministic on-disk name for the ID.
func (id ID) Filename() string {
	key := id.Key()

	root, rest, found := strings.Cut(key, "/")
	if !found {
		return root
	}

	return root + "_" + escape(rest)
}

func cleanSubPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}

	p = path.Clean(p)
	if p == "." {
		return ""
	}

	return p
}

// escape maps a sub-path onto a single path segment. Safe bytes are kept, '/' becomes
// '_' and every other byte (including '_' and '%') is written as %XX, so distinct
// sub-paths never share a name.
func escape(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		case c == '/':
			b.WriteByte('_')
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}

	return b.String()
}
