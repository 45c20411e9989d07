package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// TempPrefix marks staging files. They are never reported by Exists.
	TempPrefix = ".tmp-"
)

// IOErrorKind classifies store failures.
type IOErrorKind string

const (
	KindPermission IOErrorKind = "permission"
	KindNoSpace    IOErrorKind = "no_space"
	KindPath       IOErrorKind = "path"
	KindIO         IOErrorKind = "io"
)

// IOError is a per-item failure writing into the store.
type IOError struct {
	Kind IOErrorKind
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("store %s error for %s: %v", e.Kind, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store keeps one file per distinct content ID under a root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at root. Nothing is created until the first Write; an
// existing root must be a directory.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}

	info, err := os.Stat(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, newIOError(root, err)
	case !info.IsDir():
		return nil, &IOError{Kind: KindPath, Path: root, Err: syscall.ENOTDIR}
	}

	return &Store{root: root}, nil
}

// Root returns the directory the store writes into.
func (s *Store) Root() string {
	return s.root
}

// Path returns where the file for id lives, whether or not it exists yet.
func (s *Store) Path(id ID) string {
	return filepath.Join(s.root, id.Filename())
}

// Exists reports whether a complete file for id is on disk.
func (s *Store) Exists(id ID) bool {
	if id.IsZero() {
		return false
	}

	info, err := os.Stat(s.Path(id))
	if err != nil {
		return false
	}

	return info.Mode().IsRegular()
}

// Write stores data for id. The bytes are staged in a temp file in the same directory
// and renamed into place, so an interrupted write never leaves a file Exists accepts.
func (s *Store) Write(ctx context.Context, id ID, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if id.IsZero() {
		return "", &IOError{Kind: KindPath, Path: s.root, Err: ErrInvalidID}
	}

	dest := s.Path(id)

	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return "", newIOError(dest, err)
	}

	tmp, err := os.CreateTemp(s.root, TempPrefix+id.Filename()+"-*")
	if err != nil {
		return "", newIOError(dest, err)
	}

	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpPath)

		return "", newIOError(dest, err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		_ = os.Remove(tmpPath)

		return "", newIOError(dest, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)

		return "", newIOError(dest, err)
	}

	syncDir(s.root)

	return dest, nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

// syncDir is best effort; not every platform supports fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}

	_ = d.Sync()
	_ = d.Close()
}

func newIOError(path string, err error) *IOError {
	return &IOError{Kind: classify(err), Path: path, Err: err}
}

func classify(err error) IOErrorKind {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, syscall.ENOSPC):
		return KindNoSpace
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.ENAMETOOLONG):
		return KindPath
	default:
		return KindIO
	}
}
