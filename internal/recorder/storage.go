package recorder

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/spf13/afero"
)

// Store is the hierarchical writable store a session records into.
// Implementations can be OS-backed or in-memory. The dir argument of each
// method is a subdirectory of the store root; an empty dir addresses the root
// itself.
//
// A session must receive its Store explicitly at construction; it never
// reaches into ambient state for a storage root. Any cross-session sharing
// policy is the caller's responsibility.
type Store interface {
	// Writable probes that the store root exists and accepts writes. It is
	// the fatal precondition for starting a session.
	Writable() error
	EnsureDir(dir string) error
	// Create opens name inside dir truncated to empty, creating it if
	// needed. Used for the final artifact so a repeated base name starts
	// from a clean file.
	Create(dir, name string) (io.WriteCloser, error)
	// OpenAppend opens name inside dir for incremental append, creating it if
	// needed.
	OpenAppend(dir, name string) (io.WriteCloser, error)
	ReadAll(dir, name string) ([]byte, error)
	Size(dir, name string) (int64, error)
	Remove(dir, name string) error
	RemoveDir(dir string) error
}

// FsStore implements Store on an afero filesystem rooted at a directory.
type FsStore struct {
	fs   afero.Fs
	root string
}

// NewFsStore returns a store over fs rooted at root. The root directory is
// created lazily by Writable or EnsureDir.
func NewFsStore(fs afero.Fs, root string) *FsStore {
	return &FsStore{fs: fs, root: root}
}

// Writable implements Store. It creates the root if missing and verifies a
// file can be created and removed there.
func (s *FsStore) Writable() error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create store root %s: %w", s.root, err)
	}
	probe := path.Join(s.root, ".livedownload-probe")
	f, err := s.fs.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store root %s not writable: %w", s.root, err)
	}
	f.Close()
	if err := s.fs.Remove(probe); err != nil {
		return fmt.Errorf("store root %s not writable: %w", s.root, err)
	}
	return nil
}

// EnsureDir implements Store.
func (s *FsStore) EnsureDir(dir string) error {
	return s.fs.MkdirAll(path.Join(s.root, dir), 0o755)
}

// Create implements Store.
func (s *FsStore) Create(dir, name string) (io.WriteCloser, error) {
	return s.fs.OpenFile(path.Join(s.root, dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// OpenAppend implements Store.
func (s *FsStore) OpenAppend(dir, name string) (io.WriteCloser, error) {
	return s.fs.OpenFile(path.Join(s.root, dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// ReadAll implements Store.
func (s *FsStore) ReadAll(dir, name string) ([]byte, error) {
	return afero.ReadFile(s.fs, path.Join(s.root, dir, name))
}

// Size implements Store.
func (s *FsStore) Size(dir, name string) (int64, error) {
	info, err := s.fs.Stat(path.Join(s.root, dir, name))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove implements Store.
func (s *FsStore) Remove(dir, name string) error {
	return s.fs.Remove(path.Join(s.root, dir, name))
}

// RemoveDir implements Store. It removes only the directory entry itself, so
// a non-empty directory fails; callers treat that as tolerable.
func (s *FsStore) RemoveDir(dir string) error {
	return s.fs.Remove(path.Join(s.root, dir))
}
