package transfer

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Staging is the local scratch area every transferred file passes through.
// Each run owns one directory named after its run id; it is created on first
// use and removed by Close. Filesystem metadata calls are serialized since
// memfs is not safe for concurrent use.
type Staging struct {
	fs  billy.Filesystem
	dir string
	// base is removed on Close when the run created it
	base string

	mu sync.Mutex
}

// NewStaging stages files under runID on fs
func NewStaging(fs billy.Filesystem, runID string) *Staging {
	return &Staging{fs: fs, dir: "/" + runID}
}

// NewLocalStaging stages files on disk below baseDir. A baseDir created here
// is removed again by Close once no other run uses it.
func NewLocalStaging(baseDir, runID string) (*Staging, error) {
	_, statErr := os.Stat(baseDir)
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	s := NewStaging(osfs.New(baseDir), runID)
	if os.IsNotExist(statErr) {
		s.base = baseDir
	}
	return s, nil
}

// Dir returns the run directory relative to the staging filesystem
func (s *Staging) Dir() string {
	return s.dir
}

// Path returns the staging location of a file. The replica pair, game and
// snapshot qualify the name so that concurrent transfers never collide.
func (s *Staging) Path(source, target, game, snap, name string) string {
	return path.Join(s.dir, safe(source), safe(target), safe(game), safe(snap), safe(name))
}

// Put copies r into the staging file at p
func (s *Staging) Put(p string, r io.Reader) (int64, error) {
	f, err := s.create(p)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return n, err
	}
	if err := f.Close(); err != nil {
		return n, fmt.Errorf("close staging file: %w", err)
	}
	return n, nil
}

// Open opens a staged file for reading
func (s *Staging) Open(p string) (io.ReadCloser, error) {
	s.mu.Lock()
	f, err := s.fs.Open(p)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open staging file: %w", err)
	}
	return f, nil
}

// Exists reports whether the run directory is present
func (s *Staging) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.fs.Stat(s.dir)
	return err == nil
}

// Close removes the run directory and everything staged in it
func (s *Staging) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := util.RemoveAll(s.fs, s.dir); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	if s.base != "" {
		// fails harmlessly while a concurrent run still stages files there
		_ = os.Remove(s.base)
	}
	return nil
}

func (s *Staging) create(p string) (billy.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.MkdirAll(path.Dir(p), 0700); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	f, err := s.fs.Create(p)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return f, nil
}

// safe keeps a path element from escaping its parent
func safe(elem string) string {
	elem = strings.ReplaceAll(elem, "/", "_")
	if elem == "." || elem == ".." || elem == "" {
		return "_" + elem
	}
	return elem
}
