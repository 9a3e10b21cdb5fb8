package remote

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
)

// FSClient implements Client over a go-billy filesystem. It serves replicas
// mounted as local directories (an SD card, a mirror on disk) and in-memory
// replicas in tests. MakeDir follows FTP semantics: a single level, failing
// when the directory already exists or the parent is missing.
type FSClient struct {
	fs billy.Filesystem
}

// NewFSClient wraps fs
func NewFSClient(fs billy.Filesystem) *FSClient {
	return &FSClient{fs: fs}
}

// NewLocalClient serves the directory tree under root
func NewLocalClient(root string) (*FSClient, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open local replica %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open local replica %s: not a directory", root)
	}
	return NewFSClient(osfs.New(root)), nil
}

// NewMemoryClient returns an empty in-memory replica
func NewMemoryClient() *FSClient {
	return NewFSClient(memfs.New())
}

// Filesystem exposes the underlying filesystem
func (c *FSClient) Filesystem() billy.Filesystem {
	return c.fs
}

// ChangeDir implements Client
func (c *FSClient) ChangeDir(p string) error {
	// the root of a replica always exists
	if path.Clean("/"+p) == "/" {
		return nil
	}
	info, err := c.fs.Stat(p)
	if err != nil {
		return c.wrap("cwd", p, err)
	}
	if !info.IsDir() {
		return unavailable("cwd", p, errors.New("not a directory"))
	}
	return nil
}

// List implements Client
func (c *FSClient) List(p string) ([]Entry, error) {
	infos, err := c.fs.ReadDir(p)
	if err != nil {
		return nil, c.wrap("list", p, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry := Entry{
			Name:    info.Name(),
			Type:    EntryFile,
			ModTime: info.ModTime(),
		}
		if info.IsDir() {
			entry.Type = EntryDir
		} else if info.Size() > 0 {
			entry.Size = uint64(info.Size())
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Retrieve implements Client
func (c *FSClient) Retrieve(p string) (io.ReadCloser, error) {
	info, err := c.fs.Stat(p)
	if err != nil {
		return nil, c.wrap("retr", p, err)
	}
	if info.IsDir() {
		return nil, unavailable("retr", p, errors.New("is a directory"))
	}
	f, err := c.fs.Open(p)
	if err != nil {
		return nil, c.wrap("retr", p, err)
	}
	return f, nil
}

// Store implements Client
func (c *FSClient) Store(p string, r io.Reader) error {
	if err := c.ChangeDir(path.Dir(p)); err != nil {
		return c.wrap("stor", p, err)
	}
	f, err := c.fs.Create(p)
	if err != nil {
		return c.wrap("stor", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return &PathError{Op: "stor", Path: p, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PathError{Op: "stor", Path: p, Err: err}
	}
	return nil
}

// MakeDir implements Client
func (c *FSClient) MakeDir(p string) error {
	if _, err := c.fs.Stat(p); err == nil {
		return unavailable("mkd", p, os.ErrExist)
	}
	if err := c.ChangeDir(path.Dir(p)); err != nil {
		return c.wrap("mkd", p, err)
	}
	if err := c.fs.MkdirAll(p, 0755); err != nil {
		return c.wrap("mkd", p, err)
	}
	return nil
}

// Close implements Client
func (c *FSClient) Close() error {
	return nil
}

func (c *FSClient) wrap(op, p string, err error) error {
	if IsUnavailable(err) {
		return err
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrExist) {
		return unavailable(op, p, err)
	}
	return &PathError{Op: op, Path: p, Err: err}
}
