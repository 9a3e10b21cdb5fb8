package remote

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrUnavailable marks a path that is missing or not accessible. Callers treat
// it as recoverable: log, skip and continue. Any other error from a Client is
// a transport failure and should propagate.
var ErrUnavailable = errors.New("path unavailable")

// EntryType distinguishes files from directories in a listing
type EntryType int

const (
	EntryFile EntryType = iota
	EntryDir
)

func (t EntryType) String() string {
	if t == EntryDir {
		return "dir"
	}
	return "file"
}

// Entry is one child of a listed directory
type Entry struct {
	Name    string
	Type    EntryType
	Size    uint64
	ModTime time.Time
}

// Client is the directory capability set a replica exposes. All paths are
// absolute, slash-separated remote paths.
type Client interface {
	// ChangeDir enters path; it fails with ErrUnavailable if path is not an
	// accessible directory
	ChangeDir(path string) error
	// List returns the direct children of path
	List(path string) ([]Entry, error)
	// Retrieve opens the file at path for reading. The reader must be closed
	// before the next call on the same client.
	Retrieve(path string) (io.ReadCloser, error)
	// Store writes r to the file at path, replacing existing content
	Store(path string, r io.Reader) error
	// MakeDir creates a single directory
	MakeDir(path string) error
	// Close releases the connection
	Close() error
}

// Replica is one storage endpoint kept in sync
type Replica struct {
	ID          string
	DisplayName string
	Client      Client
}

// String returns the display name followed by the id
func (r *Replica) String() string {
	if r.DisplayName == "" || r.DisplayName == r.ID {
		return r.ID
	}
	return fmt.Sprintf("%s (%s)", r.DisplayName, r.ID)
}

// IsUnavailable reports whether err is a recoverable missing/permission error
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// PathError records the failed operation and path of a Client call
type PathError struct {
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// unavailable wraps err so that it matches ErrUnavailable while keeping the
// original cause in the message
func unavailable(op, p string, err error) error {
	return &PathError{Op: op, Path: p, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

// Join joins remote path segments with forward slashes
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Segments returns the cumulative prefixes of an absolute path, root-to-leaf.
// For "/a/b/c" it returns ["/a", "/a/b", "/a/b/c"].
func Segments(p string) []string {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	prefixes := make([]string, 0, len(parts))
	current := ""
	for _, part := range parts {
		current += "/" + part
		prefixes = append(prefixes, current)
	}
	return prefixes
}
