package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/util"

	"github.com/schaermu/savesync/internal/remote"
)

// SaveRoot is the save root used by fixtures
const SaveRoot = "/3ds/Checkpoint/saves"

// Logger returns a logger that only reports errors
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewReplica builds an in-memory replica whose filesystem holds files, keyed
// by absolute path
func NewReplica(t testing.TB, id string, files map[string]string) *remote.Replica {
	t.Helper()
	client := remote.NewMemoryClient()
	for p, content := range files {
		if err := util.WriteFile(client.Filesystem(), p, []byte(content), 0644); err != nil {
			t.Fatalf("write fixture %s on %s: %v", p, id, err)
		}
	}
	return &remote.Replica{ID: id, DisplayName: "Replica " + id, Client: client}
}

// Save returns the fixture path of a file inside a snapshot folder
func Save(game, snapshot, file string) string {
	return remote.Join(SaveRoot, game, snapshot, file)
}

// ReadFile reads a file from an in-memory replica
func ReadFile(t testing.TB, r *remote.Replica, p string) string {
	t.Helper()
	data, err := util.ReadFile(memory(t, r).Filesystem(), p)
	if err != nil {
		t.Fatalf("read %s on %s: %v", p, r.ID, err)
	}
	return string(data)
}

// Exists reports whether p exists on an in-memory replica
func Exists(t testing.TB, r *remote.Replica, p string) bool {
	t.Helper()
	_, err := memory(t, r).Filesystem().Stat(p)
	return err == nil
}

// Tree returns every file path on an in-memory replica with its content
func Tree(t testing.TB, r *remote.Replica) map[string]string {
	t.Helper()
	fs := memory(t, r).Filesystem()
	tree := make(map[string]string)
	err := util.Walk(fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, rerr := util.ReadFile(fs, p)
		if rerr != nil {
			return rerr
		}
		tree[p] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", r.ID, err)
	}
	return tree
}

func memory(t testing.TB, r *remote.Replica) *remote.FSClient {
	t.Helper()
	switch c := r.Client.(type) {
	case *remote.FSClient:
		return c
	case *FaultyClient:
		if fc, ok := c.Client.(*remote.FSClient); ok {
			return fc
		}
	}
	t.Fatalf("replica %s is not backed by memory", r.ID)
	return nil
}

// FaultyClient wraps a Client and fails selected operations. Keys of the
// maps are absolute paths.
type FaultyClient struct {
	remote.Client

	mu         sync.Mutex
	ListErr    map[string]error
	RetrErr    map[string]error
	StoreErr   map[string]error
	MkdirErr   map[string]error
	Calls      []string
	OnRetrieve func(path string)
}

// NewFaultyClient wraps inner
func NewFaultyClient(inner remote.Client) *FaultyClient {
	return &FaultyClient{
		Client:   inner,
		ListErr:  make(map[string]error),
		RetrErr:  make(map[string]error),
		StoreErr: make(map[string]error),
		MkdirErr: make(map[string]error),
	}
}

func (f *FaultyClient) record(op, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, op+" "+p)
}

// CallsOf returns recorded calls for op, sorted
func (f *FaultyClient) CallsOf(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.Calls {
		if len(c) > len(op) && c[:len(op)+1] == op+" " {
			out = append(out, c[len(op)+1:])
		}
	}
	sort.Strings(out)
	return out
}

// List implements remote.Client
func (f *FaultyClient) List(p string) ([]remote.Entry, error) {
	f.record("list", p)
	if err := f.ListErr[p]; err != nil {
		return nil, err
	}
	return f.Client.List(p)
}

// Retrieve implements remote.Client
func (f *FaultyClient) Retrieve(p string) (io.ReadCloser, error) {
	f.record("retr", p)
	if f.OnRetrieve != nil {
		f.OnRetrieve(p)
	}
	if err := f.RetrErr[p]; err != nil {
		return nil, err
	}
	return f.Client.Retrieve(p)
}

// Store implements remote.Client
func (f *FaultyClient) Store(p string, r io.Reader) error {
	f.record("stor", p)
	if err := f.StoreErr[p]; err != nil {
		return err
	}
	return f.Client.Store(p, r)
}

// MakeDir implements remote.Client
func (f *FaultyClient) MakeDir(p string) error {
	f.record("mkd", p)
	if err := f.MkdirErr[p]; err != nil {
		return err
	}
	return f.Client.MakeDir(p)
}

// Faulty replaces the client of r with a FaultyClient and returns it
func Faulty(r *remote.Replica) *FaultyClient {
	fc := NewFaultyClient(r.Client)
	r.Client = fc
	return fc
}

// Unavailable returns an error classified as recoverable
func Unavailable(op, p string) error {
	return &remote.PathError{Op: op, Path: p, Err: fmt.Errorf("%w: permission denied", remote.ErrUnavailable)}
}
