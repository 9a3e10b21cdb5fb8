package remote

import (
	"io"
	"sync"
)

// Serialize guards c with a mutex so that only one operation is in flight on
// the underlying connection. A reader returned by Retrieve holds the lock
// until it is closed.
func Serialize(c Client) Client {
	if _, ok := c.(*serialClient); ok {
		return c
	}
	return &serialClient{inner: c}
}

type serialClient struct {
	mu    sync.Mutex
	inner Client
}

func (s *serialClient) ChangeDir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.ChangeDir(path)
}

func (s *serialClient) List(path string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.List(path)
}

func (s *serialClient) Retrieve(path string) (io.ReadCloser, error) {
	s.mu.Lock()
	rc, err := s.inner.Retrieve(path)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return &lockedReader{ReadCloser: rc, unlock: s.mu.Unlock}, nil
}

func (s *serialClient) Store(path string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Store(path, r)
}

func (s *serialClient) MakeDir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.MakeDir(path)
}

func (s *serialClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner.Close()
}

type lockedReader struct {
	io.ReadCloser
	once   sync.Once
	unlock func()
}

func (l *lockedReader) Close() error {
	err := l.ReadCloser.Close()
	l.once.Do(l.unlock)
	return err
}
