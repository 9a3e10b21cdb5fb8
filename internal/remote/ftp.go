package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"time"

	"github.com/jlaffaye/ftp"
)

// FTPClient implements Client on top of a single FTP control connection.
// It is not safe for concurrent use; wrap it with Serialize when sharing.
type FTPClient struct {
	conn *ftp.ServerConn
}

// DialFTP connects and logs in to an FTP server
func DialFTP(ctx context.Context, addr, user, password string, timeout time.Duration) (*FTPClient, error) {
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("ftp dial %s: %w", addr, err)
	}

	if err := conn.Login(user, password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login %s as %s: %w", addr, user, err)
	}

	return &FTPClient{conn: conn}, nil
}

// ChangeDir implements Client
func (c *FTPClient) ChangeDir(path string) error {
	if err := c.conn.ChangeDir(path); err != nil {
		return classify("cwd", path, err)
	}
	return nil
}

// List implements Client
func (c *FTPClient) List(path string) ([]Entry, error) {
	raw, err := c.conn.List(path)
	if err != nil {
		return nil, classify("list", path, err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entry := Entry{
			Name:    e.Name,
			Type:    EntryFile,
			Size:    e.Size,
			ModTime: e.Time,
		}
		if e.Type == ftp.EntryTypeFolder {
			entry.Type = EntryDir
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Retrieve implements Client
func (c *FTPClient) Retrieve(path string) (io.ReadCloser, error) {
	resp, err := c.conn.Retr(path)
	if err != nil {
		return nil, classify("retr", path, err)
	}
	return resp, nil
}

// Store implements Client
func (c *FTPClient) Store(path string, r io.Reader) error {
	if err := c.conn.Stor(path, r); err != nil {
		return classify("stor", path, err)
	}
	return nil
}

// MakeDir implements Client
func (c *FTPClient) MakeDir(path string) error {
	if err := c.conn.MakeDir(path); err != nil {
		return classify("mkd", path, err)
	}
	return nil
}

// Close implements Client
func (c *FTPClient) Close() error {
	return c.conn.Quit()
}

// statusAlreadyExists is the non-standard reply some servers send to MKD on an
// existing directory
const statusAlreadyExists = 521

// classify maps FTP file-status replies (missing file, permission denied,
// bad name, already exists) to ErrUnavailable. Connection replies such as
// 421, 425, 426 and 530, and anything that is not a reply, are transport
// failures.
func classify(op, path string, err error) error {
	var reply *textproto.Error
	if errors.As(err, &reply) {
		switch reply.Code {
		case ftp.StatusFileActionIgnored, ftp.StatusFileUnavailable, ftp.StatusBadFileName, statusAlreadyExists:
			return unavailable(op, path, err)
		}
	}
	return &PathError{Op: op, Path: path, Err: err}
}
