// Package ftpclient wraps github.com/jlaffaye/ftp with exactly the
// primitives spec.md assumes available (CONNECT, LOGIN, CWD, SIZE,
// MDTM, STOR, RETR, LIST, MKD, DELE, QUIT, TYPE), per spec.md §1's
// "assumed available as a blocking client" boundary.
package ftpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// transfer types per the FTP TYPE command.
const (
	typeASCII  = "A"
	typeBinary = "I"
)

// Client is a single FTP session, owned by exactly one goroutine for
// its entire lifetime, per spec.md §5 ("Do not multiplex files over one
// session").
type Client struct {
	conn *ftp.ServerConn
}

// Dial connects and authenticates, per spec.md §4.G steps 1-2.
func Dial(ctx context.Context, addr, user, pass string, timeout time.Duration) (*Client, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("ftpclient: connect: %w", err)
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftpclient: login: %w", err)
	}
	return &Client{conn: conn}, nil
}

// ChangeDir issues CWD to the configured remote directory, step 3.
func (c *Client) ChangeDir(path string) error {
	if err := c.conn.ChangeDir(path); err != nil {
		return fmt.Errorf("ftpclient: cwd %s: %w", path, err)
	}
	return nil
}

// SetBinary switches the session to BINARY type, step 4 / step 10.
func (c *Client) SetBinary() error {
	return c.conn.Type(typeBinary)
}

// SetASCII switches the session to ASCII type, step 7.
func (c *Client) SetASCII() error {
	return c.conn.Type(typeASCII)
}

// SizeResult is the three-way outcome of a SIZE query from spec.md §4.G
// step 5.
type SizeResult int

const (
	// SizeUnknownUnsupported means the command failed/unsupported;
	// proceed without a size.
	SizeUnknownUnsupported SizeResult = iota
	// SizeNotFound means the remote reported "no such file"; skip this
	// candidate, it is not an error.
	SizeNotFound
	// SizeKnown means a numeric size was returned.
	SizeKnown
)

// Size queries the remote SIZE of path.
func (c *Client) Size(path string) (SizeResult, int64, error) {
	size, err := c.conn.FileSize(path)
	if err == nil {
		return SizeKnown, size, nil
	}
	if isNoSuchFile(err) {
		return SizeNotFound, 0, nil
	}
	return SizeUnknownUnsupported, 0, nil
}

func isNoSuchFile(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such file") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "550")
}

// ModTime queries the remote MDTM of path.
func (c *Client) ModTime(path string) (time.Time, error) {
	t, err := c.conn.GetTime(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("ftpclient: mdtm %s: %w", path, err)
	}
	return t, nil
}

// Store uploads r as path (STOR), step 9.
func (c *Client) Store(path string, r io.Reader) error {
	if err := c.conn.Stor(path, r); err != nil {
		return fmt.Errorf("ftpclient: stor %s: %w", path, err)
	}
	return nil
}

// MakeDir creates a remote directory, ignoring "already exists" errors
// (typically carrying a 550 code), per spec.md §4.G step 8.
func (c *Client) MakeDir(path string) error {
	err := c.conn.MakeDir(path)
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "exist") || strings.Contains(msg, "550") {
		return nil
	}
	return fmt.Errorf("ftpclient: mkd %s: %w", path, err)
}

// Delete removes a remote file (DELE).
func (c *Client) Delete(path string) error {
	if err := c.conn.Delete(path); err != nil {
		return fmt.Errorf("ftpclient: dele %s: %w", path, err)
	}
	return nil
}

// List returns the names present in the remote directory (used for the
// peer coordinator's listing-aware read, spec.md §4.D step 1).
func (c *Client) List(path string) ([]string, error) {
	entries, err := c.conn.List(path)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: list %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// Retrieve implements peercoord.Uploader: full-file RETR by name in the
// current directory.
func (c *Client) Retrieve(name string) ([]byte, error) {
	resp, err := c.conn.Retr(name)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: retr %s: %w", name, err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

// StoreFile implements peercoord.Uploader: STOR of an in-memory byte
// slice, used for the small _monitored.json document.
func (c *Client) StoreFile(name string, data []byte) error {
	return c.Store(name, bytes.NewReader(data))
}

// Quit closes the session (QUIT), per spec.md §4.G step 13.
func (c *Client) Quit() error {
	return c.conn.Quit()
}
