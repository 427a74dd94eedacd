// Package upload pushes converted observation files to the archive
// host's chrooted uploads directory over SFTP. One session serves a
// whole run; per-file transfers are retried, authentication failures
// abort immediately.
package upload

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Errors returned by the upload session.
var (
	ErrAuth     = errors.New("upload: authentication rejected")
	ErrTransfer = errors.New("upload: transfer failed")
)

// uploadsDir is the drop directory inside the chrooted account, created
// by the provisioning script and swept by the archive side.
const uploadsDir = "uploads"

// Client is the subset of an SFTP session used here, replaceable in
// tests.
type Client interface {
	Stat(path string) (os.FileInfo, error)
	Create(path string) (io.WriteCloser, error)
	Close() error
}

// sftpClient adapts *sftp.Client to Client: the concrete Create returns
// *sftp.File, which Go will not match against an interface result.
type sftpClient struct{ c *sftp.Client }

func (s sftpClient) Stat(path string) (os.FileInfo, error) { return s.c.Stat(path) }
func (s sftpClient) Create(path string) (io.WriteCloser, error) {
	f, err := s.c.Create(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}
func (s sftpClient) Close() error { return s.c.Close() }

// Session is a scoped connection to the archive host.
type Session struct {
	client  Client
	conn    io.Closer // underlying SSH connection, nil in tests
	Retries uint64    // attempts beyond the first, per file
}

// Dial connects and verifies the uploads directory exists. A rejected
// password is ErrAuth; the caller must not retry it per file.
func Dial(host, user, pass string, timeout time.Duration) (*Session, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	cfg := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{ssh.Password(pass)},
		// Receiver networks are closed; host keys are not managed.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
	conn, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %s@%s", ErrAuth, user, host)
		}
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrTransfer, addr, err)
	}

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: opening sftp subsystem: %v", ErrTransfer, err)
	}

	s := &Session{client: sftpClient{client}, conn: conn, Retries: 2}
	if _, err := client.Stat(uploadsDir); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: no %s/ directory for %s@%s: %v", ErrTransfer, uploadsDir, user, host, err)
	}
	return s, nil
}

// NewWithClient wraps an existing client, for tests.
func NewWithClient(c Client) *Session {
	return &Session{client: c, Retries: 2}
}

// Close releases the session and its SSH connection.
func (s *Session) Close() error {
	err := s.client.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Upload gzips localPath on the fly into uploads/<base>.gz on the
// archive host. Transient failures are retried with backoff; each
// attempt rewrites the remote file from the start.
func (s *Session) Upload(ctx context.Context, localPath string) error {
	remote := path.Join(uploadsDir, filepath.Base(localPath)+".gz")

	op := func() error {
		if err := s.put(localPath, remote); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isTransient(err) {
				return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrTransfer, remote, err))
			}
			log.Printf("W! upload: %s: %v (will retry)", remote, err)
			return fmt.Errorf("%w: %s: %v", ErrTransfer, remote, err)
		}
		return nil
	}

	pol := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.Retries), ctx)
	return backoff.Retry(op, pol)
}

func (s *Session) put(localPath, remote string) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.client.Create(remote)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timeout") ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
