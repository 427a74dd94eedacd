// Package fetch downloads observation files from a receiver's anonymous
// FTP server, with retries on transient failures and staged writes so
// interrupted transfers never leave truncated files behind.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
)

// Errors returned by the fetch engine.
var (
	ErrConnection      = errors.New("fetch: receiver unreachable")
	ErrRemoteNotFound  = errors.New("fetch: file not found on receiver")
	ErrPartialTransfer = errors.New("fetch: transfer ended short of advertised size")
)

// Conn is the subset of an FTP session the engine uses. It exists so
// tests can run against a fake server.
type Conn interface {
	NameList(path string) ([]string, error)
	FileSize(path string) (int64, error)
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct{ c *ftp.ServerConn }

func (s serverConn) NameList(path string) ([]string, error) { return s.c.NameList(path) }
func (s serverConn) FileSize(path string) (int64, error)    { return s.c.FileSize(path) }
func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.c.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}
func (s serverConn) Quit() error { return s.c.Quit() }

// Engine fetches files over one FTP session.
type Engine struct {
	conn    Conn
	Retries uint64 // attempts beyond the first, per file
}

// Dial opens an anonymous FTP session to the receiver at host.
func Dial(ctx context.Context, host string, timeout time.Duration) (*Engine, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}
	c, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnection, host, err)
	}
	if err := c.Login("anonymous", "anonymous"); err != nil {
		c.Quit()
		return nil, fmt.Errorf("%w: %s: login: %v", ErrConnection, host, err)
	}
	return &Engine{conn: serverConn{c}, Retries: 2}, nil
}

// NewWithConn returns an engine over an existing connection, for tests.
func NewWithConn(conn Conn) *Engine {
	return &Engine{conn: conn, Retries: 2}
}

// Close ends the FTP session.
func (e *Engine) Close() error { return e.conn.Quit() }

// Identify determines the receiver family from the root directory layout.
func (e *Engine) Identify() (receiver.Family, error) {
	names, err := e.conn.NameList("/")
	if err != nil {
		return receiver.FamilyUnknown, fmt.Errorf("%w: listing root: %v", ErrConnection, err)
	}
	for i, n := range names {
		names[i] = strings.TrimPrefix(filepath.Base(n), "/")
	}
	fam := receiver.Identify(names)
	if fam == receiver.FamilyUnknown {
		return fam, fmt.Errorf("%w: root listing %v", receiver.ErrUnknownFamily, names)
	}
	return fam, nil
}

// Fetch downloads one remote file into destDir. The transfer is staged
// under a .part name and only renamed into place once the byte count
// matches the size the server advertises. Partial transfers are removed.
func (e *Engine) Fetch(ctx context.Context, ref receiver.RemoteFile, destDir string) (string, int64, error) {
	dest := filepath.Join(destDir, ref.Name)

	var size int64
	op := func() error {
		n, err := e.retrieve(ctx, ref, dest+".part")
		if err != nil {
			os.Remove(dest + ".part")
			if errors.Is(err, ErrRemoteNotFound) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			log.Printf("W! fetch: %s: %v (will retry)", ref.Path(), err)
			return err
		}
		size = n
		return nil
	}

	pol := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.Retries), ctx)
	if err := backoff.Retry(op, pol); err != nil {
		return "", 0, err
	}

	if err := os.Rename(dest+".part", dest); err != nil {
		return "", 0, err
	}
	return dest, size, nil
}

func (e *Engine) retrieve(ctx context.Context, ref receiver.RemoteFile, dest string) (int64, error) {
	remotePath := ref.Path()
	want, err := e.conn.FileSize(remotePath)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrRemoteNotFound, remotePath)
		}
		return 0, err
	}

	r, err := e.conn.Retr(remotePath)
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", ErrRemoteNotFound, remotePath)
		}
		return 0, err
	}
	defer r.Close()

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := copyCtx(ctx, f, r)
	if err != nil {
		return 0, err
	}
	// A still-recording file grows between the size query and the
	// transfer; the advertised size is meaningless for it.
	if n != want && !ref.Partial {
		return 0, fmt.Errorf("%w: %s: got %d of %d bytes", ErrPartialTransfer, remotePath, n, want)
	}
	return n, nil
}

// copyCtx copies in chunks, checking for cancellation between reads.
func copyCtx(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
		}
		if err == io.EOF {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}

func isNotFound(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code == 550
	}
	msg := err.Error()
	return strings.Contains(msg, "550") || strings.Contains(strings.ToLower(msg), "no such file")
}

// Discovery is a day found on the receiver during all-new enumeration.
type Discovery struct {
	Year, Doy int
	Files     []receiver.RemoteFile
}

// NewDays walks the receiver's directory tree for the layout and returns
// the days whose files are present remotely but reported unprocessed by
// known, sorted oldest first. Listing failures in one directory are
// logged and skipped so one bad directory does not abort the sweep.
func (e *Engine) NewDays(layout receiver.Layout, known func(year, doy int) bool) ([]Discovery, error) {
	days := make(map[[2]int]Discovery)

	for _, root := range layout.Roots() {
		entries, err := e.conn.NameList(root)
		if err != nil {
			log.Printf("W! fetch: listing %s: %v", root, err)
			continue
		}
		for _, entry := range entries {
			dir := strings.TrimPrefix(filepath.Base(entry), "/")
			if !layout.MatchDir(dir) {
				continue
			}
			full := path.Join(root, dir)
			names, err := e.conn.NameList(full)
			if err != nil {
				log.Printf("W! fetch: listing %s: %v", full, err)
				continue
			}
			for _, n := range names {
				name := filepath.Base(n)
				// .A files are the receiver's still-open session.
				if strings.HasSuffix(name, ".A") {
					continue
				}
				year, doy, ok := layout.DateOf(name)
				if !ok || known(year, doy) {
					continue
				}
				key := [2]int{year, doy}
				d := days[key]
				d.Year, d.Doy = year, doy
				d.Files = append(d.Files, receiver.RemoteFile{Dir: full, Name: name, Family: layout.Family()})
				days[key] = d
			}
		}
	}

	out := make([]Discovery, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Doy < out[j].Doy
	})
	return out, nil
}
