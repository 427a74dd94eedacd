package fetch

import (
	"bytes"
	"context"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
)

// fakeConn serves canned directory listings and file bodies.
type fakeConn struct {
	listings map[string][]string
	files    map[string][]byte

	// shortBy truncates every transfer, simulating a dropped connection.
	shortBy int

	retrCalls int
}

func (f *fakeConn) NameList(path string) ([]string, error) {
	names, ok := f.listings[path]
	if !ok {
		return nil, &textproto.Error{Code: 550, Msg: "No such file or directory"}
	}
	return names, nil
}

func (f *fakeConn) FileSize(path string) (int64, error) {
	body, ok := f.files[path]
	if !ok {
		return 0, &textproto.Error{Code: 550, Msg: "No such file or directory"}
	}
	return int64(len(body)), nil
}

func (f *fakeConn) Retr(path string) (io.ReadCloser, error) {
	body, ok := f.files[path]
	if !ok {
		return nil, &textproto.Error{Code: 550, Msg: "No such file or directory"}
	}
	if f.shortBy > 0 && f.shortBy < len(body) {
		body = body[:len(body)-f.shortBy]
	}
	f.retrCalls++
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (f *fakeConn) Quit() error { return nil }

func TestFetch(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{
		files: map[string][]byte{
			"Internal/202506/netr9-1202506060000A.T02": bytes.Repeat([]byte{0xab}, 4096),
		},
	}
	eng := NewWithConn(conn)
	dir := t.TempDir()

	ref := receiver.RemoteFile{
		Dir:    "Internal/202506",
		Name:   "netr9-1202506060000A.T02",
		Family: receiver.FamilyNetR9,
	}
	path, size, err := eng.Fetch(context.Background(), ref, dir)
	assert.NoError(err)
	assert.Equal(int64(4096), size)
	assert.Equal(filepath.Join(dir, ref.Name), path)

	fi, err := os.Stat(path)
	assert.NoError(err)
	assert.Equal(int64(4096), fi.Size())
}

func TestFetchNotFoundIsPermanent(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{files: map[string][]byte{}}
	eng := NewWithConn(conn)

	ref := receiver.RemoteFile{Dir: "202506", Name: "hs01202506060000a.T00"}
	_, _, err := eng.Fetch(context.Background(), ref, t.TempDir())
	assert.ErrorIs(err, ErrRemoteNotFound)
	assert.Zero(conn.retrCalls, "no transfer attempted for a missing file")
}

func TestFetchPartialTransferLeavesNothing(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{
		files:   map[string][]byte{"202506/hs01202506060000a.T00": bytes.Repeat([]byte{1}, 1000)},
		shortBy: 100,
	}
	eng := NewWithConn(conn)
	eng.Retries = 1
	dir := t.TempDir()

	ref := receiver.RemoteFile{Dir: "202506", Name: "hs01202506060000a.T00"}
	_, _, err := eng.Fetch(context.Background(), ref, dir)
	assert.ErrorIs(err, ErrPartialTransfer)

	entries, err := os.ReadDir(dir)
	assert.NoError(err)
	assert.Empty(entries, "partial download must be removed")
}

func TestFetchGrowingFileIgnoresAdvertisedSize(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{
		files:   map[string][]byte{"202506/hs01202506060000a.T00.A": bytes.Repeat([]byte{1}, 1000)},
		shortBy: 100, // size changed between the query and the transfer
	}
	eng := NewWithConn(conn)
	dir := t.TempDir()

	ref := receiver.RemoteFile{Dir: "202506", Name: "hs01202506060000a.T00.A", Partial: true}
	path, size, err := eng.Fetch(context.Background(), ref, dir)
	assert.NoError(err, "a still-recording file never fails the size check")
	assert.Equal(int64(900), size)
	assert.FileExists(path)
}

func TestIdentify(t *testing.T) {
	conn := &fakeConn{listings: map[string][]string{
		"/": {"Internal", "External"},
	}}
	eng := NewWithConn(conn)
	fam, err := eng.Identify()
	assert.NoError(t, err)
	assert.Equal(t, receiver.FamilyNetR9, fam)
}

func TestNewDays(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{
		listings: map[string][]string{
			"Internal":        {"202505", "202506", "lost+found"},
			"Internal/202505": {"netr9-1202505310000A.T02"},
			"Internal/202506": {
				"netr9-1202506050000A.T02",
				"netr9-1202506060000A.T02",
				"netr9-1202506070000A.T02.A", // still recording
			},
			"External": {},
		},
	}
	eng := NewWithConn(conn)
	layout, err := receiver.LayoutFor(receiver.FamilyNetR9, "netr9-1", "hs01")
	assert.NoError(err)

	known := func(year, doy int) bool { return year == 2025 && doy == 156 } // June 5 already done
	days, err := eng.NewDays(layout, known)
	assert.NoError(err)

	assert.Len(days, 2)
	assert.Equal(2025, days[0].Year)
	assert.Equal(151, days[0].Doy) // May 31, oldest first
	assert.Equal(157, days[1].Doy) // June 6; the .A file was skipped
	assert.Equal("Internal/202506", days[1].Files[0].Dir)
}

func TestNewDaysContinuesPastListingFailure(t *testing.T) {
	assert := assert.New(t)
	conn := &fakeConn{
		listings: map[string][]string{
			// External root is missing entirely; Internal still works.
			"Internal":        {"202506"},
			"Internal/202506": {"netr9-1202506060000A.T02"},
		},
	}
	eng := NewWithConn(conn)
	layout, err := receiver.LayoutFor(receiver.FamilyNetR9, "netr9-1", "hs01")
	assert.NoError(err)

	days, err := eng.NewDays(layout, func(int, int) bool { return false })
	assert.NoError(err)
	assert.Len(days, 1)
}
