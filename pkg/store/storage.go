package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/mholt/archiver/v3"
	"golang.org/x/sys/unix"
)

// ErrDiskSpaceCritical is returned when purging every eligible file still
// leaves less free space than the configured floor.
var ErrDiskSpaceCritical = errors.New("store: free disk space below critical floor")

// DefaultMinFree is the free-space floor below which acquisition must not
// continue.
const DefaultMinFree int64 = 512 * 1024 * 1024

// Manager applies the retention policy to one measurement path.
type Manager struct {
	Root      string        // measurement path holding state.json and the data trees
	Retention time.Duration // minimum age before an uploaded file may be purged
	MinFree   int64         // free-space floor in bytes

	// now and freeBytes are replaceable for tests.
	now       func() time.Time
	freeBytes func(path string) (int64, error)
}

// NewManager returns a Manager with the default free-space floor.
func NewManager(root string, retention time.Duration) *Manager {
	return &Manager{
		Root:      root,
		Retention: retention,
		MinFree:   DefaultMinFree,
		now:       time.Now,
		freeBytes: statfsFree,
	}
}

func statfsFree(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("store: statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * st.Bsize, nil
}

// Reclaim purges uploaded files older than the retention period, oldest
// first, until the free-space floor is met. Files not yet uploaded are
// never purged. It returns ErrDiskSpaceCritical if the floor cannot be
// reached.
func (m *Manager) Reclaim(inv *Inventory) error {
	free, err := m.freeBytes(m.Root)
	if err != nil {
		return err
	}
	if free >= m.MinFree {
		return nil
	}

	cutoff := m.now().Add(-m.Retention)
	for _, rec := range inv.All() {
		if rec.Stage != StageUploaded || rec.CreatedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("W! store: purging %s: %v", rec.Path, err)
			continue
		}
		if err := inv.Remove(rec.Name); err != nil {
			return err
		}
		log.Printf("store: purged %s (%d bytes)", rec.Path, rec.SizeBytes)

		free += rec.SizeBytes
		if free >= m.MinFree {
			return nil
		}
	}

	return fmt.Errorf("%w: %d bytes free, %d required", ErrDiskSpaceCritical, free, m.MinFree)
}

// Compress gzips an uploaded file in place and updates its record to the
// .gz path. Already compressed files are left alone.
func (m *Manager) Compress(inv *Inventory, rec Record) error {
	if rec.Stage != StageUploaded {
		return fmt.Errorf("store: %s not uploaded yet", rec.Name)
	}
	gzPath := rec.Path + ".gz"
	if _, err := os.Stat(gzPath); err == nil {
		return nil
	}
	if err := archiver.CompressFile(rec.Path, gzPath); err != nil {
		return fmt.Errorf("store: compressing %s: %w", rec.Path, err)
	}
	if err := os.Remove(rec.Path); err != nil {
		return err
	}
	fi, err := os.Stat(gzPath)
	if err != nil {
		return err
	}
	return inv.SetStage(rec.Name, StageUploaded, gzPath, fi.Size())
}
