// Package store keeps the local file records that make repeated daily
// runs idempotent, and enforces the retention/disk-space policy over the
// download and processed trees.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/n8ur/gnss-ftp-tools/pkg/rinex"
)

// Stage is the pipeline stage a local file has reached.
type Stage string

// Stages, in pipeline order.
const (
	StageRaw       Stage = "raw"
	StageConverted Stage = "converted"
	StageUploaded  Stage = "uploaded"
)

var stageRank = map[Stage]int{StageRaw: 1, StageConverted: 2, StageUploaded: 3}

// AtLeast reports whether s has reached stage other.
func (s Stage) AtLeast(other Stage) bool {
	return stageRank[s] >= stageRank[other]
}

// Record is the source of truth for one day's file. Records are created
// on successful fetch and advance through the stages; they are only
// removed when the retention policy deletes the file.
type Record struct {
	Name      string    `json:"name"` // canonical daily observation name
	Path      string    `json:"path"`
	Stage     Stage     `json:"stage"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`

	// Partial marks a record fetched from the current, still-recording
	// day. It never counts as processed: the complete file must still
	// be acquired once the day is over.
	Partial bool `json:"partial,omitempty"`
}

const inventoryFile = "state.json"

// Inventory is the persistent record set for one measurement path. It is
// safe for concurrent use by fetch/convert workers.
type Inventory struct {
	path string

	mu      sync.Mutex
	records map[string]Record
}

// LoadInventory reads the inventory under dir, returning an empty one if
// none exists yet.
func LoadInventory(dir string) (*Inventory, error) {
	inv := &Inventory{
		path:    filepath.Join(dir, inventoryFile),
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(inv.path)
	if errors.Is(err, os.ErrNotExist) {
		return inv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: reading inventory: %w", err)
	}
	if err := json.Unmarshal(data, &inv.records); err != nil {
		return nil, fmt.Errorf("store: decoding inventory %s: %w", inv.path, err)
	}
	return inv, nil
}

// Lookup returns the record for a canonical daily name.
func (v *Inventory) Lookup(name string) (Record, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[name]
	return rec, ok
}

// HasDay reports whether the day already has a record at stage converted
// or beyond, the "already processed" check for all-new enumeration.
// Records from a partial (same-day) fetch do not count: the day still
// needs its complete file.
func (v *Inventory) HasDay(station string, year, doy int) bool {
	rec, ok := v.Lookup(rinex.DailyFileName(station, year, doy))
	return ok && rec.Stage.AtLeast(StageConverted) && !rec.Partial
}

// Put stores a record and persists the inventory.
func (v *Inventory) Put(rec Record) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.Name] = rec
	return v.save()
}

// SetStage advances a record to stage st with its new path and size.
func (v *Inventory) SetStage(name string, st Stage, path string, size int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[name]
	if !ok {
		return fmt.Errorf("store: no record for %s", name)
	}
	rec.Stage = st
	rec.Path = path
	rec.SizeBytes = size
	v.records[name] = rec
	return v.save()
}

// Remove drops a record and persists the inventory.
func (v *Inventory) Remove(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, name)
	return v.save()
}

// All returns the records sorted oldest first.
func (v *Inventory) All() []Record {
	v.mu.Lock()
	defer v.mu.Unlock()
	recs := make([]Record, 0, len(v.records))
	for _, rec := range v.records {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs
}

// save writes the inventory atomically. Callers hold v.mu.
func (v *Inventory) save() error {
	data, err := json.MarshalIndent(v.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o664); err != nil {
		return fmt.Errorf("store: writing inventory: %w", err)
	}
	return os.Rename(tmp, v.path)
}
