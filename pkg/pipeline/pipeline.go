// Package pipeline wires the acquisition stages together: resolve the
// day window, fetch from the receiver, convert to daily RINEX, upload to
// the archive, then apply the local retention policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
	"github.com/n8ur/gnss-ftp-tools/pkg/convert"
	"github.com/n8ur/gnss-ftp-tools/pkg/fetch"
	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
	"github.com/n8ur/gnss-ftp-tools/pkg/rinex"
	"github.com/n8ur/gnss-ftp-tools/pkg/store"
	"github.com/n8ur/gnss-ftp-tools/pkg/upload"
)

// Config is everything one run needs.
type Config struct {
	MeasurementPath string `validate:"required"`
	Host            string `validate:"required,fqdn|ip"`
	Station         string `validate:"required,max=20"`
	System          string // receiver's internal system name, defaults to the first label of Host
	Family          receiver.Family

	Window   acq.Window
	Force    bool // refetch and reconvert even when a day is already processed
	Metadata *convert.Metadata `validate:"required"`

	SFTPHost string
	SFTPUser string
	SFTPPass string

	Workers        int
	Retention      time.Duration
	FetchTimeout   time.Duration
	ConvertTimeout time.Duration
}

// DayError records one failed day without aborting the batch.
type DayError struct {
	Year, Doy int
	Err       error
}

func (e DayError) Error() string {
	return fmt.Sprintf("%d-%03d: %v", e.Year, e.Doy, e.Err)
}

// Summary is what one run accomplished.
type Summary struct {
	Fetched   int
	Converted int
	Uploaded  int
	Failed    []DayError
}

// fetcher, converter and uploader mirror the engines' surfaces so tests
// can substitute fakes.
type fetcher interface {
	Identify() (receiver.Family, error)
	Fetch(ctx context.Context, ref receiver.RemoteFile, destDir string) (string, int64, error)
	NewDays(layout receiver.Layout, known func(year, doy int) bool) ([]fetch.Discovery, error)
	Close() error
}

type converter interface {
	Convert(ctx context.Context, rawPath, destDir string, fam receiver.Family, t acq.Target, meta *convert.Metadata) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, localPath string) error
	Close() error
}

// Pipeline executes one acquisition run against one receiver.
type Pipeline struct {
	cfg Config
	inv *store.Inventory
	mgr *store.Manager

	dialFTP      func(ctx context.Context) (fetcher, error)
	newConverter func() (converter, error)
	dialSFTP     func() (uploader, error)
	now          func() time.Time
}

var validate = validator.New()

// New validates the configuration, prepares the measurement path trees
// and loads the local inventory.
func New(cfg Config) (*Pipeline, error) {
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("pipeline: invalid configuration: %w", err)
	}
	if err := cfg.Metadata.Validate(); err != nil {
		return nil, err
	}
	if cfg.System == "" {
		cfg.System, _, _ = strings.Cut(cfg.Host, ".")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 14 * 24 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	for _, sub := range []string{"download", "processed"} {
		if err := os.MkdirAll(filepath.Join(cfg.MeasurementPath, sub), 0o775); err != nil {
			return nil, fmt.Errorf("pipeline: preparing %s: %w", sub, err)
		}
	}

	inv, err := store.LoadInventory(cfg.MeasurementPath)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg: cfg,
		inv: inv,
		mgr: store.NewManager(cfg.MeasurementPath, cfg.Retention),
		now: time.Now,
	}
	p.dialFTP = func(ctx context.Context) (fetcher, error) {
		return fetch.Dial(ctx, cfg.Host, cfg.FetchTimeout)
	}
	p.newConverter = func() (converter, error) {
		return convert.NewEngine(cfg.ConvertTimeout)
	}
	p.dialSFTP = func() (uploader, error) {
		return upload.Dial(cfg.SFTPHost, cfg.SFTPUser, cfg.SFTPPass, cfg.FetchTimeout)
	}
	return p, nil
}

// Run executes the whole pipeline. A non-nil error means the run could
// not proceed at all (bad window, unreachable receiver, rejected
// credentials); per-day failures are collected in the summary instead.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	res := acq.Resolver{Now: p.now}
	targets, err := res.Resolve(p.cfg.Station, p.cfg.Window)
	if err != nil {
		return nil, err
	}

	if err := p.acquire(ctx, targets, sum); err != nil {
		return nil, err
	}
	if err := p.uploadConverted(ctx, sum); err != nil {
		return nil, err
	}
	p.housekeep()
	return sum, nil
}

// acquire runs the fetch/convert phase. The FTP session is only opened
// when at least one day actually needs fetching, so a rerun with nothing
// new makes no network calls at all.
func (p *Pipeline) acquire(ctx context.Context, targets []acq.Target, sum *Summary) error {
	allNew := p.cfg.Window.AllNew
	pending := targets[:0:0]
	for _, t := range targets {
		if !p.cfg.Force && !t.Partial && p.inv.HasDay(t.Station, t.Year, t.Doy) {
			log.Printf("pipeline: %s already processed, skipping", t)
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 && !allNew {
		return nil
	}

	eng, err := p.dialFTP(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	fam := p.cfg.Family
	if fam == receiver.FamilyUnknown {
		if fam, err = eng.Identify(); err != nil {
			return err
		}
		log.Printf("pipeline: %s identified as %s", p.cfg.Host, fam)
	}
	layout, err := receiver.LayoutFor(fam, p.cfg.System, p.cfg.Station)
	if err != nil {
		return err
	}

	// A day's work: the target plus the remote candidates to try.
	type workItem struct {
		t    acq.Target
		refs []receiver.RemoteFile
	}
	work := make([]workItem, 0, len(pending))
	for _, t := range pending {
		work = append(work, workItem{t: t, refs: layout.Resolve(t)})
	}

	if allNew {
		days, err := eng.NewDays(layout, func(year, doy int) bool {
			return !p.cfg.Force && p.inv.HasDay(p.cfg.Station, year, doy)
		})
		if err != nil {
			return err
		}
		for _, d := range days {
			// The enumeration already saw the actual files; fetch those
			// instead of probing every candidate name.
			t := acq.Target{Station: p.cfg.Station, Year: d.Year, Doy: d.Doy}
			work = append(work, workItem{t: t, refs: d.Files})
		}
		log.Printf("pipeline: %d new days on %s", len(days), p.cfg.Host)
	}

	conv, err := p.newConverter()
	if err != nil {
		return err
	}

	// Fetch serially over the single FTP session; convert concurrently
	// up to the worker bound.
	var (
		wg   sync.WaitGroup
		sem  = make(chan struct{}, p.cfg.Workers)
		mu   sync.Mutex
		fail = func(t acq.Target, err error) {
			mu.Lock()
			sum.Failed = append(sum.Failed, DayError{Year: t.Year, Doy: t.Doy, Err: err})
			mu.Unlock()
			log.Printf("W! pipeline: %s: %v", t, err)
		}
	)

	for _, w := range work {
		t := w.t
		if ctx.Err() != nil {
			break
		}
		rawPath, fetched, err := p.raw(ctx, eng, w.refs, t)
		if err != nil {
			fail(t, err)
			continue
		}
		if fetched {
			mu.Lock()
			sum.Fetched++
			mu.Unlock()
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(t acq.Target, rawPath string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.convertOne(ctx, conv, fam, t, rawPath); err != nil {
				fail(t, err)
				return
			}
			mu.Lock()
			sum.Converted++
			mu.Unlock()
		}(t, rawPath)
	}
	wg.Wait()
	return ctx.Err()
}

// raw returns the local raw file for a target, fetching it unless a
// usable one is already on disk from an earlier failed conversion.
func (p *Pipeline) raw(ctx context.Context, eng fetcher, refs []receiver.RemoteFile, t acq.Target) (string, bool, error) {
	name := rinex.DailyFileName(t.Station, t.Year, t.Doy)
	if rec, ok := p.inv.Lookup(name); ok && rec.Stage == store.StageRaw &&
		!rec.Partial && !t.Partial && !p.cfg.Force {
		if _, err := os.Stat(rec.Path); err == nil {
			log.Printf("pipeline: %s: reusing raw file %s", t, rec.Path)
			return rec.Path, false, nil
		}
	}

	downloadDir := filepath.Join(p.cfg.MeasurementPath, "download")
	var lastErr error
	for _, ref := range refs {
		path, size, err := eng.Fetch(ctx, ref, downloadDir)
		if err != nil {
			lastErr = err
			if errors.Is(err, fetch.ErrRemoteNotFound) {
				continue
			}
			return "", false, err
		}
		if err := p.inv.Put(store.Record{
			Name:      name,
			Path:      path,
			Stage:     store.StageRaw,
			SizeBytes: size,
			CreatedAt: p.now().UTC(),
			Partial:   t.Partial,
		}); err != nil {
			return "", false, err
		}
		return path, true, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no remote candidates for %s", fetch.ErrRemoteNotFound, t)
	}
	return "", false, lastErr
}

// convertOne produces the daily RINEX file and advances the record. The
// raw file is only removed once the conversion succeeded, so a toolchain
// failure can be retried by a later run without refetching.
func (p *Pipeline) convertOne(ctx context.Context, conv converter, fam receiver.Family, t acq.Target, rawPath string) error {
	processedDir := filepath.Join(p.cfg.MeasurementPath, "processed")
	out, err := conv.Convert(ctx, rawPath, processedDir, fam, t, p.cfg.Metadata)
	if err != nil {
		return err
	}
	fi, err := os.Stat(out)
	if err != nil {
		return err
	}
	name := rinex.DailyFileName(t.Station, t.Year, t.Doy)
	if err := p.inv.SetStage(name, store.StageConverted, out, fi.Size()); err != nil {
		return err
	}
	if out != rawPath {
		os.Remove(rawPath)
	}
	return nil
}

// uploadConverted pushes every record at stage converted. One session
// serves the whole batch; an authentication rejection aborts the run
// since it would fail for every remaining file too.
func (p *Pipeline) uploadConverted(ctx context.Context, sum *Summary) error {
	if p.cfg.SFTPHost == "" {
		return nil
	}

	var due []store.Record
	for _, rec := range p.inv.All() {
		if rec.Stage == store.StageConverted {
			due = append(due, rec)
		}
	}
	if len(due) == 0 {
		return nil
	}

	sess, err := p.dialSFTP()
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, rec := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := sess.Upload(ctx, rec.Path); err != nil {
			if errors.Is(err, upload.ErrAuth) || ctx.Err() != nil {
				return err
			}
			year, doy := dayOf(rec.Name)
			sum.Failed = append(sum.Failed, DayError{Year: year, Doy: doy, Err: err})
			log.Printf("W! pipeline: uploading %s: %v", rec.Name, err)
			continue
		}
		if err := p.inv.SetStage(rec.Name, store.StageUploaded, rec.Path, rec.SizeBytes); err != nil {
			return err
		}
		sum.Uploaded++
	}
	return nil
}

// housekeep compresses uploaded files and enforces the disk floor. A
// critical disk condition is reported but never fails the run; the
// day's data is already safe.
func (p *Pipeline) housekeep() {
	for _, rec := range p.inv.All() {
		if rec.Stage != store.StageUploaded || strings.HasSuffix(rec.Path, ".gz") {
			continue
		}
		if err := p.mgr.Compress(p.inv, rec); err != nil {
			log.Printf("W! pipeline: compressing %s: %v", rec.Name, err)
		}
	}
	if err := p.mgr.Reclaim(p.inv); err != nil {
		log.Printf("W! pipeline: %v", err)
	}
}

func dayOf(name string) (int, int) {
	if _, year, doy, ok := rinex.ParseDailyFileName(name); ok {
		return year, doy
	}
	return 0, 0
}
