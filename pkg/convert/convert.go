// Package convert turns fetched receiver files into daily RINEX
// observation files. Trimble native files go through the runpkr00
// decoder and the teqc post-processor; Septentrio files arrive as RINEX
// already and only need the station metadata stamped into their header.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mholt/archiver/v3"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
	"github.com/n8ur/gnss-ftp-tools/pkg/coords"
	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
	"github.com/n8ur/gnss-ftp-tools/pkg/rinex"
)

// Errors returned by the conversion engine.
var (
	ErrMetadataTooLong    = errors.New("convert: metadata field exceeds RINEX header limit")
	ErrConversionTool     = errors.New("convert: external tool failed")
	ErrConversionTimeout  = errors.New("convert: external tool timed out")
	ErrHeaderInjection    = errors.New("convert: header injection failed")
	ErrNoObservationFound = errors.New("convert: no observation file in archive")
)

// Metadata is the station information stamped into every RINEX header.
// The length limits are the header field widths teqc enforces.
type Metadata struct {
	Organization  string `validate:"required,max=40"`
	User          string `validate:"required,max=20"`
	AntennaType   string `validate:"required,max=20"`
	AntennaNumber string `validate:"max=20"`
	MarkerNum     string `validate:"max=20"`
	Location      coords.Location
}

var validate = validator.New()

// Validate checks the header length limits up front, so a too-long field
// fails fast instead of surfacing as an opaque tool error.
func (m *Metadata) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrMetadataTooLong, err)
	}
	return nil
}

// Engine drives the external toolchain.
type Engine struct {
	Runpkr  string // path to the runpkr00 decoder
	Teqc    string // path to the teqc post-processor
	Timeout time.Duration
}

// NewEngine locates both external tools on PATH.
func NewEngine(timeout time.Duration) (*Engine, error) {
	runpkr, err := exec.LookPath("runpkr00")
	if err != nil {
		return nil, fmt.Errorf("%w: runpkr00 not found on PATH", ErrConversionTool)
	}
	teqc, err := exec.LookPath("teqc")
	if err != nil {
		return nil, fmt.Errorf("%w: teqc not found on PATH", ErrConversionTool)
	}
	return &Engine{Runpkr: runpkr, Teqc: teqc, Timeout: timeout}, nil
}

// Convert produces the daily RINEX observation file for one fetched raw
// file, writing it into destDir under the canonical daily name.
func (e *Engine) Convert(ctx context.Context, rawPath, destDir string, fam receiver.Family, t acq.Target, meta *Metadata) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, rinex.DailyFileName(t.Station, t.Year, t.Doy))

	input := rawPath
	if fam.Native() {
		tgd, err := e.decode(ctx, rawPath)
		if err != nil {
			return "", err
		}
		defer os.Remove(tgd)
		input = tgd
	} else {
		obs, cleanup, err := prepareObservation(rawPath)
		if err != nil {
			return "", err
		}
		defer cleanup()
		input = obs
	}

	if err := e.inject(ctx, fam, input, dest, t, meta); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// decode runs runpkr00 over a native .T00/.T02 file, producing the
// intermediate .tgd next to it.
func (e *Engine) decode(ctx context.Context, rawPath string) (string, error) {
	if _, err := e.run(ctx, e.Runpkr, nil, "-g", "-d", "-v", rawPath); err != nil {
		return "", err
	}
	tgd := strings.TrimSuffix(rawPath, filepath.Ext(rawPath)) + ".tgd"
	if fi, err := os.Stat(tgd); err != nil || fi.Size() == 0 {
		return "", fmt.Errorf("%w: runpkr00 produced no output for %s", ErrConversionTool, rawPath)
	}
	return tgd, nil
}

var obsInArchive = regexp.MustCompile(`\.\d{2}[oO]$`)

// prepareObservation readies a Septentrio download for header injection:
// zip archives are extracted and the observation file inside located,
// and known header defects are normalized so teqc accepts the file.
func prepareObservation(rawPath string) (string, func(), error) {
	cleanup := func() {}
	obs := rawPath

	if strings.EqualFold(filepath.Ext(rawPath), ".zip") {
		extractDir := rawPath + ".extracted"
		if err := archiver.Unarchive(rawPath, extractDir); err != nil {
			return "", cleanup, fmt.Errorf("%w: extracting %s: %v", ErrConversionTool, rawPath, err)
		}
		cleanup = func() { os.RemoveAll(extractDir) }

		found := ""
		err := filepath.Walk(extractDir, func(path string, fi os.FileInfo, err error) error {
			if err == nil && !fi.IsDir() && obsInArchive.MatchString(fi.Name()) {
				found = path
			}
			return err
		})
		if err != nil || found == "" {
			return "", cleanup, fmt.Errorf("%w: %s", ErrNoObservationFound, rawPath)
		}
		obs = found
	}

	fixed, err := normalizeToTemp(obs)
	if err != nil {
		return "", cleanup, err
	}
	prev := cleanup
	return fixed, func() { os.Remove(fixed); prev() }, nil
}

// normalizeToTemp writes a header-normalized copy of obs to a temp file.
func normalizeToTemp(obs string) (string, error) {
	in, err := os.Open(obs)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(obs), filepath.Base(obs)+".fixed-*")
	if err != nil {
		return "", err
	}
	if err := rinex.NormalizeHeader(in, out); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("%w: %s: %v", ErrHeaderInjection, obs, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// inject runs teqc over the intermediate file, stamping the station
// metadata into the header and writing the final observation file.
func (e *Engine) inject(ctx context.Context, fam receiver.Family, input, dest string, t acq.Target, meta *Metadata) error {
	args := teqcArgs(fam, t, meta)
	args = append(args, input)

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := e.run(ctx, e.Teqc, f, args...); err != nil {
		if fam.Native() {
			return err
		}
		return fmt.Errorf("%w: %v", ErrHeaderInjection, err)
	}

	fi, err := os.Stat(dest)
	if err != nil || fi.Size() == 0 {
		return fmt.Errorf("%w: teqc produced no output for %s", ErrConversionTool, input)
	}
	return nil
}

// teqcArgs builds the teqc invocation: translation flags for native
// input, then the header option set.
func teqcArgs(fam receiver.Family, t acq.Target, meta *Metadata) []string {
	var args []string
	if fam.Native() {
		args = append(args, "+C2", "-R")
	}
	args = append(args,
		"-O.mo", strings.ToUpper(t.Station),
		"-O.ag", meta.Organization,
		"-O.o", meta.User,
		"-O.at", meta.AntennaType,
	)
	if meta.MarkerNum != "" {
		args = append(args, "-O.mn", meta.MarkerNum)
	}
	if meta.AntennaNumber != "" {
		args = append(args, "-O.an", meta.AntennaNumber)
	}
	if c := meta.Location.Cartesian; c != nil {
		args = append(args, "-O.px", format9(c.X), format9(c.Y), format9(c.Z))
	} else if p := meta.Location.Geodetic; p != nil {
		args = append(args, "-O.pg", format9(p.Lat), format9(p.Lon), format9(p.Height))
	}
	return args
}

func format9(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.9f", v), "0"), ".")
}

// run executes one external tool with the engine timeout, capturing
// stderr for diagnostics. The process gets its own group so a timeout
// kill takes any children with it.
func (e *Engine) run(ctx context.Context, tool string, stdout *os.File, args ...string) (string, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole process group so a hung tool cannot hide
		// behind a child holding the pipes open.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 3 * time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if stdout != nil {
		cmd.Stdout = stdout
	}

	log.Printf("convert: running %s %s", tool, strings.Join(args, " "))
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w: %s after %s", ErrConversionTimeout, filepath.Base(tool), timeout)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrConversionTool, filepath.Base(tool), err, strings.TrimSpace(stderr.String()))
	}
	return stderr.String(), nil
}
