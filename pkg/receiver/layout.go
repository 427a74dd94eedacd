package receiver

import (
	"fmt"
	"path"
	"regexp"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
)

// RemoteFile is one candidate file on the receiver for a target day.
type RemoteFile struct {
	Dir    string // remote directory
	Name   string // remote file name
	Family Family

	// Partial marks the current day's still-growing recording; its size
	// can change between the size query and the transfer.
	Partial bool
}

// Path is the full remote path.
func (r RemoteFile) Path() string {
	return path.Join(r.Dir, r.Name)
}

// Layout maps acquisition targets to the remote paths a receiver family
// actually uses. There is one variant per family; adding a family means
// adding a variant, never special-casing station names in the fetch
// path.
type Layout interface {
	Family() Family

	// Resolve returns the candidate remote files for a target, in
	// preference order.
	Resolve(t acq.Target) []RemoteFile

	// Roots are the remote directories that hold day-keyed
	// subdirectories, for all-new enumeration.
	Roots() []string

	// MatchDir reports whether a directory entry under a root holds
	// day data.
	MatchDir(name string) bool

	// DateOf extracts (year, doy) from a remote data filename.
	DateOf(name string) (year, doy int, ok bool)
}

// LayoutFor builds the layout variant for a family. system is the
// receiver's configured internal system name, station the station ID
// used in output filenames.
func LayoutFor(f Family, system, station string) (Layout, error) {
	switch f {
	case FamilyNetRS:
		return &NetRSLayout{System: system}, nil
	case FamilyNetR8:
		return &NetR8Layout{System: system}, nil
	case FamilyNetR9:
		return &NetR9Layout{System: system}, nil
	case FamilyMosaic:
		return &MosaicLayout{Station: station}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownFamily, f)
}

var (
	netrsDatePattern  = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})\d{4}a\.T0[02]$`)
	netr9DatePattern  = regexp.MustCompile(`(\d{4})(\d{2})(\d{2})\d{4}A\.T0[02]$`)
	mosaicDatePattern = regexp.MustCompile(`(\d{3})0\.(\d{2})[oO]$`)
)

// NetRSLayout is the NetRS convention: YYYYMM month directories at the
// FTP root, files named <system><YYYYMMDD>0000a.T00 with a lowercase
// session letter. System must equal the receiver's configured system
// name; the tooling assumes that name equals the network hostname, which
// the operator has to guarantee, it cannot be validated here.
type NetRSLayout struct {
	System string
}

func (l *NetRSLayout) Family() Family { return FamilyNetRS }

func (l *NetRSLayout) Resolve(t acq.Target) []RemoteFile {
	date := t.Date().Format("20060102")
	dir := t.Date().Format("200601")
	files := make([]RemoteFile, 0, 2)
	for _, ext := range []string{".T00", ".T02"} {
		files = append(files, RemoteFile{
			Dir:     dir,
			Name:    fmt.Sprintf("%s%s0000a%s%s", l.System, date, ext, openSuffix(t)),
			Family:  FamilyNetRS,
			Partial: t.Partial,
		})
	}
	return files
}

func (l *NetRSLayout) Roots() []string { return []string{"."} }

func (l *NetRSLayout) MatchDir(name string) bool { return isMonthDir(name) }

func (l *NetRSLayout) DateOf(name string) (int, int, bool) {
	return calendarDate(netrsDatePattern, name)
}

// NetR8Layout is the NetR8 convention: month directories under the
// Internal/ logging volume, files with an uppercase session letter. The
// system-name-equals-hostname caveat of NetRSLayout applies here too.
type NetR8Layout struct {
	System string
}

func (l *NetR8Layout) Family() Family { return FamilyNetR8 }

func (l *NetR8Layout) Resolve(t acq.Target) []RemoteFile {
	return trimbleInternal(l.System, t, FamilyNetR8, []string{"Internal"})
}

func (l *NetR8Layout) Roots() []string { return []string{"Internal"} }

func (l *NetR8Layout) MatchDir(name string) bool { return isMonthDir(name) }

func (l *NetR8Layout) DateOf(name string) (int, int, bool) {
	return calendarDate(netr9DatePattern, name)
}

// NetR9Layout is the NetR9 convention: like the NetR8 but data may live
// on either the Internal/ or External/ logging volume, and the default
// recording session is .T02.
type NetR9Layout struct {
	System string
}

func (l *NetR9Layout) Family() Family { return FamilyNetR9 }

func (l *NetR9Layout) Resolve(t acq.Target) []RemoteFile {
	return trimbleInternal(l.System, t, FamilyNetR9, []string{"Internal", "External"})
}

func (l *NetR9Layout) Roots() []string { return []string{"Internal", "External"} }

func (l *NetR9Layout) MatchDir(name string) bool { return isMonthDir(name) }

func (l *NetR9Layout) DateOf(name string) (int, int, bool) {
	return calendarDate(netr9DatePattern, name)
}

func trimbleInternal(system string, t acq.Target, f Family, volumes []string) []RemoteFile {
	date := t.Date().Format("20060102")
	month := t.Date().Format("200601")
	files := make([]RemoteFile, 0, 2*len(volumes))
	for _, vol := range volumes {
		for _, ext := range []string{".T02", ".T00"} {
			files = append(files, RemoteFile{
				Dir:     path.Join(vol, month),
				Name:    fmt.Sprintf("%s%s0000A%s%s", system, date, ext, openSuffix(t)),
				Family:  f,
				Partial: t.Partial,
			})
		}
	}
	return files
}

// MosaicLayout is the Septentrio Mosaic convention: five-digit YYdoy
// session directories holding ready RINEX observation files named
// <station><doy>0.<yy>o. No native-format conversion is needed
// downstream.
type MosaicLayout struct {
	Station string
}

func (l *MosaicLayout) Family() Family { return FamilyMosaic }

func (l *MosaicLayout) Resolve(t acq.Target) []RemoteFile {
	yy := t.Year % 100
	return []RemoteFile{{
		Dir:     fmt.Sprintf("%02d%03d", yy, t.Doy),
		Name:    fmt.Sprintf("%s%03d0.%02do", l.Station, t.Doy, yy),
		Family:  FamilyMosaic,
		Partial: t.Partial,
	}}
}

func (l *MosaicLayout) Roots() []string { return []string{"."} }

func (l *MosaicLayout) MatchDir(name string) bool { return isYYDoyDir(name) }

func (l *MosaicLayout) DateOf(name string) (int, int, bool) {
	m := mosaicDatePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	doy := atoi(m[1])
	year := 2000 + atoi(m[2])
	if doy < 1 || doy > acq.DaysInYear(year) {
		return 0, 0, false
	}
	return year, doy, true
}

// openSuffix is the extra extension Trimble receivers put on the current
// day's still-open recording session.
func openSuffix(t acq.Target) string {
	if t.Partial {
		return ".A"
	}
	return ""
}

// calendarDate extracts a YYYYMMDD date captured by pattern and turns it
// into (year, doy).
func calendarDate(pattern *regexp.Regexp, name string) (int, int, bool) {
	m := pattern.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	year, month, day := atoi(m[1]), atoi(m[2]), atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, false
	}
	doy := dayOfYear(year, month, day)
	if doy == 0 {
		return 0, 0, false
	}
	return year, doy, true
}

var cumDays = [12]int{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334}

func dayOfYear(year, month, day int) int {
	doy := cumDays[month-1] + day
	if month > 2 && acq.IsLeapYear(year) {
		doy++
	}
	if doy > acq.DaysInYear(year) {
		return 0
	}
	return doy
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}
