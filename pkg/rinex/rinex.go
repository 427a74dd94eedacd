// Package rinex provides the daily observation-file naming convention
// and RINEX header repair for files coming off the receivers. Decoding
// of observation data itself is left to the external toolchain.
package rinex

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DailyFilePattern matches the daily observation filenames this tool
// produces and the server-side sweep consumes: <station><doy>0.<yy>o,
// optionally with a compression suffix.
var DailyFilePattern = regexp.MustCompile(`^([a-z0-9_-]+)(\d{3})0\.(\d{2})o(\.gz|\.zip)?$`)

// DailyFileName builds the canonical daily observation filename for a
// station and day. Station names are lowercased so names stay stable
// regardless of how the operator typed them.
func DailyFileName(station string, year, doy int) string {
	return fmt.Sprintf("%s%03d0.%02do", strings.ToLower(station), doy, year%100)
}

// ParseDailyFileName extracts station, year and doy from a daily
// observation filename. Two-digit years are taken as 1980-2079, the GPS
// era.
func ParseDailyFileName(name string) (station string, year, doy int, ok bool) {
	m := DailyFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", 0, 0, false
	}
	station = m[1]
	doy, _ = strconv.Atoi(m[2])
	yy, _ := strconv.Atoi(m[3])
	if yy < 80 {
		year = 2000 + yy
	} else {
		year = 1900 + yy
	}
	if doy < 1 || doy > 366 {
		return "", 0, 0, false
	}
	return station, year, doy, true
}
