package rinex

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// RINEX header lines are 80 columns: 60 data columns followed by a
// 20-column label field starting at column 61.
const (
	labelColumn = 60
	lineWidth   = 80

	labelRecTypeVers = "REC # / TYPE / VERS"
	labelPgmRunBy    = "PGM / RUN BY / DATE"
	labelEndOfHeader = "END OF HEADER"
)

// NormalizeHeader copies a RINEX observation file from r to w, repairing
// the header quirks the receivers are known to produce so the external
// post-processor accepts the file:
//
//   - NetR8 writes the REC # / TYPE / VERS label one column late;
//   - NetR9 writes an overlong PGM / RUN BY / DATE line with the label
//     out of column 61;
//   - header lines longer than 80 columns are truncated;
//   - a missing END OF HEADER marker is inserted before the first data
//     record.
//
// Data records pass through untouched.
func NormalizeHeader(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	bw := bufio.NewWriter(w)

	inHeader := true
	sawEnd := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")

		if inHeader {
			if isDataRecord(line) {
				if !sawEnd {
					if err := writeLine(bw, padLabel("", labelEndOfHeader)); err != nil {
						return err
					}
				}
				inHeader = false
			} else {
				fixed := FixHeaderLine(line)
				if strings.Contains(fixed, labelEndOfHeader) {
					sawEnd = true
					inHeader = false
				}
				if err := writeLine(bw, fixed); err != nil {
					return err
				}
				continue
			}
		}

		if err := writeLine(bw, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("rinex: reading header: %w", err)
	}
	return bw.Flush()
}

// FixHeaderLine repairs a single header line, returning it unchanged
// when nothing is wrong.
func FixHeaderLine(line string) string {
	if fixed, ok := fixRecTypeVersLine(line); ok {
		return fixed
	}
	if fixed, ok := fixPgmRunByLine(line); ok {
		return fixed
	}
	if len(line) > lineWidth {
		return line[:lineWidth]
	}
	return line
}

// fixRecTypeVersLine removes a stray leading space before the
// REC # / TYPE / VERS label so it starts at column 61.
func fixRecTypeVersLine(line string) (string, bool) {
	if !strings.Contains(line, labelRecTypeVers) || len(line) <= labelColumn {
		return "", false
	}
	labelField := line[labelColumn:]
	if !strings.HasPrefix(labelField, " ") || !strings.Contains(labelField, labelRecTypeVers) {
		return "", false
	}
	return padLabel(line[:labelColumn], labelRecTypeVers), true
}

// fixPgmRunByLine moves the PGM / RUN BY / DATE label to column 61 when
// the data portion has overflowed into the label field.
func fixPgmRunByLine(line string) (string, bool) {
	pos := strings.Index(line, labelPgmRunBy)
	if pos < 0 || pos == labelColumn {
		return "", false
	}
	data := strings.TrimRight(line[:pos], " ")
	return padLabel(data, labelPgmRunBy), true
}

// padLabel pads data to the label column, appends label and trims to the
// line width.
func padLabel(data, label string) string {
	if len(data) > labelColumn {
		data = data[:labelColumn]
	}
	line := fmt.Sprintf("%-*s%s", labelColumn, data, label)
	if len(line) > lineWidth {
		line = line[:lineWidth]
	}
	return line
}

// epochPattern matches the start of a RINEX2 epoch record:
// year month day hour minute and the fractional seconds field.
var epochPattern = regexp.MustCompile(`^\s*\d{1,4}(\s+\d{1,2}){4}\s+\d{1,2}\.\d+`)

// isDataRecord reports whether a line begins an observation record.
// RINEX3 epochs start with '>'; RINEX2 epochs carry the full date/time.
func isDataRecord(line string) bool {
	if strings.HasPrefix(line, ">") {
		return true
	}
	return epochPattern.MatchString(line)
}

func writeLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}
