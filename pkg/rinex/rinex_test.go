package rinex

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDailyFileName(t *testing.T) {
	assert.Equal(t, "hs011570.25o", DailyFileName("hs01", 2025, 157))
	assert.Equal(t, "hs010010.24o", DailyFileName("HS01", 2024, 1))
}

func TestParseDailyFileName(t *testing.T) {
	station, year, doy, ok := ParseDailyFileName("hs011570.25o")
	assert.True(t, ok)
	assert.Equal(t, "hs01", station)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 157, doy)

	station, year, doy, ok = ParseDailyFileName("hs011570.25o.gz")
	assert.True(t, ok)
	assert.Equal(t, "hs01", station)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 157, doy)

	_, year, _, ok = ParseDailyFileName("hs010010.99o")
	assert.True(t, ok)
	assert.Equal(t, 1999, year)

	_, _, _, ok = ParseDailyFileName("hs01.obs")
	assert.False(t, ok)
}

func TestFixHeaderLine_RecTypeVers(t *testing.T) {
	// NetR8 writes the label one column late.
	data := "12345               TRIMBLE NETR8       4.85                "
	bad := data[:59] + "  " + labelRecTypeVers

	fixed := FixHeaderLine(bad)
	assert.Equal(t, labelRecTypeVers, fixed[labelColumn:])
	assert.LessOrEqual(t, len(fixed), lineWidth)

	good := data[:labelColumn] + labelRecTypeVers
	assert.Equal(t, good, FixHeaderLine(good), "well-formed line untouched")
}

func TestFixHeaderLine_PgmRunBy(t *testing.T) {
	bad := "teqc  2019Feb25     Receiver Operator   20250606 00:00:00 UTCPGM / RUN BY / DATEextra"
	fixed := FixHeaderLine(bad)
	assert.Equal(t, labelPgmRunBy, fixed[labelColumn:])
	assert.LessOrEqual(t, len(fixed), lineWidth)
}

func TestFixHeaderLine_Truncates(t *testing.T) {
	long := strings.Repeat("x", 95)
	assert.Len(t, FixHeaderLine(long), lineWidth)
}

func TestNormalizeHeader_InsertsEndOfHeader(t *testing.T) {
	in := strings.Join([]string{
		"     2.11           OBSERVATION DATA    G (GPS)             RINEX VERSION / TYPE",
		"hs01                                                        MARKER NAME",
		" 25  6  6  0  0  0.0000000  0  8G02G05G06G12G19G24G25G29",
		"  21234567.890 7",
	}, "\n")

	var out bytes.Buffer
	if err := NormalizeHeader(strings.NewReader(in), &out); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 5)
	assert.Contains(t, lines[2], labelEndOfHeader)
	assert.Equal(t, " 25  6  6  0  0  0.0000000  0  8G02G05G06G12G19G24G25G29", lines[3], "data records pass through untouched")
}

func TestNormalizeHeader_KeepsExistingEnd(t *testing.T) {
	in := strings.Join([]string{
		"     2.11           OBSERVATION DATA    G (GPS)             RINEX VERSION / TYPE",
		"                                                            END OF HEADER",
		" 25  6  6  0  0  0.0000000  0  8G02G05G06G12G19G24G25G29",
	}, "\n")

	var out bytes.Buffer
	if err := NormalizeHeader(strings.NewReader(in), &out); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, strings.Count(out.String(), labelEndOfHeader))
}
