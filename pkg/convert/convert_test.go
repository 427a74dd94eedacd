package convert

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
	"github.com/n8ur/gnss-ftp-tools/pkg/coords"
	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
)

func testMetadata() *Metadata {
	return &Metadata{
		Organization: "febo.com",
		User:         "jra",
		AntennaType:  "TRM41249.00",
		MarkerNum:    "hs01",
		Location:     coords.Location{Cartesian: &coords.Cartesian{X: 849600.0, Y: -4542000.0, Z: 4380000.0}},
	}
}

func TestMetadataValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(testMetadata().Validate())

	tooLong := testMetadata()
	tooLong.Organization = strings.Repeat("x", 41)
	assert.ErrorIs(tooLong.Validate(), ErrMetadataTooLong)

	tooLong = testMetadata()
	tooLong.User = strings.Repeat("x", 21)
	assert.ErrorIs(tooLong.Validate(), ErrMetadataTooLong)

	missing := testMetadata()
	missing.AntennaType = ""
	assert.Error(missing.Validate())
}

func TestTeqcArgs(t *testing.T) {
	assert := assert.New(t)
	target := acq.Target{Station: "hs01", Year: 2025, Doy: 157}

	args := teqcArgs(receiver.FamilyNetR9, target, testMetadata())
	joined := strings.Join(args, " ")
	assert.Contains(joined, "+C2 -R", "native input needs translation flags")
	assert.Contains(joined, "-O.mo HS01")
	assert.Contains(joined, "-O.ag febo.com")
	assert.Contains(joined, "-O.o jra")
	assert.Contains(joined, "-O.at TRM41249.00")
	assert.Contains(joined, "-O.mn hs01")
	assert.Contains(joined, "-O.px 849600 -4542000 4380000")
	assert.NotContains(joined, "-O.an", "no antenna number given")

	geo := testMetadata()
	geo.Location = coords.Location{Geodetic: &coords.Position{Lat: 43.525833, Lon: -79.386944, Height: 100}}
	args = teqcArgs(receiver.FamilyMosaic, target, geo)
	joined = strings.Join(args, " ")
	assert.NotContains(joined, "+C2", "RINEX input is not translated")
	assert.Contains(joined, "-O.pg 43.525833 -79.386944 100")
}

// writeTool installs an executable shell script standing in for an
// external tool.
func writeTool(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755)
	assert.NoError(t, err)
	return path
}

func TestConvertNative(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	downloadDir := filepath.Join(root, "download")
	processedDir := filepath.Join(root, "processed")
	assert.NoError(os.MkdirAll(downloadDir, 0o775))
	assert.NoError(os.MkdirAll(processedDir, 0o775))

	raw := filepath.Join(downloadDir, "netr9-1202506060000A.T02")
	assert.NoError(os.WriteFile(raw, []byte("native"), 0o664))

	bin := t.TempDir()
	eng := &Engine{
		// Decoder writes the intermediate file next to its input.
		Runpkr: writeTool(t, bin, "runpkr00", `for last; do :; done
printf 'decoded' > "${last%.*}.tgd"`),
		// Post-processor copies its input to stdout.
		Teqc: writeTool(t, bin, "teqc", `for last; do :; done
cat "$last"`),
		Timeout: time.Minute,
	}

	target := acq.Target{Station: "hs01", Year: 2025, Doy: 157}
	out, err := eng.Convert(context.Background(), raw, processedDir, receiver.FamilyNetR9, target, testMetadata())
	assert.NoError(err)
	assert.Equal(filepath.Join(processedDir, "hs011570.25o"), out)

	body, err := os.ReadFile(out)
	assert.NoError(err)
	assert.Equal("decoded", string(body))

	assert.NoFileExists(filepath.Join(downloadDir, "netr9-1202506060000A.tgd"),
		"intermediate file is cleaned up")
}

func TestConvertMosaicInjectsHeader(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()

	// Observation file with the END OF HEADER line missing.
	obs := filepath.Join(root, "hs011570.25o")
	content := "     2.11           OBSERVATION DATA    G (GPS)             RINEX VERSION / TYPE\n" +
		" 25  6  6  0  0  0.0000000  0  8G02G05G06G12G19G24G25G29\n"
	assert.NoError(os.WriteFile(obs, []byte(content), 0o664))

	bin := t.TempDir()
	eng := &Engine{
		Runpkr: filepath.Join(bin, "unused"),
		Teqc: writeTool(t, bin, "teqc", `for last; do :; done
cat "$last"`),
		Timeout: time.Minute,
	}

	target := acq.Target{Station: "hs01", Year: 2025, Doy: 157}
	out, err := eng.Convert(context.Background(), obs, root, receiver.FamilyMosaic, target, testMetadata())
	assert.NoError(err)

	body, err := os.ReadFile(out)
	assert.NoError(err)
	assert.Contains(string(body), "END OF HEADER", "normalization inserts the terminator")
}

func TestConvertToolFailure(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	raw := filepath.Join(root, "hs01202506060000a.T00")
	assert.NoError(os.WriteFile(raw, []byte("native"), 0o664))

	bin := t.TempDir()
	eng := &Engine{
		Runpkr:  writeTool(t, bin, "runpkr00", `echo "unsupported record" >&2; exit 3`),
		Teqc:    filepath.Join(bin, "unused"),
		Timeout: time.Minute,
	}

	target := acq.Target{Station: "hs01", Year: 2025, Doy: 157}
	_, err := eng.Convert(context.Background(), raw, root, receiver.FamilyNetRS, target, testMetadata())
	assert.ErrorIs(err, ErrConversionTool)
	assert.Contains(err.Error(), "unsupported record", "stderr is carried in the error")
}

func TestConvertTimeout(t *testing.T) {
	assert := assert.New(t)
	root := t.TempDir()
	raw := filepath.Join(root, "hs01202506060000a.T00")
	assert.NoError(os.WriteFile(raw, []byte("native"), 0o664))

	bin := t.TempDir()
	eng := &Engine{
		Runpkr:  writeTool(t, bin, "runpkr00", `sleep 10`),
		Teqc:    filepath.Join(bin, "unused"),
		Timeout: 100 * time.Millisecond,
	}

	target := acq.Target{Station: "hs01", Year: 2025, Doy: 157}
	_, err := eng.Convert(context.Background(), raw, root, receiver.FamilyNetRS, target, testMetadata())
	assert.ErrorIs(err, ErrConversionTimeout)
}
