// Command-line tool for fetching GNSS observation data from Trimble and
// Septentrio reference receivers, converting it to daily RINEX files and
// shipping it to an archive host.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
	"github.com/n8ur/gnss-ftp-tools/pkg/convert"
	"github.com/n8ur/gnss-ftp-tools/pkg/coords"
	"github.com/n8ur/gnss-ftp-tools/pkg/pipeline"
	"github.com/n8ur/gnss-ftp-tools/pkg/receiver"
	"github.com/n8ur/gnss-ftp-tools/pkg/upload"
)

const version = "1.2.0"

// Exit codes: 0 all days processed, 1 fatal configuration/connection/auth
// error, 2 run completed but some days failed.
const (
	exitFatal   = 1
	exitPartial = 2
)

func main() {
	log.SetFlags(0)

	app := &cli.App{
		Name:    "gnssget",
		Usage:   "fetch, convert and archive daily GNSS observation files",
		Version: version,
		Description: `gnssget pulls observation files from a reference receiver over
anonymous FTP, converts Trimble native files to RINEX with runpkr00 and
teqc, stamps station metadata into the header and optionally uploads the
result to an SFTP archive.

Examples:
    # yesterday's file from a NetR9, with upload
    $ gnssget --measurement_path /data/hs01 --fqdn netr9-1.febo.com \
        --station hs01 --organization febo.com --user jra \
        --antenna_type TRM41249.00 --station_llh "43 31 33N 79 23 13W 100.0" \
        --sftp_host archive.febo.com --sftp_user gnss --sftp_pass secret

    # everything on the receiver not yet processed locally
    $ gnssget --all_new [...]`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "measurement_path", Usage: "local data root holding download/ and processed/", Required: true},
			&cli.StringFlag{Name: "fqdn", Usage: "receiver hostname or address", Required: true},
			&cli.StringFlag{Name: "station", Usage: "station ID used in output filenames", Required: true},
			&cli.StringFlag{Name: "system", Usage: "receiver's internal system name, defaults to the first label of fqdn"},
			&cli.StringFlag{Name: "receiver", Usage: "receiver family (netrs, netr8, netr9, mosaic); autodetected when omitted"},

			&cli.StringFlag{Name: "organization", Usage: "agency for the RINEX header (max 40 chars)", Required: true},
			&cli.StringFlag{Name: "user", Usage: "observer for the RINEX header (max 20 chars)", Required: true},
			&cli.StringFlag{Name: "antenna_type", Usage: "antenna type for the RINEX header", Required: true},
			&cli.StringFlag{Name: "antenna_number", Usage: "antenna serial number"},
			&cli.StringFlag{Name: "marker_num", Usage: "marker number (max 20 chars)"},
			&cli.StringFlag{Name: "station_llh", Usage: "station position as lat/lon/height, decimal or DMS"},
			&cli.StringFlag{Name: "station_cartesian", Usage: "station position as ECEF x y z in meters"},

			&cli.IntFlag{Name: "year", Usage: "year of the requested day(s)"},
			&cli.IntFlag{Name: "day_of_year", Usage: "single day of year to fetch"},
			&cli.IntFlag{Name: "start_doy", Usage: "first day of an inclusive range"},
			&cli.IntFlag{Name: "end_doy", Usage: "last day of an inclusive range"},
			&cli.BoolFlag{Name: "all_new", Usage: "fetch every remote day not processed locally"},
			&cli.BoolFlag{Name: "today", Usage: "fetch the current, still partial day"},
			&cli.BoolFlag{Name: "force", Usage: "refetch and reconvert days that are already processed"},

			&cli.StringFlag{Name: "sftp_host", Usage: "archive host; omit to skip uploading"},
			&cli.StringFlag{Name: "sftp_user", Usage: "archive account name"},
			&cli.StringFlag{Name: "sftp_pass", Usage: "archive account password"},

			&cli.IntFlag{Name: "workers", Value: 2, Usage: "concurrent conversions in an --all_new batch"},
			&cli.DurationFlag{Name: "convert_timeout", Value: 5 * time.Minute, Usage: "wall-clock limit per external tool invocation"},
			&cli.DurationFlag{Name: "retention", Value: 14 * 24 * time.Hour, Usage: "minimum age before uploaded files may be purged"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	loc, err := coords.NewLocation(c.String("station_llh"), c.String("station_cartesian"))
	if err != nil {
		return cli.Exit(err, exitFatal)
	}

	fam := receiver.FamilyUnknown
	if name := c.String("receiver"); name != "" {
		if fam, err = receiver.FamilyByName(name); err != nil {
			return cli.Exit(err, exitFatal)
		}
	}

	cfg := pipeline.Config{
		MeasurementPath: c.String("measurement_path"),
		Host:            c.String("fqdn"),
		Station:         c.String("station"),
		System:          c.String("system"),
		Family:          fam,
		Window: acq.Window{
			Year:     c.Int("year"),
			Doy:      c.Int("day_of_year"),
			StartDoy: c.Int("start_doy"),
			EndDoy:   c.Int("end_doy"),
			AllNew:   c.Bool("all_new"),
			Today:    c.Bool("today"),
		},
		Force: c.Bool("force"),
		Metadata: &convert.Metadata{
			Organization:  c.String("organization"),
			User:          c.String("user"),
			AntennaType:   c.String("antenna_type"),
			AntennaNumber: c.String("antenna_number"),
			MarkerNum:     c.String("marker_num"),
			Location:      loc,
		},
		SFTPHost:       c.String("sftp_host"),
		SFTPUser:       c.String("sftp_user"),
		SFTPPass:       c.String("sftp_pass"),
		Workers:        c.Int("workers"),
		Retention:      c.Duration("retention"),
		ConvertTimeout: c.Duration("convert_timeout"),
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return cli.Exit(err, exitFatal)
	}

	sum, err := p.Run(c.Context)
	if err != nil {
		if errors.Is(err, upload.ErrAuth) {
			return cli.Exit(fmt.Sprintf("aborting run: %v", err), exitFatal)
		}
		return cli.Exit(err, exitFatal)
	}

	log.Printf("gnssget: fetched %d, converted %d, uploaded %d", sum.Fetched, sum.Converted, sum.Uploaded)
	if len(sum.Failed) > 0 {
		for _, f := range sum.Failed {
			log.Printf("W! day %d-%03d failed: %v", f.Year, f.Doy, f.Err)
		}
		return cli.Exit(fmt.Sprintf("%d day(s) failed", len(sum.Failed)), exitPartial)
	}
	return nil
}
