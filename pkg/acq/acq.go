// Package acq resolves which days of receiver data a run should acquire.
// The primary key throughout is the 1-based day-of-year, the way GNSS
// archives are laid out.
package acq

import (
	"errors"
	"fmt"
	"time"
)

// errors
var (
	// ErrInvalidDateRange is returned for days outside the year, ranges
	// with end before start, and requests for future days.
	ErrInvalidDateRange = errors.New("acq: invalid date range")

	// ErrModeConflict is returned when all_new, today and explicit
	// day/range selections are combined.
	ErrModeConflict = errors.New("acq: conflicting acquisition modes")
)

// gpsEpoch is the start of GPS week 0.
var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// Target is one (station, year, day-of-year) acquisition unit. It is
// created here and read-only downstream.
type Target struct {
	Station string
	Year    int
	Doy     int

	// Partial marks the current UTC day, whose file is still growing.
	Partial bool
}

// Date returns the UTC calendar date of the target.
func (t Target) Date() time.Time {
	return time.Date(t.Year, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, t.Doy-1)
}

// GPSWeek returns the GPS week number and day of week (0 = Sunday).
func (t Target) GPSWeek() (week, dow int) {
	days := int(t.Date().Sub(gpsEpoch).Hours() / 24)
	return days / 7, days % 7
}

func (t Target) String() string {
	return fmt.Sprintf("%s %d-%03d", t.Station, t.Year, t.Doy)
}

// IsLeapYear reports whether year is a leap year in the proleptic
// Gregorian calendar.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInYear returns 365 or 366.
func DaysInYear(year int) int {
	if IsLeapYear(year) {
		return 366
	}
	return 365
}

// Window is the raw day selection from the command line. Zero values
// mean "not given".
type Window struct {
	Year     int
	Doy      int
	StartDoy int
	EndDoy   int
	AllNew   bool
	Today    bool
}

// Resolver turns a Window into the ordered targets to process. Now is
// the clock dependency; tests supply fixed dates.
type Resolver struct {
	Now func() time.Time
}

// Resolve produces the targets for station, ascending by date. In
// all-new mode the day list depends on the remote directory listing and
// is resolved later by the fetch engine; Resolve returns no targets.
//
// With no selection at all the default is yesterday (UTC).
func (r *Resolver) Resolve(station string, w Window) ([]Target, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	today := now().UTC().Truncate(24 * time.Hour)

	explicit := w.Doy != 0
	ranged := w.StartDoy != 0 || w.EndDoy != 0
	modes := 0
	for _, m := range []bool{w.AllNew, w.Today, explicit, ranged} {
		if m {
			modes++
		}
	}
	if modes > 1 {
		return nil, fmt.Errorf("%w: all_new, today, day_of_year and start/end_doy are mutually exclusive", ErrModeConflict)
	}

	if w.AllNew {
		return nil, nil
	}

	if w.Today {
		return []Target{{
			Station: station,
			Year:    today.Year(),
			Doy:     today.YearDay(),
			Partial: true,
		}}, nil
	}

	year := w.Year
	if year == 0 {
		year = today.Year()
	}

	if ranged {
		if w.StartDoy == 0 || w.EndDoy == 0 || w.EndDoy < w.StartDoy {
			return nil, fmt.Errorf("%w: start_doy %d, end_doy %d", ErrInvalidDateRange, w.StartDoy, w.EndDoy)
		}
		targets := make([]Target, 0, w.EndDoy-w.StartDoy+1)
		for doy := w.StartDoy; doy <= w.EndDoy; doy++ {
			t, err := newTarget(station, year, doy, today)
			if err != nil {
				return nil, err
			}
			targets = append(targets, t)
		}
		return targets, nil
	}

	if explicit {
		t, err := newTarget(station, year, w.Doy, today)
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	}

	if w.Year != 0 {
		return nil, fmt.Errorf("%w: year given without day_of_year or start/end_doy", ErrInvalidDateRange)
	}

	yesterday := today.AddDate(0, 0, -1)
	return []Target{{
		Station: station,
		Year:    yesterday.Year(),
		Doy:     yesterday.YearDay(),
	}}, nil
}

func newTarget(station string, year, doy int, today time.Time) (Target, error) {
	if doy < 1 || doy > DaysInYear(year) {
		return Target{}, fmt.Errorf("%w: day %d of year %d", ErrInvalidDateRange, doy, year)
	}
	t := Target{Station: station, Year: year, Doy: doy}
	if t.Date().After(today) {
		return Target{}, fmt.Errorf("%w: %s is in the future", ErrInvalidDateRange, t)
	}
	return t, nil
}
