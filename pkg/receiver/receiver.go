// Package receiver contains the receiver-family constants and the
// per-family knowledge of how each receiver lays out its day files on
// the built-in FTP server.
package receiver

import (
	"errors"
	"fmt"
	"strings"
)

// Family is the receiver product family.
type Family int

// The supported families.
const (
	FamilyUnknown Family = iota
	FamilyNetRS
	FamilyNetR8
	FamilyNetR9
	FamilyMosaic
)

// ErrUnknownFamily is returned for family names or receivers that could
// not be recognized.
var ErrUnknownFamily = errors.New("receiver: unknown receiver family")

var familyNames = map[Family]string{
	FamilyNetRS:  "NetRS",
	FamilyNetR8:  "NetR8",
	FamilyNetR9:  "NetR9",
	FamilyMosaic: "Mosaic",
}

func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return "Unknown"
}

// Native reports whether the family records in Trimble native format
// (.T00/.T02) that needs conversion before RINEX post-processing. The
// Mosaic writes RINEX directly.
func (f Family) Native() bool {
	switch f {
	case FamilyNetRS, FamilyNetR8, FamilyNetR9:
		return true
	}
	return false
}

// FamilyByName parses a family name as given on the command line,
// case-insensitively.
func FamilyByName(s string) (Family, error) {
	for f, name := range familyNames {
		if strings.EqualFold(s, name) {
			return f, nil
		}
	}
	return FamilyUnknown, fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// Identify guesses the family from the names in the FTP root listing.
// The Trimble receivers expose their logging volumes as directories; the
// Septentrio Mosaic keeps five-digit YYdoy session directories.
func Identify(rootNames []string) Family {
	hasInternal := false
	for _, name := range rootNames {
		switch name {
		case "External":
			return FamilyNetR9
		case "Internal":
			hasInternal = true
		}
	}
	if hasInternal {
		return FamilyNetR8
	}
	for _, name := range rootNames {
		if isMonthDir(name) {
			return FamilyNetRS
		}
		if isYYDoyDir(name) || name == "DSK1" {
			return FamilyMosaic
		}
	}
	return FamilyUnknown
}

func isMonthDir(name string) bool {
	return len(name) == 6 && allDigits(name)
}

func isYYDoyDir(name string) bool {
	return len(name) == 5 && allDigits(name)
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
