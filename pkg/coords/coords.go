// Package coords normalizes the station-location notations operators
// actually type into one canonical geodetic record: decimal degrees and
// ellipsoid height in meters. The WGS84 cartesian alternative is carried
// separately and never converted.
package coords

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errors
var (
	// ErrInvalidFormat is returned when a coordinate string matches no
	// supported grammar or a field is out of range.
	ErrInvalidFormat = errors.New("coords: invalid coordinate format")

	// ErrConflictingInput is returned when both or neither of the
	// geodetic and cartesian inputs are supplied.
	ErrConflictingInput = errors.New("coords: conflicting coordinate input")
)

// Position is a geodetic point in decimal degrees and meters.
type Position struct {
	Lat    float64 // [-90,90]
	Lon    float64 // [-180,180]
	Height float64 // ellipsoid height, may be negative
}

// Cartesian is a WGS84 earth-centered point in meters.
type Cartesian struct {
	X, Y, Z float64
}

// Location holds the station position in exactly one of the two forms.
type Location struct {
	Geodetic  *Position
	Cartesian *Cartesian
}

// NewLocation parses the llh or xyz input string, exactly one of which
// must be non-empty.
func NewLocation(llh, xyz string) (Location, error) {
	if (llh == "") == (xyz == "") {
		return Location{}, fmt.Errorf("%w: exactly one of llh and cartesian is required", ErrConflictingInput)
	}

	if xyz != "" {
		c, err := ParseCartesian(xyz)
		if err != nil {
			return Location{}, err
		}
		return Location{Cartesian: &c}, nil
	}

	p, err := ParseLLH(llh)
	if err != nil {
		return Location{}, err
	}
	return Location{Geodetic: &p}, nil
}

// ParseCartesian parses a WGS84 X/Y/Z triple in meters.
func ParseCartesian(s string) (Cartesian, error) {
	tok := strings.Fields(s)
	if len(tok) != 3 {
		return Cartesian{}, fmt.Errorf("%w: cartesian needs 3 values, got %d", ErrInvalidFormat, len(tok))
	}
	vals, err := parseFloats(tok)
	if err != nil {
		return Cartesian{}, err
	}
	return Cartesian{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// ParseLLH parses a latitude/longitude/height string. The supported
// grammars, tried by token count:
//
//	3 tokens: decimal degrees      "43.52583 -79.38694 100.0"
//	7 tokens: signed DMS           "43 31 33 -79 23 13 100.0"
//	9 tokens: DMS with hemisphere  "43 31 33 N 79 23 13 W 100.0"
//
// A hemisphere letter glued onto the preceding number ("33N") is split
// off first, independently per coordinate, so mixed spacing is fine.
func ParseLLH(s string) (Position, error) {
	tok := splitHemispheres(strings.Fields(s))

	switch len(tok) {
	case 3:
		vals, err := parseFloats(tok)
		if err != nil {
			return Position{}, err
		}
		return newPosition(vals[0], vals[1], vals[2])
	case 7:
		return parseSignedDMS(tok)
	case 9:
		return parseHemisphereDMS(tok)
	}
	return Position{}, fmt.Errorf("%w: %d tokens", ErrInvalidFormat, len(tok))
}

// splitHemispheres turns tokens like "33N" into "33", "N". Only a single
// trailing hemisphere letter after a parsable number is split.
func splitHemispheres(tok []string) []string {
	out := make([]string, 0, len(tok))
	for _, t := range tok {
		if len(t) > 1 && isHemisphere(t[len(t)-1]) {
			num := t[:len(t)-1]
			if _, err := strconv.ParseFloat(num, 64); err == nil {
				out = append(out, num, t[len(t)-1:])
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func isHemisphere(c byte) bool {
	switch c {
	case 'N', 'S', 'E', 'W', 'n', 's', 'e', 'w':
		return true
	}
	return false
}

// parseSignedDMS handles "latD latM latS lonD lonM lonS height" with the
// sign carried on the degree fields.
func parseSignedDMS(tok []string) (Position, error) {
	vals, err := parseFloats(tok)
	if err != nil {
		return Position{}, err
	}
	lat, err := dmsToDecimal(vals[0], vals[1], vals[2])
	if err != nil {
		return Position{}, err
	}
	lon, err := dmsToDecimal(vals[3], vals[4], vals[5])
	if err != nil {
		return Position{}, err
	}
	return newPosition(lat, lon, vals[6])
}

// parseHemisphereDMS handles
// "latD latM latS {N|S} lonD lonM lonS {E|W} height".
func parseHemisphereDMS(tok []string) (Position, error) {
	latSign, err := hemisphereSign(tok[3], "NS")
	if err != nil {
		return Position{}, err
	}
	lonSign, err := hemisphereSign(tok[7], "EW")
	if err != nil {
		return Position{}, err
	}

	numTok := []string{tok[0], tok[1], tok[2], tok[4], tok[5], tok[6], tok[8]}
	vals, err := parseFloats(numTok)
	if err != nil {
		return Position{}, err
	}

	// An explicit sign together with a hemisphere letter is a conflict.
	for _, t := range []string{tok[0], tok[4]} {
		if strings.HasPrefix(t, "-") || strings.HasPrefix(t, "+") {
			return Position{}, fmt.Errorf("%w: sign and hemisphere letter on %q", ErrInvalidFormat, t)
		}
	}

	lat, err := dmsToDecimal(vals[0], vals[1], vals[2])
	if err != nil {
		return Position{}, err
	}
	lon, err := dmsToDecimal(vals[3], vals[4], vals[5])
	if err != nil {
		return Position{}, err
	}
	return newPosition(latSign*lat, lonSign*lon, vals[6])
}

// hemisphereSign maps a hemisphere letter to +1/-1, allowing only the
// letters valid for the coordinate axis.
func hemisphereSign(tok, axis string) (float64, error) {
	if len(tok) != 1 || !strings.Contains(axis, strings.ToUpper(tok)) {
		return 0, fmt.Errorf("%w: bad hemisphere %q", ErrInvalidFormat, tok)
	}
	switch strings.ToUpper(tok) {
	case "S", "W":
		return -1, nil
	}
	return 1, nil
}

// dmsToDecimal converts degrees/minutes/seconds to decimal degrees, with
// the sign carried on the degrees field.
func dmsToDecimal(deg, min, sec float64) (float64, error) {
	if min < 0 || min >= 60 || sec < 0 || sec >= 60 {
		return 0, fmt.Errorf("%w: minutes/seconds out of range", ErrInvalidFormat)
	}
	sign := 1.0
	if deg < 0 {
		sign = -1
		deg = -deg
	}
	return sign * (deg + min/60 + sec/3600), nil
}

func newPosition(lat, lon, height float64) (Position, error) {
	if lat < -90 || lat > 90 {
		return Position{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidFormat, lat)
	}
	if lon < -180 || lon > 180 {
		return Position{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidFormat, lon)
	}
	return Position{Lat: lat, Lon: lon, Height: height}, nil
}

func parseFloats(tok []string) ([]float64, error) {
	vals := make([]float64, len(tok))
	for i, t := range tok {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidFormat, t)
		}
		vals[i] = v
	}
	return vals, nil
}
