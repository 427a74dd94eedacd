package receiver

import (
	"testing"

	"github.com/n8ur/gnss-ftp-tools/pkg/acq"
	"github.com/stretchr/testify/assert"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		name  string
		roots []string
		want  Family
	}{
		{"NetR9 by External volume", []string{"Internal", "External"}, FamilyNetR9},
		{"NetR8 by Internal volume only", []string{"Internal"}, FamilyNetR8},
		{"NetRS by month directories", []string{"202505", "202506"}, FamilyNetRS},
		{"Mosaic by YYdoy directories", []string{"25156", "25157"}, FamilyMosaic},
		{"Mosaic by DSK1 volume", []string{"DSK1"}, FamilyMosaic},
		{"empty listing", nil, FamilyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Identify(tt.roots))
		})
	}
}

func TestFamilyByName(t *testing.T) {
	f, err := FamilyByName("netr9")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, FamilyNetR9, f)

	_, err = FamilyByName("netr7")
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestNetRSLayout_Resolve(t *testing.T) {
	l := &NetRSLayout{System: "netrs-1"}
	refs := l.Resolve(acq.Target{Station: "hs01", Year: 2025, Doy: 157})

	assert.Len(t, refs, 2)
	assert.Equal(t, "202506", refs[0].Dir)
	assert.Equal(t, "netrs-1202506060000a.T00", refs[0].Name)
	assert.Equal(t, "netrs-1202506060000a.T02", refs[1].Name)
	assert.Equal(t, "202506/netrs-1202506060000a.T00", refs[0].Path())
}

func TestNetR9Layout_Resolve(t *testing.T) {
	l := &NetR9Layout{System: "netr9-1"}
	refs := l.Resolve(acq.Target{Station: "hs02", Year: 2025, Doy: 157})

	assert.Len(t, refs, 4)
	assert.Equal(t, "Internal/202506", refs[0].Dir)
	assert.Equal(t, "netr9-1202506060000A.T02", refs[0].Name)
	assert.Equal(t, "External/202506", refs[2].Dir)
}

func TestNetR8Layout_Resolve(t *testing.T) {
	l := &NetR8Layout{System: "netr8-1"}
	refs := l.Resolve(acq.Target{Station: "hs03", Year: 2025, Doy: 1})

	assert.Len(t, refs, 2)
	assert.Equal(t, "Internal/202501", refs[0].Dir)
	assert.Equal(t, "netr8-1202501010000A.T02", refs[0].Name)
}

func TestNetR9Layout_ResolvePartialDay(t *testing.T) {
	l := &NetR9Layout{System: "netr9-1"}
	refs := l.Resolve(acq.Target{Station: "hs02", Year: 2025, Doy: 157, Partial: true})

	assert.Len(t, refs, 4)
	assert.Equal(t, "netr9-1202506060000A.T02.A", refs[0].Name, "the open session carries the .A suffix")
	assert.True(t, refs[0].Partial)
}

func TestMosaicLayout_Resolve(t *testing.T) {
	l := &MosaicLayout{Station: "hs04"}
	refs := l.Resolve(acq.Target{Station: "hs04", Year: 2025, Doy: 157})

	assert.Len(t, refs, 1)
	assert.Equal(t, "25157", refs[0].Dir)
	assert.Equal(t, "hs041570.25o", refs[0].Name)
}

func TestDateOf(t *testing.T) {
	netrs := &NetRSLayout{System: "netrs-1"}
	year, doy, ok := netrs.DateOf("netrs-1202506060000a.T00")
	assert.True(t, ok)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 157, doy)

	_, _, ok = netrs.DateOf("netrs-1202506060000A.T00")
	assert.False(t, ok, "uppercase session letter is not a NetRS name")

	netr9 := &NetR9Layout{System: "netr9-1"}
	year, doy, ok = netr9.DateOf("netr9-1___202506160000A.T02")
	assert.True(t, ok)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 167, doy)

	mosaic := &MosaicLayout{Station: "hs04"}
	year, doy, ok = mosaic.DateOf("hs041570.25o")
	assert.True(t, ok)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 157, doy)

	_, _, ok = mosaic.DateOf("hs04.nav")
	assert.False(t, ok)

	// leap day round trip
	year, doy, ok = netrs.DateOf("netrs-1202402290000a.T00")
	assert.True(t, ok)
	assert.Equal(t, 2024, year)
	assert.Equal(t, 60, doy)
}
