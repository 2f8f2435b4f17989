package filename

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValid(t *testing.T) {
	tests := []struct {
		name string
		want Parsed
	}{
		{
			name: "wmd-ea03-20190621-00000007-EX00.fits.bz2",
			want: Parsed{
				BaseID:         "wmd-ea03-20190621-00000007",
				Site:           "wmd",
				Instrument:     "ea03",
				Date:           "20190621",
				Counter:        "00000007",
				DataClass:      "EX",
				ReductionLevel: "00",
				Extension:      "fits",
				Compression:    "bz2",
			},
		},
		{
			name: "tst-aa00-20201231-12345678-EX01.txt",
			want: Parsed{
				BaseID:         "tst-aa00-20201231-12345678",
				Site:           "tst",
				Instrument:     "aa00",
				Date:           "20201231",
				Counter:        "12345678",
				DataClass:      "EX",
				ReductionLevel: "01",
				Extension:      "txt",
			},
		},
		{
			// longer data class and reduction level, greedy match
			name: "mrc-kb001-20210101-00000001-EXP130.jpg",
			want: Parsed{
				BaseID:         "mrc-kb001-20210101-00000001",
				Site:           "mrc",
				Instrument:     "kb001",
				Date:           "20210101",
				Counter:        "00000001",
				DataClass:      "EXP",
				ReductionLevel: "130",
				Extension:      "jpg",
			},
		},
	}

	for _, tc := range tests {
		got, err := Parse(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)

		// Parsing twice yields identical results.
		again, err := Parse(tc.name)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}
}

func TestParseInvalid(t *testing.T) {
	bad := []string{
		"",
		"wmd-ea03-20190621-EX00.fits",               // missing counter
		"wmd-ea03-20190621-00000007-EX00",           // no extension
		"wmd-ea03-2019062-00000007-EX00.fits",       // 7-digit date
		"wmd-ea03-201906211-00000007-EX00.fits",     // 9-digit date
		"wmd-ea03-2019o621-00000007-EX00.fits",      // non-numeric date
		"wmd-ea03-20190621-0000007x-EX00.fits",      // non-numeric counter
		"WMD-ea03-20190621-00000007-EX00.fits",      // uppercase site
		"wm-ea03-20190621-00000007-EX00.fits",       // site too short
		"wmdwmdw-ea03-20190621-00000007-EX00.fits",  // site too long
		"wmd-ea03-20190621-00000007-EX.fits",        // no reduction level
		"wmd-ea03-20190621-00000007-00EX.fits",      // digits before letters
		"wmd-ea03-20190621-00000007-EX00.fit5",      // non-alphabetic extension
		"wmd-ea03-20190621-00000007-EX00-extra.txt", // extra field
	}

	for _, name := range bad {
		got, err := Parse(name)
		assert.ErrorIs(t, err, ErrInvalidFilename, name)
		assert.Equal(t, Parsed{}, got, "no partial result for %q", name)
	}
}

func TestValidateBaseID(t *testing.T) {
	require.NoError(t, ValidateBaseID("wmd-ea03-20190621-00000007"))
	require.NoError(t, ValidateBaseID("tst-aa00-20201231-12345678"))

	assert.ErrorIs(t, ValidateBaseID("wmd-ea03-20190621"), ErrInvalidFilename)
	assert.ErrorIs(t, ValidateBaseID("wmd-ea03-20190621-00000007-EX00.fits"), ErrInvalidFilename)
	assert.ErrorIs(t, ValidateBaseID(""), ErrInvalidFilename)
	assert.ErrorIs(t, ValidateBaseID("data/"), ErrInvalidFilename)
}

func TestSiteOf(t *testing.T) {
	assert.Equal(t, "wmd", SiteOf("wmd-ea03-20190621-00000007"))
}

func TestString(t *testing.T) {
	p, err := Parse("wmd-ea03-20190621-00000007-EX00.fits.bz2")
	require.NoError(t, err)
	assert.Equal(t, "wmd-ea03-20190621-00000007-EX00.fits.bz2", p.String())

	p, err = Parse("tst-aa00-20201231-12345678-EX01.txt")
	require.NoError(t, err)
	assert.Equal(t, "tst-aa00-20201231-12345678-EX01.txt", p.String())
}
