// Package filename implements the archive's conventional filename grammar.
//
// Every file produced by a telescope site is named
//
//	{site}-{instrument}-{date}-{counter}-{dataClass}{reductionLevel}.{ext}[.{compression}]
//
// for example wmd-ea03-20190621-00000007-EX00.fits.bz2. The first four
// dash-separated fields joined by '-' form the base identifier, which is the
// primary key for everything downstream.
package filename

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidFilename is returned for any structural violation of the grammar.
var ErrInvalidFilename = errors.New("invalid filename")

// Parsed holds the typed fields derived from a conventional filename.
type Parsed struct {
	BaseID         string // wmd-ea03-20190621-00000007
	Site           string // wmd
	Instrument     string // ea03
	Date           string // 20190621
	Counter        string // 00000007
	DataClass      string // EX
	ReductionLevel string // 00
	Extension      string // fits
	Compression    string // bz2, empty if uncompressed
}

// String returns the full filename in canonical form.
func (p Parsed) String() string {
	name := fmt.Sprintf("%s-%s%s.%s", p.BaseID, p.DataClass, p.ReductionLevel, p.Extension)
	if p.Compression != "" {
		name += "." + p.Compression
	}
	return name
}

var (
	// Data class is one-or-more letters immediately followed by one-or-more
	// digits for the reduction level. The match is greedy, not a fixed-width
	// split, so class codes of varying length work.
	fileRe = regexp.MustCompile(`^([a-z]{3,6})-([A-Za-z0-9]+)-([0-9]{8})-([0-9]{8})-([A-Za-z]+)([0-9]+)\.([A-Za-z]+)(?:\.([A-Za-z0-9]+))?$`)
	baseRe = regexp.MustCompile(`^[a-z]{3,6}-[A-Za-z0-9]+-[0-9]{8}-[0-9]{8}$`)
)

// Parse validates name against the grammar and returns its typed fields.
// It is pure and total: the same input always yields the same result, and a
// malformed name yields ErrInvalidFilename, never a partial Parsed.
func Parse(name string) (Parsed, error) {
	m := fileRe.FindStringSubmatch(name)
	if m == nil {
		return Parsed{}, fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}

	p := Parsed{
		Site:           m[1],
		Instrument:     m[2],
		Date:           m[3],
		Counter:        m[4],
		DataClass:      m[5],
		ReductionLevel: m[6],
		Extension:      m[7],
		Compression:    m[8],
	}
	p.BaseID = strings.Join([]string{p.Site, p.Instrument, p.Date, p.Counter}, "-")
	return p, nil
}

// ValidateBaseID checks that id is a well formed base identifier
// ({site}-{instrument}-{date}-{counter}). Callers use it as a guard before
// irreversible operations keyed on the identifier, so that a corrupted key
// can never select data it should not.
func ValidateBaseID(id string) error {
	if !baseRe.MatchString(id) {
		return fmt.Errorf("%w: bad base id %q", ErrInvalidFilename, id)
	}
	return nil
}

// SiteOf returns the site code from a base identifier without validating the
// remaining fields.
func SiteOf(baseID string) string {
	site, _, _ := strings.Cut(baseID, "-")
	return site
}
