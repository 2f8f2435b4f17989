package model

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Observation is the single logical record per base identifier. Rows are
// created on the first arriving file and merged additively by every later
// one; artifact flags are set-once and only cleared by deleting the row.
type Observation struct {
	BaseID         string          `db:"base_id"`
	Site           string          `db:"site"`
	DataClass      sql.NullString  `db:"data_class"`
	CaptureTime    sql.NullTime    `db:"capture_time"`
	SortTime       sql.NullTime    `db:"sort_time"`
	RightAscension sql.NullFloat64 `db:"right_ascension"`
	Declination    sql.NullFloat64 `db:"declination"`
	Altitude       sql.NullFloat64 `db:"altitude"`
	Azimuth        sql.NullFloat64 `db:"azimuth"`
	Airmass        sql.NullFloat64 `db:"airmass"`
	ExposureTime   sql.NullFloat64 `db:"exposure_time"`
	FilterUsed     sql.NullString  `db:"filter_used"`
	UserID         sql.NullString  `db:"user_id"`
	Username       sql.NullString  `db:"username"`
	Header         sql.NullString  `db:"header"`

	Fits01Exists    bool `db:"fits_01_exists"`
	Fits10Exists    bool `db:"fits_10_exists"`
	JpgMediumExists bool `db:"jpg_medium_exists"`
	JpgSmallExists  bool `db:"jpg_small_exists"`
}

// HeaderAttrs carries the instrument/pointing metadata promoted from a
// decoded header to typed columns. Nil fields are absent from the header (or
// unparsable) and stay untouched in the store.
type HeaderAttrs struct {
	CaptureTime    *time.Time
	RightAscension *float64
	Declination    *float64
	Altitude       *float64
	Azimuth        *float64
	Airmass        *float64
	ExposureTime   *float64
	Filter         *string
	UserID         *string
	Username       *string
	Header         string // full header serialized as JSON
}

// HeaderAttrsFromMap promotes the well-known attributes of a decoded header
// mapping. Numeric attributes that fail to parse are dropped rather than
// failing the whole header.
func HeaderAttrsFromMap(hdr map[string]string) HeaderAttrs {
	return HeaderAttrs{
		CaptureTime:    headerTime(hdr, "DATE-OBS"),
		RightAscension: headerFloat(hdr, "OBJCTRA"),
		Declination:    headerFloat(hdr, "OBJCTDEC"),
		Altitude:       headerFloat(hdr, "ALTITUDE"),
		Azimuth:        headerFloat(hdr, "AZIMUTH"),
		Airmass:        headerFloat(hdr, "AIRMASS"),
		ExposureTime:   headerFloat(hdr, "EXPTIME"),
		Filter:         headerString(hdr, "FILTER"),
		UserID:         headerString(hdr, "USERID"),
		Username:       headerString(hdr, "USERNAME"),
		Header:         hdr["JSON"],
	}
}

func headerString(hdr map[string]string, key string) *string {
	v, ok := hdr[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func headerFloat(hdr map[string]string, key string) *float64 {
	v, ok := hdr[key]
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return nil
	}
	return &f
}

// Header capture times arrive in T-separated form, with or without
// fractional seconds or a zone suffix.
var headerTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func headerTime(hdr map[string]string, key string) *time.Time {
	v, ok := hdr[key]
	if !ok || v == "" {
		return nil
	}
	for _, layout := range headerTimeLayouts {
		if ts, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

// ArtifactFlagColumn resolves (fileType, reductionLevel) to the flag column
// an arriving artifact sets. Unrecognized combinations report ok=false and
// must be ignored by the caller. Raw (reduction 00) frames are one such case:
// they are tracked only through the retention table.
func ArtifactFlagColumn(fileType, reductionLevel string) (string, bool) {
	switch {
	case fileType == "jpg" && reductionLevel == "10":
		return "jpg_medium_exists", true
	case fileType == "jpg" && reductionLevel == "11":
		return "jpg_small_exists", true
	case fileType == "fits" && reductionLevel == "01":
		return "fits_01_exists", true
	case fileType == "fits" && reductionLevel == "10":
		return "fits_10_exists", true
	}
	return "", false
}
