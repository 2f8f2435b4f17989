// Package retention schedules and executes the time-based deletion of
// short-lived observation data. Registration writes a single expiration
// entry per observation into a TTL-swept table; the table's own expiry is
// the trigger for the cascade that erases the object store files and, for
// primary data, the observation row.
package retention

import "time"

// Storage areas a cascade can target. Primary observation data erases both
// the object store files and the observation row; info imagery erases only
// the files.
const (
	AreaData       = "data"
	AreaInfoImages = "info-images"
)

// TestSite gets a short lifespan for any expiring data class, so retention
// can be exercised without waiting out production windows.
const TestSite = "tst"

const testSiteLifespan = 5 * time.Minute

// lifespans maps the retention-limited data classes to how long their files
// stay in the archive. Classes not listed here never expire.
var lifespans = map[string]time.Duration{
	"EP": 7 * 24 * time.Hour, // experimental exposures
	"EF": 24 * time.Hour,     // focus frames
}

// Expires reports whether dataClass is retention-limited at all.
func Expires(dataClass string) bool {
	_, ok := lifespans[dataClass]
	return ok
}

// Lifespan returns the retention duration for (site, dataClass), or
// ok=false when that data class is kept forever.
func Lifespan(site, dataClass string) (time.Duration, bool) {
	d, ok := lifespans[dataClass]
	if !ok {
		return 0, false
	}
	if site == TestSite {
		return testSiteLifespan, true
	}
	return d, true
}
