// Package events defines the notification shapes the pipeline consumes,
// decoupled from the AWS event envelope types used at the Lambda edge.
package events

import (
	"strings"
	"time"
)

// ObjectCreated describes one new object in the archive bucket.
type ObjectCreated struct {
	Bucket    string
	Key       string // {storageArea}/{filename}
	EventTime time.Time
	SizeBytes int64
}

// StorageArea returns the leading key segment, e.g. "data" for
// "data/wmd-ea03-20190621-00000007-EX00.fits.bz2".
func (e ObjectCreated) StorageArea() string {
	area, _, _ := strings.Cut(e.Key, "/")
	return area
}

// Filename returns the trailing key segment.
func (e ObjectCreated) Filename() string {
	if i := strings.LastIndex(e.Key, "/"); i >= 0 {
		return e.Key[i+1:]
	}
	return e.Key
}

// RetentionRemoval describes the expiry-sweep removal of one expiration
// entry. Only removal events reach the cascade; creations and updates on the
// retention table are filtered out at the edge.
type RetentionRemoval struct {
	BaseID      string
	StorageArea string
}
