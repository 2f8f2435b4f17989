// Package fitshdr decodes FITS header metadata into a flat string mapping.
//
// Two encodings arrive from the sites: a plain text file holding the header
// as fixed 80-byte records, and the header embedded in a (possibly
// bz2-compressed) binary FITS image. Both decode to the same shape so the
// rest of the pipeline does not care which one it got.
package fitshdr

import (
	"bytes"
	"compress/bzip2"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/astrogo/fitsio"
)

// JSONKey holds the full decoded mapping serialized as JSON. It is stored
// alongside the typed columns so the complete header survives even when only
// a handful of attributes are promoted to columns.
const JSONKey = "JSON"

// endSentinel terminates a header; records after it are padding.
const endSentinel = "END"

const recordLen = 80

// DecodeText decodes a fixed-record FITS text header.
//
// The input is segmented into 80-byte records. The first 8 bytes of a record
// are the attribute name; the value starts at offset 10, past the "= "
// separator. Record order defines override order: a later record wins on a
// duplicate name. Decoding stops once the END sentinel is recorded.
// Malformed records are skipped with a warning, never fatal.
func DecodeText(b []byte) map[string]string {
	hdr := make(map[string]string)

	for i := 0; i < len(b); i += recordLen {
		end := i + recordLen
		if end > len(b) {
			end = len(b)
		}
		rec := string(b[i:end])

		name := rec
		if len(name) > 8 {
			name = name[:8]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if len(rec) <= 10 {
			if name == endSentinel {
				hdr[name] = ""
				break
			}
			slog.Warn("fitshdr: skipping truncated header record", "record", rec)
			continue
		}

		hdr[name] = parseValue(rec[10:])
		if name == endSentinel {
			break
		}
	}

	attachJSON(hdr)
	return hdr
}

// parseValue extracts the value portion of a header record, past the "= "
// separator. Quoted strings keep the text between the first pair of single
// quotes; otherwise everything before the first '/' (comment delimiter)
// counts, trimmed.
func parseValue(after string) string {
	beforeComment, _, _ := strings.Cut(after, "/")
	if strings.Contains(beforeComment, "'") {
		parts := strings.SplitN(after, "'", 3)
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(beforeComment)
}

// DecodeImage decodes the primary-HDU header embedded in a binary FITS
// image, transparently decompressing bz2 payloads. The result has the same
// shape as DecodeText output, so it can substitute for a lost or delayed
// text header.
func DecodeImage(b []byte) (map[string]string, error) {
	var r io.Reader = bytes.NewReader(b)
	if bytes.HasPrefix(b, []byte("BZh")) {
		r = bzip2.NewReader(r)
	}

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("open fits image: %w", err)
	}
	defer f.Close()

	hdus := f.HDUs()
	if len(hdus) == 0 {
		return nil, fmt.Errorf("fits image has no HDUs")
	}

	hdr := make(map[string]string)
	h := hdus[0].Header()
	for _, key := range h.Keys() {
		card := h.Get(key)
		if card == nil || card.Value == nil {
			continue
		}
		hdr[key] = strings.TrimSpace(fmt.Sprint(card.Value))
	}

	attachJSON(hdr)
	return hdr, nil
}

func attachJSON(hdr map[string]string) {
	blob, err := json.Marshal(hdr)
	if err != nil {
		// Maps of strings always marshal; keep the signature simple.
		slog.Warn("fitshdr: failed to serialize header", "error", err)
		return
	}
	hdr[JSONKey] = string(blob)
}
