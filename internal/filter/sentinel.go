package filter

import (
	"strings"
	"time"
)

// Diagnostic fragments the reader writes to the scan channel when it cannot
// open the device. They arrive after normalization, so spaces are gone.
var sentinels = []string{
	"Deviceopenfailure",
	"Portalreadyinuse",
}

// Scan is a normalized card UID and the time it was read.
type Scan struct {
	UID        string
	ObservedAt time.Time
}

// Normalize strips every byte that is not an ASCII letter or digit.
func Normalize(chunk []byte) string {
	var sb strings.Builder
	sb.Grow(len(chunk))
	for _, b := range chunk {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// IsSentinel reports whether candidate contains a known reader diagnostic.
func IsSentinel(candidate string) bool {
	for _, s := range sentinels {
		if strings.Contains(candidate, s) {
			return true
		}
	}
	return false
}
