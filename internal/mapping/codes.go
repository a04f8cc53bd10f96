// Package mapping converts raw Libris field values into Alma vocabulary and
// payloads. Everything here is a pure function over a parsed record; the
// lookup tables are fixed.
package mapping

import (
	"strconv"
	"strings"
)

// DefaultLocation is the catch-all shelving location.
const DefaultLocation = "hbd"

// LibraryCode maps a Libris 852 $b sigel to the Alma library code. Unmapped
// values yield the empty string and the subfield is omitted, not an error.
func LibraryCode(b string) string {
	switch b {
	case "T":
		return "MAIN"
	case "Te":
		return "TELGE"
	default:
		return ""
	}
}

// LocationCode maps an 852 $h shelf mark to the Alma shelving location.
//
// Shelf marks that start with a parseable call number are classified by
// inclusive ranges; the remaining textual marks by exact match first, then
// substring, then the catch-all default.
func LocationCode(h string) string {
	if v, ok := callNumber(h); ok {
		switch {
		case v >= 1 && v <= 515.352:
			return "sgd"
		case v >= 515.353 && v <= 793.74:
			return "ngd"
		case v >= 900 && v <= 910.2:
			return "ngd"
		case v >= 800 && v <= 802:
			return "hbd08"
		default:
			return DefaultLocation
		}
	}

	switch {
	case h == "Trita-diss.":
		return "hbdok3"
	case h == "Lic.":
		return "hblic3"
	case strings.Contains(h, "Trita"):
		return "hbdok3"
	case strings.Contains(h, "Lic"):
		return "hblic3"
	default:
		return DefaultLocation
	}
}

// callNumber parses the leading token of a shelf mark as a Dewey-style call
// number. "515.353 Abc" classifies by 515.353.
func callNumber(h string) (float64, bool) {
	fields := strings.Fields(h)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
