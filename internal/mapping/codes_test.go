package mapping

import "testing"

func TestLibraryCode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"T", "MAIN"},
		{"Te", "TELGE"},
		{"X", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := LibraryCode(tc.in); got != tc.want {
			t.Errorf("LibraryCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLocationCodeNumericRanges(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"250.0", "sgd"},
		{"600.0", "ngd"},
		{"801.0", "hbd08"},
		{"1000.0", DefaultLocation},

		// Inclusive boundaries
		{"1", "sgd"},
		{"515.352", "sgd"},
		{"515.353", "ngd"},
		{"793.74", "ngd"},
		{"800", "hbd08"},
		{"802", "hbd08"},
		{"900", "ngd"},
		{"910.2", "ngd"},

		// Holes between the ranges
		{"793.75", DefaultLocation},
		{"910.3", DefaultLocation},
		{"0.5", DefaultLocation},

		// Call number with a trailing cutter
		{"515.353 Abc", "ngd"},
	}
	for _, tc := range cases {
		if got := LocationCode(tc.in); got != tc.want {
			t.Errorf("LocationCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestLocationCodeTextual(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Trita-diss.", "hbdok3"},
		{"Trita-EECS 2021:3", "hbdok3"},
		{"Lic.", "hblic3"},
		{"Lic. 1999", "hblic3"},
		{"Okat.", DefaultLocation},
		{"", DefaultLocation},
	}
	for _, tc := range cases {
		if got := LocationCode(tc.in); got != tc.want {
			t.Errorf("LocationCode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
