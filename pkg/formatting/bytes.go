// Package formatting converts byte sizes between counts and the
// human-readable strings used in configuration ("5MB", "1.5 MiB").
package formatting

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

var units = []string{
	"B", "KB", "MB",
	"GB", "TB", "PB",
	"EB", "ZB", "YB",
}

// FormatBytes converts a byte count to a human-readable string using base-1024 units.
// Negative precision values are clamped to zero. Negative counts keep their sign.
func FormatBytes(n int64, precision int) string {
	if n == 0 {
		return "0 B"
	}
	if n < 0 {
		return "-" + FormatBytes(-n, precision)
	}

	precision = max(precision, 0)

	f := float64(n)
	i := min(int(math.Floor(math.Log(f)/math.Log(1024))), len(units)-1)

	size := f / math.Pow(1024, float64(i))
	return strconv.FormatFloat(size, 'f', precision, 64) + " " + units[i]
}

// ParseBytes parses a human-readable byte size string (e.g., "50MB") into a byte count.
// Units B through YB are base-1024; the IEC spellings (KiB, MiB, ...) are accepted
// as synonyms. A bare number is bytes. Matching is case-insensitive and a space
// between number and unit is allowed.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})

	number, unit := s, ""
	if split >= 0 {
		number, unit = s[:split], strings.TrimSpace(s[split:])
	}
	if number == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	value, err := strconv.ParseFloat(number, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size number: %w", err)
	}

	idx, err := unitIndex(unit)
	if err != nil {
		return 0, err
	}

	return int64(value * math.Pow(1024, float64(idx))), nil
}

func unitIndex(unit string) (int, error) {
	if unit == "" {
		return 0, nil
	}

	u := strings.ToUpper(unit)
	if len(u) == 3 && u[1] == 'I' && u[2] == 'B' {
		u = u[:1] + "B"
	}

	idx := slices.Index(units, u)
	if idx == -1 {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}
	return idx, nil
}
