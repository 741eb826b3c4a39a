package kibi

// Package kibi formats and parses byte sizes in binary multiples, eg "20 MB" = 20 * 1024 * 1024.

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrInvalidByteSizeString = errors.New("Invalid byte size string")

var units = []string{"bytes", "KB", "MB", "GB", "TB", "PB"}

var sizeRegex = regexp.MustCompile(`^(\d+)\s*([a-z]*)$`)

// FormatBytes rounds down to the largest whole unit, eg 1536 -> "1 KB"
func FormatBytes(b int64) string {
	unit := 0
	for b >= 1024 && unit < len(units)-1 {
		b /= 1024
		unit++
	}
	return fmt.Sprintf("%v %v", b, units[unit])
}

// ParseBytes accepts a number with an optional unit suffix.
// The suffix is case insensitive, and may be abbreviated to its first letter.
// Examples: "123", "50 bytes", "20 MB", "20mb", "20 m", "2 G".
func ParseBytes(v string) (int64, error) {
	match := sizeRegex.FindStringSubmatch(strings.ToLower(strings.TrimSpace(v)))
	if match == nil {
		return 0, fmt.Errorf("%w: '%v'", ErrInvalidByteSizeString, v)
	}
	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: '%v': %w", ErrInvalidByteSizeString, v, err)
	}
	suffix := match[2]
	if suffix == "" || suffix == "b" || suffix == "bytes" {
		return value, nil
	}
	for i, unit := range units[1:] {
		unit = strings.ToLower(unit)
		if suffix == unit || suffix == unit[:1] {
			shift := 10 * (i + 1)
			if value > math.MaxInt64>>shift {
				return 0, fmt.Errorf("%w: '%v' is too large", ErrInvalidByteSizeString, v)
			}
			return value << shift, nil
		}
	}
	return 0, fmt.Errorf("%w: '%v'", ErrInvalidByteSizeString, v)
}
