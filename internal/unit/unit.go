// Package unit parses the byte- and sector-count strings accepted by the
// layout YAML (e.g. "32MiB", "1000000", "64") per the provisioner's unit
// grammar.
package unit

import (
	"fmt"
	"strconv"
	"strings"
)

// factors maps a case-insensitive unit suffix to its byte multiplier.
// Decimal units are powers of 1000, binary units are powers of 1024; an
// absent suffix means bytes. Order matters only for longest-prefix lookups,
// which we avoid by matching on the full remaining suffix instead.
var factors = map[string]int64{
	"b":   1,
	"kb":  1000,
	"mb":  1000 * 1000,
	"gb":  1000 * 1000 * 1000,
	"tb":  1000 * 1000 * 1000 * 1000,
	"kib": 1024,
	"mib": 1024 * 1024,
	"gib": 1024 * 1024 * 1024,
	"tib": 1024 * 1024 * 1024 * 1024,
}

// ParseBytes converts a string such as "32MiB" or "1000000" into a byte
// count. Absent unit means bytes. Rejects negative, fractional, and
// punctuated inputs.
func ParseBytes(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("parse bytes %q: empty string", s)
	}

	for _, r := range s {
		if r == '.' || r == '-' || r == '+' || r == ',' {
			return 0, fmt.Errorf("parse bytes %q: unexpected character %q", s, r)
		}
	}

	digitsLen := 0
	for digitsLen < len(s) && s[digitsLen] >= '0' && s[digitsLen] <= '9' {
		digitsLen++
	}
	if digitsLen == 0 {
		return 0, fmt.Errorf("parse bytes %q: no digits", s)
	}

	digits := s[:digitsLen]
	suffix := s[digitsLen:]
	if suffix == "" {
		suffix = "B"
	}

	factor, ok := factors[strings.ToLower(suffix)]
	if !ok {
		return 0, fmt.Errorf("parse bytes %q: unknown unit %q", s, suffix)
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse bytes %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse bytes %q: negative value", s)
	}

	result := n * factor
	if factor != 0 && result/factor != n {
		return 0, fmt.Errorf("parse bytes %q: overflow", s)
	}
	return result, nil
}

// isPlainInteger reports whether s is only ASCII digits (no unit suffix).
func isPlainInteger(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SectorOf converts a string to a sector count given the device's sector
// size. A bare integer string (no unit) is interpreted directly as a sector
// count; anything else is parsed as bytes and divided by sectorSize,
// truncating toward zero.
func SectorOf(s string, sectorSize int64) (int64, error) {
	if sectorSize <= 0 {
		return 0, fmt.Errorf("sector_of %q: invalid sector size %d", s, sectorSize)
	}
	if isPlainInteger(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sector_of %q: %w", s, err)
		}
		return n, nil
	}

	bytes, err := ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("sector_of %q: %w", s, err)
	}
	return bytes / sectorSize, nil
}
