// Package humanize formats byte counts for human consumption, as the
// `show` command needs (spec.md §6.1).
//
// Grounded on the teacher's internal/utils/display size formatting (which
// only distinguished MB/GB); generalized here to the binary KiB/MiB/GiB/TiB
// tier ladder (powers of 1024), with plain bytes below 1 KiB. Decimal
// units (kB/MB/GB/TB) are never printed.
package humanize

import "fmt"

var tiers = []struct {
	suffix string
	factor float64
}{
	{"TiB", 1024 * 1024 * 1024 * 1024},
	{"GiB", 1024 * 1024 * 1024},
	{"MiB", 1024 * 1024},
	{"KiB", 1024},
}

// Bytes renders n bytes as a human-readable size, e.g. "32.00 MiB".
func Bytes(n int64) string {
	f := float64(n)
	for _, t := range tiers {
		if f >= t.factor {
			return fmt.Sprintf("%.2f %s", f/t.factor, t.suffix)
		}
	}
	return fmt.Sprintf("%d B", n)
}
