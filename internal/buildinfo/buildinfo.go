// Package buildinfo holds the provisioner's version banner
// (-v/--version, spec.md §6.1), matching original_source/src/pu-version.h's
// PARTUP_VERSION_STRING compile-time constant: Version defaults to "dev"
// and is overridden at build time via -ldflags
// "-X github.com/phytec/partitup/internal/buildinfo.Version=...".
package buildinfo

// Version is the provisioner's release version string.
var Version = "dev"

// MajorVersion is compared against a layout's api-version (spec.md §6.2):
// a layout whose api-version exceeds this fails with ConfigApiIncompatible.
const MajorVersion = 1

// Banner returns the "<prog> <version>" line pu-main.c prints for
// --version.
func Banner(progName string) string {
	return progName + " " + Version
}
