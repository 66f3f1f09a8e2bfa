// Package pkgbuild creates partitup packages: a squashfs image bundling a
// YAML layout file with its payload files, built by shelling out to
// mksquashfs, matching original_source/src/pu-package.c's pu_package_create
// (spec.md §6.1, "peripheral, for completeness").
package pkgbuild

import (
	"fmt"
	"os"
	"strings"

	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/shell"
)

var log = logger.Logger()

// Create bundles files into a squashfs image at output. output must not
// already exist and every entry in files must exist, matching
// pu_package_create's checks.
func Create(files []string, output string) error {
	if len(files) == 0 {
		return perrors.New(perrors.InputMissing, "no input files given")
	}

	if _, err := os.Stat(output); err == nil {
		return perrors.New(perrors.WriteFailed, fmt.Sprintf("package %q already exists", output))
	}

	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return perrors.Wrap(perrors.InputMissing, f, err)
		}
		log.Debugf("Input file %q exists", f)
	}

	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = shell.Quote(f)
	}
	cmd := fmt.Sprintf("mksquashfs %s %s", strings.Join(quoted, " "), shell.Quote(output))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.WriteFailed, output, fmt.Errorf("mksquashfs: %w", err))
	}
	return nil
}
