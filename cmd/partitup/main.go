// Command partitup provisions a block-storage or raw-flash device from a
// declarative YAML layout and an optional squashfs payload package.
//
// Grounded on original_source/src/pu-main.c's option list
// (-d/--debug, -s/--skip-checksums, -v/--version, --prefix) and its
// MustBeRoot -> whole-disk -> not-mounted -> package-mount -> plan ->
// execute sequence, wired here onto github.com/spf13/cobra the way the
// teacher's cmd/os-image-composer assembles one createXCommand() per
// subcommand.
package main

import (
	"fmt"
	"os"

	"github.com/phytec/partitup/internal/buildinfo"
	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/spf13/cobra"
)

var (
	flagDebug         bool
	flagSkipChecksums bool
	flagPrefix        string
)

func main() {
	root := &cobra.Command{
		Use:     "partitup",
		Short:   "Declarative block-storage and raw-flash provisioner",
		Version: buildinfo.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.SetDebug(flagDebug)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "Print debug messages")
	root.PersistentFlags().BoolVarP(&flagSkipChecksums, "skip-checksums", "s", false,
		"Skip checksum verification for all input files")
	root.PersistentFlags().StringVar(&flagPrefix, "prefix", "",
		"Override package-mount resolution base for payload filenames")

	root.AddCommand(createInstallCommand())
	root.AddCommand(createPackageCommand())
	root.AddCommand(createShowCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mustBeRoot enforces spec.md §6.1's "all require root" rule.
func mustBeRoot() error {
	if os.Geteuid() != 0 {
		return perrors.New(perrors.MustBeRoot, "partitup must be run as root")
	}
	return nil
}
