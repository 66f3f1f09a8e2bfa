package main

import (
	"github.com/phytec/partitup/internal/pkgbuild"
	"github.com/spf13/cobra"
)

func createPackageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "package FILE... OUTPUT",
		Short: "Create a partitup package",
		Long: `Bundle one or more input files (the layout YAML plus its payload files)
into a squashfs image at OUTPUT.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := mustBeRoot(); err != nil {
				return err
			}
			files := args[:len(args)-1]
			output := args[len(args)-1]
			return pkgbuild.Create(files, output)
		},
	}
}
