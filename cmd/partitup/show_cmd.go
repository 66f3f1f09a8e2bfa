package main

import (
	"fmt"
	"sort"

	"github.com/phytec/partitup/internal/humanize"
	"github.com/phytec/partitup/internal/pkgaccess"
	"github.com/spf13/cobra"
)

func createShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show PACKAGE",
		Short: "Show package contents",
		Long:  `List a partitup package's contents recursively with human-sized byte counts.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0])
		},
	}
}

func runShow(cmd *cobra.Command, packagePath string) error {
	if err := mustBeRoot(); err != nil {
		return err
	}

	pkg, err := pkgaccess.Mount(packagePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := pkg.Close(); err != nil {
			log.Errorf("Failed unmounting package %s: %v", packagePath, err)
		}
	}()

	entries, err := pkg.List()
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s  %s  %s\n",
			e.Path, humanize.Bytes(e.Size), e.ModTime.Format("2006-01-02 15:04:05"))
	}
	return nil
}
