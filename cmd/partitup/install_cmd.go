package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/phytec/partitup/internal/buildinfo"
	"github.com/phytec/partitup/internal/config"
	"github.com/phytec/partitup/internal/device"
	"github.com/phytec/partitup/internal/execengine"
	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/mtdctl"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/pkgaccess"
	"github.com/phytec/partitup/internal/planner"
	"github.com/spf13/cobra"
)

var log = logger.Logger()

func createInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install PACKAGE DEVICE",
		Short: "Install a layout onto a device",
		Long: `Mount PACKAGE (a squashfs image) read-only, locate the single layout
descriptor inside it, and run the init/partition/write sequence on DEVICE.
DEVICE must be a whole disk, not a partition node.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(args[0], args[1])
		},
	}
}

// fileResolver implements planner.FileResolver by stat-ing filenames
// relative to a fixed base directory.
type fileResolver struct {
	base string
}

func (r fileResolver) Stat(filename string) (int64, error) {
	path := filename
	if !filepath.IsAbs(filename) && r.base != "" {
		path = filepath.Join(r.base, filename)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, perrors.Wrap(perrors.InputMissing, path, err)
	}
	return info.Size(), nil
}

func runInstall(packagePath, devicePath string) error {
	if err := mustBeRoot(); err != nil {
		return err
	}

	isWhole, err := device.IsWholeDisk(devicePath)
	if err != nil {
		return fmt.Errorf("checking whether %s is a drive: %w", devicePath, err)
	}
	if !isWhole {
		return perrors.New(perrors.NotAWholeDisk, fmt.Sprintf("device %q is not a whole disk", devicePath))
	}

	mounted, err := device.MountedPartitions(devicePath)
	if err != nil {
		return fmt.Errorf("checking whether %s is in use: %w", devicePath, err)
	}
	if len(mounted) > 0 {
		return perrors.New(perrors.DeviceBusy, fmt.Sprintf("device %q is in use", devicePath))
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

	manifestPath, err := pkg.ManifestPath()
	if err != nil {
		return err
	}
	manifest, err := os.Open(manifestPath)
	if err != nil {
		return perrors.Wrap(perrors.InputMissing, manifestPath, err)
	}
	defer manifest.Close()

	root, err := config.Load(manifest)
	if err != nil {
		return err
	}

	apiVersion := config.LookupInt(root, "api-version", 0)
	if apiVersion > buildinfo.MajorVersion {
		return perrors.New(perrors.ConfigApiIncompatible,
			fmt.Sprintf("layout api-version %d is not compatible with program version %d",
				apiVersion, buildinfo.MajorVersion))
	}

	resolveBase := flagPrefix
	if resolveBase == "" {
		resolveBase = pkg.Root()
	}
	resolver := fileResolver{base: resolveBase}

	if isRawFlashDevice(devicePath) {
		return runFlashInstall(root, devicePath, resolver, resolveBase)
	}
	return runBlockInstall(root, devicePath, resolver, resolveBase)
}

// isRawFlashDevice reports whether devicePath names an MTD raw-flash
// device (/dev/mtdN) rather than a block device, the same naming
// convention original_source/src/pu-mtd.c's device paths follow.
func isRawFlashDevice(devicePath string) bool {
	return strings.HasPrefix(filepath.Base(devicePath), "mtd")
}

func runBlockInstall(root *config.Value, devicePath string, resolver fileResolver, resolveBase string) error {
	dev, err := device.Open(devicePath)
	if err != nil {
		return err
	}
	defer dev.Close()

	plan, err := planner.PlanBlock(root, planner.BlockPlanContext{
		SectorSizeBytes: dev.SectorSize(),
		TotalSectors:    dev.TotalSectors(),
		Resolver:        resolver,
		SkipChecksums:   flagSkipChecksums,
	})
	if err != nil {
		return err
	}

	engine := &execengine.Engine{
		Device:        dev,
		Plan:          plan,
		SkipChecksums: flagSkipChecksums,
		Prefix:        resolveBase,
	}
	return engine.Run(context.Background())
}

func runFlashInstall(root *config.Value, devicePath string, resolver fileResolver, resolveBase string) error {
	size, err := mtdctl.DeviceSize(devicePath)
	if err != nil {
		return err
	}
	eraseSize, err := mtdctl.EraseSize(devicePath)
	if err != nil {
		return err
	}

	plan, err := planner.PlanFlash(root, planner.FlashPlanContext{
		DeviceSizeBytes: size,
		EraseBlockSize:  eraseSize,
		Resolver:        resolver,
	})
	if err != nil {
		return err
	}

	engine := &execengine.FlashEngine{
		DevicePath:    devicePath,
		Plan:          plan,
		Prefix:        resolveBase,
		SkipChecksums: flagSkipChecksums,
	}
	return engine.Run()
}
