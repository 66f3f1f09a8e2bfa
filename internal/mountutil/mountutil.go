// Package mountutil manages scratch mount points under a single prefix and
// wraps mount(8)/umount(8), paralleling original_source/src/pu-mount.c's
// pu_create_mount_point/pu_mount/pu_umount/pu_umount_all.
package mountutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/phytec/partitup/internal/device"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/shell"
)

// Prefix is the scratch mount root; spec.md §5 documents this as an
// exclusively-owned resource for the duration of execution.
const Prefix = "/run/partitup/mount"

// CreateMountPoint returns the scratch mount point for name, creating it
// (and any parents) if it does not already exist.
func CreateMountPoint(name string) (string, error) {
	mountPoint := filepath.Join(Prefix, name)
	if info, err := os.Stat(mountPoint); err == nil && info.IsDir() {
		return mountPoint, nil
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return "", perrors.Wrap(perrors.MountFailed, mountPoint, err)
	}
	return mountPoint, nil
}

// Mount mounts source at mountPoint with the given filesystem type and
// comma-separated options ("" for either means "let mount(8) decide").
func Mount(source, mountPoint, fstype, options string) error {
	cmd := fmt.Sprintf("mount %s %s %s %s",
		fsTypeFlag(fstype), optionsFlag(options), shell.Quote(source), shell.Quote(mountPoint))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.MountFailed, fmt.Sprintf("%s -> %s", source, mountPoint), err)
	}
	return nil
}

func fsTypeFlag(fstype string) string {
	if fstype == "" {
		return ""
	}
	return "-t " + fstype
}

func optionsFlag(options string) string {
	if options == "" {
		return ""
	}
	return "-o " + options
}

// Umount unmounts mountPoint.
func Umount(mountPoint string) error {
	cmd := fmt.Sprintf("umount %s", shell.Quote(mountPoint))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.UmountFailed, mountPoint, err)
	}
	return nil
}

// UmountAll unmounts every currently-mounted partition of devPath,
// best-effort: it keeps going after a failure and returns the first error
// encountered, matching pu_umount_all's semantics where the write-failure
// cleanup path in the execution engine treats this as advisory.
func UmountAll(devPath string) error {
	mounted, err := device.MountedPartitions(devPath)
	if err != nil {
		return perrors.Wrap(perrors.UmountFailed, devPath, err)
	}
	var firstErr error
	for _, m := range mounted {
		if err := Umount(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
