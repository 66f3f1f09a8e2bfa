// Package mtdctl drives the raw-flash (MTD) backend: enumerating and
// deleting existing kernel-side partition descriptors, adding new ones and
// erasing their content, mirroring original_source/src/pu-mtd.c's use of
// the mtd-utils "mtdpart add"/"mtdpart del" and "flash_erase" command-line
// tools (invoked the same way the rest of the codebase shells out, via
// internal/shell, rather than the raw BLKPG/MEMERASE ioctls pu-mtd.c's
// includes suggest but does not actually use directly).
package mtdctl

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/planner"
	"github.com/phytec/partitup/internal/shell"
)

var partNumRegexp = regexp.MustCompile(`[0-9]+$`)

// ExistingPartitions lists the MTD partition device numbers currently
// registered under devicePath (e.g. "2" for /dev/mtd2), by reading
// /sys/class/mtd/<device>/ the way pu_mtd_enumerate_partitions does.
func ExistingPartitions(devicePath string) ([]int, error) {
	sysfsPath := filepath.Join("/sys/class/mtd", filepath.Base(devicePath))
	entries, err := os.ReadDir(sysfsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perrors.Wrap(perrors.MmcIoctlFailed, sysfsPath, err)
	}

	var nums []int
	for _, e := range entries {
		if !partNumRegexp.MatchString(e.Name()) {
			continue
		}
		n, err := strconv.Atoi(partNumRegexp.FindString(e.Name()))
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// DeleteAll removes every existing partition descriptor of devicePath, the
// raw-flash analogue of discarding a stale partition table (Phase A).
func DeleteAll(devicePath string) error {
	nums, err := ExistingPartitions(devicePath)
	if err != nil {
		return err
	}
	for _, n := range nums {
		cmd := fmt.Sprintf("mtdpart del %s %d", shell.Quote(devicePath), n)
		if _, err := shell.ExecCmd(cmd); err != nil {
			return perrors.Wrap(perrors.WriteFailed, devicePath, fmt.Errorf("delete mtd partition %d: %w", n, err))
		}
	}
	return nil
}

// AddAll creates one MTD partition per entry in plan, in order (Phase B),
// then erases the content of every partition marked Erase.
func AddAll(devicePath string, plan *planner.FlashPlan) error {
	for _, p := range plan.Partitions {
		cmd := fmt.Sprintf("mtdpart add %s %s %d %d",
			shell.Quote(devicePath), shell.Quote(p.Name), p.OffsetBytes, p.SizeBytes)
		if _, err := shell.ExecCmd(cmd); err != nil {
			return perrors.Wrap(perrors.WriteFailed, devicePath, fmt.Errorf("add mtd partition %q: %w", p.Name, err))
		}
	}

	nums, err := ExistingPartitions(devicePath)
	if err != nil {
		return err
	}
	if len(nums) != len(plan.Partitions) {
		return perrors.New(perrors.PartitionsNotReady,
			fmt.Sprintf("expected %d mtd partitions, kernel shows %d", len(plan.Partitions), len(nums)))
	}

	for i, p := range plan.Partitions {
		if !p.Erase {
			continue
		}
		cmd := fmt.Sprintf("flash_erase -q /dev/mtd%d 0 0", nums[i])
		if _, err := shell.ExecCmd(cmd); err != nil {
			return perrors.Wrap(perrors.WriteFailed, devicePath, fmt.Errorf("erase mtd partition %q: %w", p.Name, err))
		}
	}
	return nil
}

// DeviceSize returns the total size, in bytes, of devicePath as reported by
// sysfs, matching how pu_mtd_init_device reads the backing device's
// geometry before planning.
func DeviceSize(devicePath string) (int64, error) {
	return readSysfsInt(devicePath, "size")
}

// EraseSize returns devicePath's erase-block size in bytes.
func EraseSize(devicePath string) (int64, error) {
	return readSysfsInt(devicePath, "erasesize")
}

func readSysfsInt(devicePath, attr string) (int64, error) {
	path := filepath.Join("/sys/class/mtd", filepath.Base(devicePath), attr)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 0, 64)
	if err != nil {
		return 0, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
	}
	return n, nil
}

// PartitionDevice returns the /dev/mtd<N> node for the n-th (0-based)
// partition created by AddAll, reading back the kernel-assigned device
// number rather than assuming a fixed numbering.
func PartitionDevice(devicePath string, n int) (string, error) {
	nums, err := ExistingPartitions(devicePath)
	if err != nil {
		return "", err
	}
	if n < 0 || n >= len(nums) {
		return "", perrors.New(perrors.PartitionsNotReady,
			fmt.Sprintf("mtd partition index %d out of range (%d present)", n, len(nums)))
	}
	return fmt.Sprintf("/dev/mtd%d", nums[n]), nil
}
