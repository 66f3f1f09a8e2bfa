// Package device is the backing-device abstraction: it opens a device or
// regular file, reports sector size and total sector count, and builds the
// partition-node path for a given partition index.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/phytec/partitup/internal/perrors"
	"golang.org/x/sys/unix"
)

const defaultSectorSize = 512

// Device is an opened backing device (a real block device or, for tests, a
// regular file standing in for one).
type Device struct {
	Path        string
	file        *os.File
	sectorSize  int64
	totalSectors int64
	isBlockDev  bool
}

// SectorSize implements config.SectorDevice.
func (d *Device) SectorSize() int64 { return d.sectorSize }

// TotalSectors is the device's capacity, in sectors of SectorSize bytes.
func (d *Device) TotalSectors() int64 { return d.totalSectors }

// File exposes the underlying *os.File for raw reads/writes.
func (d *Device) File() *os.File { return d.file }

// Open opens path (a whole-disk device node or a regular file) and probes
// its sector size and capacity.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
	}

	d := &Device{Path: path, file: f}

	if info.Mode()&os.ModeDevice != 0 {
		d.isBlockDev = true
		ssz, err := sectorSizeIoctl(f)
		if err != nil {
			f.Close()
			return nil, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
		}
		total, err := totalSizeIoctl(f)
		if err != nil {
			f.Close()
			return nil, perrors.Wrap(perrors.DeviceOpenFailed, path, err)
		}
		d.sectorSize = ssz
		d.totalSectors = total / ssz
	} else {
		d.sectorSize = defaultSectorSize
		d.totalSectors = info.Size() / d.sectorSize
	}

	return d, nil
}

// Close releases the device file handle.
func (d *Device) Close() error {
	if d.file == nil {
		return nil
	}
	return d.file.Close()
}

// PartitionPath returns the device node path for partition index k (1-based,
// matching the planner's partition-number assignment), e.g. /dev/sda -> /dev/sda1,
// /dev/mmcblk0 -> /dev/mmcblk0p1, /dev/loop0 -> /dev/loop0p1. A "p" is
// inserted only for mmcblk/nvme/loop names or names ending in a digit, so a
// regular file such as disk.img yields disk.img1.
func (d *Device) PartitionPath(k int) string {
	base := d.Path
	if needsPSeparator(base) {
		return fmt.Sprintf("%sp%d", base, k)
	}
	return fmt.Sprintf("%s%d", base, k)
}

var trailingDigit = regexp.MustCompile(`[0-9]$`)

// needsPSeparator reports whether the device name needs a "p" separator
// before the partition number (nvme/mmcblk/loop-style names, or any base
// name already ending in a digit, which would otherwise be ambiguous).
func needsPSeparator(base string) bool {
	name := filepath.Base(base)
	if strings.HasPrefix(name, "mmcblk") || strings.HasPrefix(name, "nvme") || strings.HasPrefix(name, "loop") {
		return true
	}
	return trailingDigit.MatchString(name)
}

// IsWholeDisk reports whether path names a whole-disk device (not a
// partition node), per spec.md §6.1's "DEVICE must be a whole disk" rule.
// We approximate blkid's probe by checking sysfs for a "partition"
// attribute, which only partition nodes carry.
func IsWholeDisk(path string) (bool, error) {
	name := filepath.Base(path)
	sysPath := filepath.Join("/sys/class/block", name, "partition")
	if _, err := os.Stat(sysPath); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

// MountedPartitions reports whether any partition of dev (by whole-disk
// path) is currently mounted, consulting /proc/mounts. Used to refuse
// provisioning a busy device per the resource model (§5).
func MountedPartitions(devPath string) ([]string, error) {
	data, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return nil, err
	}
	base := filepath.Base(devPath)
	var mounted []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		devField := filepath.Base(fields[0])
		if strings.HasPrefix(devField, base) {
			mounted = append(mounted, fields[0])
		}
	}
	return mounted, nil
}

func sectorSizeIoctl(f *os.File) (int64, error) {
	sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, fmt.Errorf("BLKSSZGET: %w", err)
	}
	return int64(sz), nil
}

func totalSizeIoctl(f *os.File) (int64, error) {
	size, err := unix.IoctlGetUint64(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("BLKGETSIZE64: %w", err)
	}
	return int64(size), nil
}

// ParseIndex parses the trailing partition number off a partition node path,
// used by components that need to go from node path back to index.
func ParseIndex(partPath string) (int, error) {
	m := regexp.MustCompile(`([0-9]+)$`).FindStringSubmatch(partPath)
	if m == nil {
		return 0, fmt.Errorf("no trailing partition number in %q", partPath)
	}
	return strconv.Atoi(m[1])
}
