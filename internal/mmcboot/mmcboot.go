// Package mmcboot controls eMMC hardware boot-partition registers: the
// HWRESET and BOOTBUS function-block settings, the force_ro read-only
// sysfs toggle protecting each physical boot partition during a write, and
// the ACTIVE_BOOT_PARTITION selector (spec.md §4.5, last Phase-C step, and
// the "Read-only attribute protocol for boot partitions" rule).
//
// Grounded on original_source/src/pu-utils.c's pu_bootpart_enable (the
// "mmc bootpart enable" mmc-utils invocation) and pu_write_raw_bootpart's
// force_ro scoped-acquisition pattern; HWRESET/BOOTBUS are exposed by the
// same mmc-utils CLI family ("mmc hwreset"/"mmc bootbus"), invoked here
// through internal/shell exactly like the other command-line collaborators.
package mmcboot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/shell"
)

var log = logger.Logger()

// SetHWReset configures the eMMC HWRESET function, e.g. "enable" or
// "disable", via "mmc hwreset <mode> <device>". A blank mode is a no-op.
func SetHWReset(device, mode string) error {
	if mode == "" {
		return nil
	}
	cmd := fmt.Sprintf("mmc hwreset %s %s", shell.Quote(mode), shell.Quote(device))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.MmcIoctlFailed, device, fmt.Errorf("set hwreset %q: %w", mode, err))
	}
	return nil
}

// SetBootBus configures the eMMC BOOTBUS register via
// "mmc bootbus set <mode> <device>". A blank mode is a no-op.
func SetBootBus(device, mode string) error {
	if mode == "" {
		return nil
	}
	cmd := fmt.Sprintf("mmc bootbus set %s %s", shell.Quote(mode), shell.Quote(device))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.MmcIoctlFailed, device, fmt.Errorf("set bootbus %q: %w", mode, err))
	}
	return nil
}

// EnableBootPartition sets the ACTIVE_BOOT_PARTITION selector to which of
// the device's boot partitions (0, 1 or 2 for "none") the controller boots
// from, with the given boot_ack bit.
func EnableBootPartition(device string, which int, bootAck bool) error {
	ack := 0
	if bootAck {
		ack = 1
	}
	cmd := fmt.Sprintf("mmc bootpart enable %d %d %s", which, ack, shell.Quote(device))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.MmcIoctlFailed, device, fmt.Errorf("bootpart enable %d: %w", which, err))
	}
	return nil
}

// BootPartitionDevice returns the physical boot-partition device node for
// index b (0 or 1), e.g. /dev/mmcblk0boot0.
func BootPartitionDevice(device string, b int) string {
	return fmt.Sprintf("%sboot%d", device, b)
}

// WithWritable runs fn with bootPartDevice's force_ro attribute cleared,
// restoring it to read-only on every exit path (the "scoped acquisition"
// rule of spec.md §5), regardless of whether fn succeeds.
func WithWritable(bootPartDevice string, fn func() error) error {
	if err := setForceRO(bootPartDevice, false); err != nil {
		return err
	}
	defer func() {
		if restoreErr := setForceRO(bootPartDevice, true); restoreErr != nil {
			log.Errorf("Failed restoring force_ro on %s: %v", bootPartDevice, restoreErr)
		}
	}()
	return fn()
}

func setForceRO(bootPartDevice string, readOnly bool) error {
	path := filepath.Join("/sys/class/block", filepath.Base(bootPartDevice), "force_ro")
	value := "0"
	if readOnly {
		value = "1"
	}
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return perrors.Wrap(perrors.MmcIoctlFailed, path, err)
	}
	return nil
}
