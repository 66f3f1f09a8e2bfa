package execengine

import (
	"fmt"
	"os"

	"github.com/phytec/partitup/internal/checksum"
	"github.com/phytec/partitup/internal/mtdctl"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/planner"
	"github.com/phytec/partitup/internal/shell"
)

// FlashEngine executes a frozen *planner.FlashPlan against a raw-flash
// (MTD) device, grounded on original_source/src/pu-mtd.c's
// init_device/setup_layout/write_data sequence: delete any existing MTD
// partitions, add the planned ones and erase those marked Erase, then
// write each partition's input with flashcp and verify it raw.
type FlashEngine struct {
	DevicePath    string
	Plan          *planner.FlashPlan
	Prefix        string
	SkipChecksums bool
}

// Run executes all three raw-flash phases in order.
func (e *FlashEngine) Run() error {
	if err := mtdctl.DeleteAll(e.DevicePath); err != nil {
		return err
	}
	if err := mtdctl.AddAll(e.DevicePath, e.Plan); err != nil {
		return err
	}
	return e.writeData()
}

func (e *FlashEngine) writeData() error {
	for i, p := range e.Plan.Partitions {
		if p.Input == nil {
			continue
		}
		partDev, err := mtdctl.PartitionDevice(e.DevicePath, i)
		if err != nil {
			return err
		}

		path := resolvePath(p.Input.Filename, e.Prefix)
		cmd := fmt.Sprintf("flashcp %s %s", shell.Quote(path), shell.Quote(partDev))
		if _, err := shell.ExecCmd(cmd); err != nil {
			return perrors.Wrap(perrors.WriteFailed, partDev, fmt.Errorf("flashcp %q: %w", p.Name, err))
		}

		if e.SkipChecksums || !p.Input.HasChecksum() {
			continue
		}
		if err := e.verifyWritten(partDev, *p.Input); err != nil {
			return err
		}
	}
	return nil
}

// verifyWritten re-reads exactly input.Size bytes from the start of
// partDev and compares against the caller-supplied checksum(s), matching
// pu_mtd_write_data's pu_checksum_verify_raw(part_dev, 0, input->_size, ...).
func (e *FlashEngine) verifyWritten(partDev string, input planner.Input) error {
	f, err := os.Open(partDev)
	if err != nil {
		return perrors.Wrap(perrors.ChecksumMismatch, partDev, err)
	}
	defer f.Close()

	if input.SHA256Sum != "" {
		if err := checksum.VerifyRaw(f, 0, input.Size, input.SHA256Sum, checksum.SHA256); err != nil {
			return err
		}
	}
	if input.MD5Sum != "" {
		if err := checksum.VerifyRaw(f, 0, input.Size, input.MD5Sum, checksum.MD5); err != nil {
			return err
		}
	}
	return nil
}
