// Package execengine drives the three-phase write/verify engine of
// spec.md §4.5/§4.6: initialise the device, commit the partition table and
// wait for the kernel to observe it, then fill partitions, clean byte
// ranges, write raw binaries and configure eMMC boot partitions.
//
// Grounded on original_source/src/pu-main.c's top-level
// init_device/setup_layout/write_data call sequence and on
// pu-utils.c's pu_make_filesystem/pu_resize_filesystem/pu_write_raw shell
// and syscall patterns, reworked into the State machine spec.md §4.5
// names explicitly (Start → Initialised → Partitioned → Filled → Cleaned
// → RawWritten → MmcConfigured → Done).
package execengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phytec/partitup/internal/archive"
	"github.com/phytec/partitup/internal/checksum"
	"github.com/phytec/partitup/internal/device"
	"github.com/phytec/partitup/internal/diskio"
	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/mmcboot"
	"github.com/phytec/partitup/internal/mountutil"
	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/planner"
	"github.com/phytec/partitup/internal/shell"
)

var log = logger.Logger()

// State is a step of the block-device execution state machine (§4.5).
type State int

const (
	Start State = iota
	Initialised
	Partitioned
	Filled
	Cleaned
	RawWritten
	MmcConfigured
	Done
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case Initialised:
		return "Initialised"
	case Partitioned:
		return "Partitioned"
	case Filled:
		return "Filled"
	case Cleaned:
		return "Cleaned"
	case RawWritten:
		return "RawWritten"
	case MmcConfigured:
		return "MmcConfigured"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// PartitionWaitTimeout is the bounded wait for the kernel to observe a
// freshly-committed partition table (spec.md §5: "up to 10 s").
const PartitionWaitTimeout = 10 * time.Second

// Engine executes a frozen *planner.Plan against an opened *device.Device.
type Engine struct {
	Device        *device.Device
	Plan          *planner.Plan
	SkipChecksums bool
	Prefix        string

	state State
}

// State reports the engine's current state machine position.
func (e *Engine) State() State { return e.state }

// Run executes all phases in order. Any failure is terminal; on a failure
// during Fill/Clean/RawWrite/MmcConfigure, a best-effort unmount of the
// backing device's partitions is attempted before returning (§4.5's
// "Unmount-all ... attempted on write_data failure as a best-effort
// cleanup").
func (e *Engine) Run(ctx context.Context) error {
	if err := e.initDevice(); err != nil {
		return err
	}
	e.state = Initialised

	if err := e.createPartitions(ctx); err != nil {
		return err
	}
	e.state = Partitioned

	if err := e.fill(); err != nil {
		e.bestEffortUnmountAll()
		return err
	}
	e.state = Filled

	if err := e.clean(); err != nil {
		e.bestEffortUnmountAll()
		return err
	}
	e.state = Cleaned

	if err := e.writeRaw(); err != nil {
		e.bestEffortUnmountAll()
		return err
	}
	e.state = RawWritten

	if err := e.configureMmc(); err != nil {
		e.bestEffortUnmountAll()
		return err
	}
	e.state = MmcConfigured

	e.state = Done
	return nil
}

func (e *Engine) bestEffortUnmountAll() {
	if err := mountutil.UmountAll(e.Device.Path); err != nil {
		log.Errorf("Best-effort unmount of %s after failure: %v", e.Device.Path, err)
	}
}

// initDevice is Phase A: for a disklabel'd device, a fresh table is
// committed in createPartitions (go-diskfs's Partition call discards any
// pre-existing table itself, so there is nothing further to do here for
// the block-device path beyond the precondition checks already run by the
// caller before constructing the Engine).
func (e *Engine) initDevice() error {
	if e.Plan.Disklabel == planner.DisklabelNone {
		return nil
	}
	return nil
}

// createPartitions is Phase B: commit the table, then block until the
// kernel has observed every partition node.
func (e *Engine) createPartitions(ctx context.Context) error {
	if e.Plan.Disklabel == planner.DisklabelNone {
		return nil
	}
	if err := diskio.CommitTable(e.Device.Path, e.Plan); err != nil {
		return err
	}
	if err := e.waitForPartitionNodes(ctx); err != nil {
		return err
	}
	return e.setPartUUIDs()
}

// setPartUUIDs applies each partition's requested PARTUUID via
// "sfdisk --part-uuid", matching original_source/src/pu-utils.c's
// pu_partition_set_partuuid. Only meaningful on GPT, which is the only
// disklabel go-diskfs's gpt.Partition carries a GUID on; a PartUUID
// requested on an msdos table is a non-fatal warning (spec.md §7).
func (e *Engine) setPartUUIDs() error {
	for _, p := range e.Plan.Partitions {
		if p.PartUUID == "" {
			continue
		}
		if e.Plan.Disklabel != planner.DisklabelGPT {
			log.Warnf("Partition %d requests PARTUUID %q on a non-GPT disklabel, ignoring", p.Number, p.PartUUID)
			continue
		}
		cmd := fmt.Sprintf("sfdisk --part-uuid %s %d %s",
			shell.Quote(e.Device.Path), p.Number, shell.Quote(p.PartUUID))
		if _, err := shell.ExecCmd(cmd); err != nil {
			return perrors.Wrap(perrors.WriteFailed, e.Device.Path,
				fmt.Errorf("set PARTUUID on partition %d: %w", p.Number, err))
		}
	}
	return nil
}

func (e *Engine) waitForPartitionNodes(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, PartitionWaitTimeout)
	defer cancel()

	_, _ = shell.ExecCmdSilent(fmt.Sprintf("udevadm settle --timeout %d", int(PartitionWaitTimeout.Seconds())))

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.allPartitionNodesExist() {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return perrors.New(perrors.PartitionsNotReady,
				fmt.Sprintf("partition nodes for %s did not appear within %s", e.Device.Path, PartitionWaitTimeout))
		case <-ticker.C:
		}
	}
}

func (e *Engine) allPartitionNodesExist() bool {
	for _, p := range e.Plan.Partitions {
		if _, err := os.Stat(e.Device.PartitionPath(p.Number)); err != nil {
			return false
		}
	}
	return true
}

// fill is Phase C's first half: create filesystems and place Inputs.
func (e *Engine) fill() error {
	for _, p := range e.Plan.Partitions {
		partPath := e.Device.PartitionPath(p.Number)

		if p.Filesystem != "" {
			if err := makeFilesystem(partPath, p.Filesystem, p.MkfsExtraArgs, p.Label); err != nil {
				return err
			}
		}

		for _, input := range p.Inputs {
			if err := e.placeInput(partPath, p, input); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) placeInput(partPath string, p planner.Partition, input planner.Input) error {
	resolved := resolvePath(input.Filename, e.Prefix)

	if err := e.verifyInput(resolved, input); err != nil {
		return err
	}

	switch {
	case archive.IsArchive(resolved):
		return e.placeArchive(partPath, resolved)
	case strings.HasSuffix(strings.ToLower(resolved), ".ext2") ||
		strings.HasSuffix(strings.ToLower(resolved), ".ext3") ||
		strings.HasSuffix(strings.ToLower(resolved), ".ext4"):
		return placeExtImage(partPath, resolved, p.Label)
	default:
		return e.placeSingleFile(partPath, resolved)
	}
}

func (e *Engine) verifyInput(path string, input planner.Input) error {
	if e.SkipChecksums || !input.HasChecksum() {
		return nil
	}
	if input.SHA256Sum != "" {
		return checksum.VerifyFile(path, input.SHA256Sum, checksum.SHA256)
	}
	return checksum.VerifyFile(path, input.MD5Sum, checksum.MD5)
}

func (e *Engine) placeArchive(partPath, archivePath string) error {
	mountPoint, err := mountutil.CreateMountPoint(filepath.Base(partPath))
	if err != nil {
		return err
	}
	if err := mountutil.Mount(partPath, mountPoint, "", ""); err != nil {
		return err
	}
	defer func() {
		if err := mountutil.Umount(mountPoint); err != nil {
			log.Errorf("Unmounting %s: %v", mountPoint, err)
		}
	}()

	return archive.Extract(archivePath, mountPoint)
}

func (e *Engine) placeSingleFile(partPath, srcPath string) error {
	mountPoint, err := mountutil.CreateMountPoint(filepath.Base(partPath))
	if err != nil {
		return err
	}
	if err := mountutil.Mount(partPath, mountPoint, "", ""); err != nil {
		return err
	}
	defer func() {
		if err := mountutil.Umount(mountPoint); err != nil {
			log.Errorf("Unmounting %s: %v", mountPoint, err)
		}
	}()

	dest := filepath.Join(mountPoint, filepath.Base(srcPath))
	return copyFile(srcPath, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return perrors.Wrap(perrors.WriteFailed, src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return perrors.Wrap(perrors.WriteFailed, dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return perrors.Wrap(perrors.WriteFailed, dest, err)
	}
	return out.Close()
}

func placeExtImage(partPath, srcPath, label string) error {
	if err := copyFile(srcPath, partPath); err != nil {
		return err
	}
	if err := resizeFilesystem(partPath); err != nil {
		return err
	}
	return setExtLabel(partPath, label)
}

func setExtLabel(partPath, label string) error {
	if label == "" {
		return nil
	}
	cmd := fmt.Sprintf("e2label %s %s", shell.Quote(partPath), shell.Quote(label))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.MkfsFailed, partPath, err)
	}
	return nil
}

// makeFilesystem parallels original_source/src/pu-utils.c's
// pu_make_filesystem: dispatch to the mkfs binary for the requested type.
func makeFilesystem(partPath, fstype, extraArgs, label string) error {
	var prog string
	switch fstype {
	case "fat32":
		prog = "mkfs.vfat"
	case "ext2":
		prog = "mkfs.ext2"
	case "ext3":
		prog = "mkfs.ext3"
	case "ext4":
		prog = "mkfs.ext4"
	default:
		return perrors.New(perrors.UnknownFilesystem, fstype)
	}

	var b strings.Builder
	b.WriteString(prog)
	if label != "" {
		b.WriteString(labelFlag(fstype, label))
	}
	if extraArgs != "" {
		b.WriteString(" ")
		b.WriteString(extraArgs)
	}
	b.WriteString(" ")
	b.WriteString(partPath)

	if _, err := shell.ExecCmd(b.String()); err != nil {
		return perrors.Wrap(perrors.MkfsFailed, partPath, err)
	}
	return nil
}

func labelFlag(fstype, label string) string {
	if fstype == "fat32" {
		return fmt.Sprintf(" -n %s", shell.Quote(label))
	}
	return fmt.Sprintf(" -L %s", shell.Quote(label))
}

func resizeFilesystem(partPath string) error {
	cmd := fmt.Sprintf("resize2fs %s", shell.Quote(partPath))
	if _, err := shell.ExecCmd(cmd); err != nil {
		return perrors.Wrap(perrors.ResizeFailed, partPath, err)
	}
	return nil
}

// clean zeros each declared Clean range (§4.5, third Phase-C step).
func (e *Engine) clean() error {
	for _, c := range e.Plan.Clean {
		if c.SizeSectors == 0 {
			log.Warnf("Clean entry at offset %d has size 0, skipping", c.OffsetSectors)
			continue
		}
		start := c.OffsetSectors * e.Plan.SectorSize
		length := c.SizeSectors * e.Plan.SectorSize
		if err := zeroRange(e.Device.File(), start, length); err != nil {
			return perrors.Wrap(perrors.WriteFailed, e.Device.Path, err)
		}
	}
	return nil
}

func zeroRange(f *os.File, offset, length int64) error {
	const chunkSize = 1 << 20
	buf := make([]byte, chunkSize)
	remaining := length
	pos := offset
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		written, err := f.WriteAt(buf[:n], pos)
		if err != nil {
			return err
		}
		pos += int64(written)
		remaining -= int64(written)
	}
	return nil
}

// writeRaw writes each RawBinary and, unless checksums are skipped,
// verifies that the SHA-256 of the written device range equals the SHA-256
// of the source range (§4.5, fourth Phase-C step).
func (e *Engine) writeRaw() error {
	for _, r := range e.Plan.Raw {
		if err := e.writeOneRaw(r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) writeOneRaw(r planner.RawBinary) error {
	resolved := resolvePath(r.Input.Filename, e.Prefix)
	if err := e.verifyInput(resolved, r.Input); err != nil {
		return err
	}

	in, err := os.Open(resolved)
	if err != nil {
		return perrors.Wrap(perrors.InputMissing, resolved, err)
	}
	defer in.Close()

	inputOffset := r.InputOffsetSectors * e.Plan.SectorSize
	outputOffset := r.OutputOffsetSectors * e.Plan.SectorSize
	length := r.Input.Size - inputOffset
	if length < 0 {
		length = 0
	}

	if _, err := io.Copy(
		io.NewOffsetWriter(e.Device.File(), outputOffset),
		io.NewSectionReader(in, inputOffset, length),
	); err != nil {
		return perrors.Wrap(perrors.WriteFailed, e.Device.Path, err)
	}

	if e.SkipChecksums {
		return nil
	}

	srcHash, err := sha256OfRange(in, inputOffset, length)
	if err != nil {
		return perrors.Wrap(perrors.ChecksumMismatch, resolved, err)
	}
	return checksum.VerifyRaw(e.Device.File(), outputOffset, length, srcHash, checksum.SHA256)
}

func sha256OfRange(r io.ReaderAt, offset, length int64) (string, error) {
	return checksum.SHA256HexOfRange(r, offset, length)
}

// configureMmc is Phase C's final step: HWRESET/BOOTBUS registers and boot
// partition binaries, only performed when the plan carries MmcControls.
func (e *Engine) configureMmc() error {
	mmc := e.Plan.Mmc
	if mmc == nil {
		return nil
	}

	if err := mmcboot.SetHWReset(e.Device.Path, mmc.HWReset); err != nil {
		return err
	}
	if err := mmcboot.SetBootBus(e.Device.Path, mmc.BootBus); err != nil {
		return err
	}

	bp := mmc.BootPartitions
	if bp == nil {
		return nil
	}

	for _, bin := range bp.Binaries {
		for b := 0; b < 2; b++ {
			bootPartDevice := mmcboot.BootPartitionDevice(e.Device.Path, b)
			if err := mmcboot.WithWritable(bootPartDevice, func() error {
				return e.writeRawTo(bootPartDevice, bin)
			}); err != nil {
				return err
			}
		}
	}

	return mmcboot.EnableBootPartition(e.Device.Path, bp.Enable, bp.BootAck)
}

func (e *Engine) writeRawTo(targetPath string, bin planner.RawBinary) error {
	resolved := resolvePath(bin.Input.Filename, e.Prefix)
	if err := e.verifyInput(resolved, bin.Input); err != nil {
		return err
	}

	in, err := os.Open(resolved)
	if err != nil {
		return perrors.Wrap(perrors.InputMissing, resolved, err)
	}
	defer in.Close()

	out, err := os.OpenFile(targetPath, os.O_WRONLY, 0)
	if err != nil {
		return perrors.Wrap(perrors.WriteFailed, targetPath, err)
	}
	defer out.Close()

	inputOffset := bin.InputOffsetSectors * e.Plan.SectorSize
	outputOffset := bin.OutputOffsetSectors * e.Plan.SectorSize

	if _, err := io.Copy(io.NewOffsetWriter(out, outputOffset), io.NewSectionReader(in, inputOffset, bin.Input.Size-inputOffset)); err != nil {
		return perrors.Wrap(perrors.WriteFailed, targetPath, err)
	}
	return nil
}

func resolvePath(filename, prefix string) string {
	if filepath.IsAbs(filename) || prefix == "" {
		return filename
	}
	return filepath.Join(prefix, filename)
}
