// Package diskio is the partition-table library collaborator of spec.md §1
// and §6: it encodes an MBR or GPT table onto the backing device from a
// frozen *planner.Plan. It does not create or resize filesystems; the
// execution engine does that through the mkfs.*/resize2fs binaries.
//
// Built on github.com/diskfs/go-diskfs (the teacher's own partitioning
// dependency, also used this way by other_examples' go-diskfs and
// canonical-ubuntu-image reference code), which owns the actual MBR/GPT
// byte encoding so this package only has to translate Plan into
// mbr.Table/gpt.Table structures and commit them.
package diskio

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/phytec/partitup/internal/perrors"
	"github.com/phytec/partitup/internal/planner"
)

// CommitTable builds an mbr.Table or gpt.Table from plan and writes it to
// the backing file at path, discarding any pre-existing table (Phase A of
// spec.md §4.5). The extended-partition/logical-partition EBR accounting
// for MBR disks is handled here since go-diskfs's mbr.Table models logical
// partitions as plain entries within the extended container's geometry.
func CommitTable(path string, plan *planner.Plan) error {
	disk, err := diskfs.Open(path)
	if err != nil {
		return perrors.Wrap(perrors.DeviceOpenFailed, path, err)
	}
	defer disk.File.Close()

	var table partition.Table
	switch plan.Disklabel {
	case planner.DisklabelMBR:
		table = buildMBRTable(plan)
	case planner.DisklabelGPT:
		table = buildGPTTable(plan)
	default:
		return nil
	}

	if err := disk.Partition(table); err != nil {
		return perrors.Wrap(perrors.WriteFailed, path, fmt.Errorf("commit partition table: %w", err))
	}
	return nil
}

func buildMBRTable(plan *planner.Plan) *mbr.Table {
	t := &mbr.Table{
		LogicalSectorSize:  int(plan.SectorSize),
		PhysicalSectorSize: int(plan.SectorSize),
	}
	for _, p := range plan.Partitions {
		start := p.OffsetSectors
		size := p.SizeSectors
		if p.Type == planner.PartitionLogical {
			// Reserve the 2-sector EBR prologue ahead of each logical
			// partition's data (§4.5 Phase B).
			start += 2
		}
		t.Partitions = append(t.Partitions, &mbr.Partition{
			Start:    uint32(start),
			Size:     uint32(size),
			Type:     mbrPartitionType(p),
			Bootable: hasFlag(p, "boot") || hasFlag(p, "legacy_boot"),
		})
	}
	return t
}

func hasFlag(p planner.Partition, name planner.PartitionFlag) bool {
	for _, f := range p.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// MBR partition type IDs (dos partition table byte codes); go-diskfs's
// mbr.Type is a plain byte with no named constants for these.
const (
	mbrTypeFat32LBA = 0x0c
	mbrTypeLinux    = 0x83
)

func mbrPartitionType(p planner.Partition) mbr.Type {
	switch p.Filesystem {
	case "fat32":
		return mbr.Type(mbrTypeFat32LBA)
	default:
		return mbr.Type(mbrTypeLinux)
	}
}

func buildGPTTable(plan *planner.Plan) *gpt.Table {
	t := &gpt.Table{
		LogicalSectorSize:  int(plan.SectorSize),
		PhysicalSectorSize: int(plan.SectorSize),
		ProtectiveMBR:      true,
	}
	for _, p := range plan.Partitions {
		gp := &gpt.Partition{
			Start:      uint64(p.OffsetSectors),
			End:        uint64(p.OffsetSectors + p.SizeSectors - 1),
			Name:       p.Label,
			Type:       gptPartitionType(p),
			Attributes: gptAttributes(p),
		}
		t.Partitions = append(t.Partitions, gp)
	}
	return t
}

// GPT partition attribute bits (UEFI spec table 5-6); go-diskfs's
// gpt.Partition.Attributes is a plain bitfield with no named constants.
const (
	gptAttrLegacyBIOSBootable = uint64(1) << 2
	gptAttrHidden             = uint64(1) << 62
)

func gptAttributes(p planner.Partition) uint64 {
	var attrs uint64
	if hasFlag(p, "legacy_boot") || hasFlag(p, "boot") {
		attrs |= gptAttrLegacyBIOSBootable
	}
	if hasFlag(p, "hidden") {
		attrs |= gptAttrHidden
	}
	return attrs
}

// GPT partition type GUIDs; go-diskfs's gpt.Type is a plain GUID string
// with no named constants for these.
const (
	gptTypeEFISystemPartition = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	gptTypeLinuxFilesystem    = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
)

func gptPartitionType(p planner.Partition) gpt.Type {
	for _, f := range p.Flags {
		if f == "esp" {
			return gpt.Type(gptTypeEFISystemPartition)
		}
	}
	return gpt.Type(gptTypeLinuxFilesystem)
}
