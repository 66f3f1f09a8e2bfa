// Package planner implements the layout planner of spec.md §4.3/§4.4: it
// reads the typed configuration tree and an execution context and produces
// a frozen Plan — partition geometry, raw-offset writes, clean requests and
// optional MMC controls — without touching the backing device.
package planner

// DisklabelKind identifies the partition-table scheme a block-device plan
// targets, or "none" for raw-flash/no-table layouts.
type DisklabelKind string

const (
	DisklabelNone  DisklabelKind = "none"
	DisklabelMBR   DisklabelKind = "mbr"
	DisklabelGPT   DisklabelKind = "gpt"
)

// Reserve is the sector count a partition table itself occupies at the
// start of a disk; GPT additionally reserves a trailing secondary copy.
const (
	ReserveMBR     = 1
	ReserveGPT     = 34
	ReserveGPTTail = 34
)

// PartitionType distinguishes a primary partition from one living inside
// the extended container on MBR-style disks.
type PartitionType string

const (
	PartitionPrimary PartitionType = "primary"
	PartitionLogical PartitionType = "logical"
)

// PartitionFlag is a partition-table flag name (e.g. "boot", "esp").
// Unknown flag names are accepted at parse time with a warning (§4.3) and
// dropped before they reach the partition-table library.
type PartitionFlag string

// Input describes one payload file to place onto a partition or at a raw
// device offset.
type Input struct {
	Filename  string
	MD5Sum    string
	SHA256Sum string
	// Size is populated by the planner from the resolved file; 0 only if
	// the file is genuinely empty.
	Size int64
}

// HasChecksum reports whether at least one checksum was specified.
func (i Input) HasChecksum() bool {
	return i.MD5Sum != "" || i.SHA256Sum != ""
}

// Partition is a single block-device partition descriptor (§3).
type Partition struct {
	Label         string
	PartUUID      string
	Type          PartitionType
	Filesystem    string
	MkfsExtraArgs string
	SizeSectors   int64
	OffsetSectors int64
	BlockSizeSectors int64
	Expand        bool
	Flags         []PartitionFlag
	Inputs        []Input

	// Number is the 1-based partition-table index, assigned by PlanBlock
	// (primaries 1..4, first logical 5, subsequent logicals 6, 7, …).
	Number int
}

// ByteRange returns the partition's [start, end) byte range given the
// device's sector size.
func (p Partition) ByteRange(sectorSize int64) (start, end int64) {
	start = p.OffsetSectors * sectorSize
	end = start + p.SizeSectors*sectorSize
	return start, end
}

// RawBinary is a file written to the device at an explicit byte offset,
// bypassing any filesystem (§3).
type RawBinary struct {
	Input              Input
	InputOffsetSectors int64
	OutputOffsetSectors int64
}

// ByteRange returns the binary's [start, end) byte range on the device.
func (r RawBinary) ByteRange(sectorSize int64) (start, end int64) {
	start = r.OutputOffsetSectors * sectorSize
	length := r.Input.Size - r.InputOffsetSectors*sectorSize
	if length < 0 {
		length = 0
	}
	end = start + length
	return start, end
}

// Clean is a declarative request to zero a byte range on the device (§3).
type Clean struct {
	OffsetSectors int64
	SizeSectors   int64
}

// MmcBootPartitions configures eMMC's two hardware boot-partition regions.
type MmcBootPartitions struct {
	Enable   int // 0, 1 or 2
	BootAck  bool
	Binaries []RawBinary
}

// MmcControls configures eMMC-specific hardware registers (§3).
type MmcControls struct {
	HWReset        string
	BootBus        string
	BootPartitions *MmcBootPartitions
}

// Plan is the frozen result of planning a block-device layout. Immutable
// once built; execution consumes it read-only.
type Plan struct {
	Disklabel   DisklabelKind
	Partitions  []Partition
	Raw         []RawBinary
	Clean       []Clean
	Mmc         *MmcControls

	SectorSize   int64
	TotalSectors int64
}

// TableReserve returns the leading sector count the partition table itself
// occupies, 0 for DisklabelNone.
func (p *Plan) TableReserve() int64 {
	switch p.Disklabel {
	case DisklabelMBR:
		return ReserveMBR
	case DisklabelGPT:
		return ReserveGPT
	default:
		return 0
	}
}

// FlashPartition is a raw-flash (erase-block-constrained) partition
// descriptor (§3); there is no partition table on this backend.
type FlashPartition struct {
	Name       string
	SizeBytes  int64
	OffsetBytes int64
	Erase      bool
	Expand     bool
	Input      *Input
}

// FlashPlan is the frozen result of planning a raw-flash layout.
type FlashPlan struct {
	Partitions      []FlashPartition
	EraseBlockSize  int64
	DeviceSizeBytes int64
}
