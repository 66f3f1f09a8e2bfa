package planner

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phytec/partitup/internal/config"
	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/perrors"
)

var log = logger.Logger()

// FileResolver resolves an Input's filename to a size, stat'ing it against
// the package mount or --prefix the way spec.md §3's Input lifecycle
// describes ("size is populated by the planner from the resolved file").
type FileResolver interface {
	Stat(filename string) (size int64, err error)
}

// BlockPlanContext carries the device facts and file resolver the block
// planner needs; it satisfies config.SectorDevice so schema accessors can
// use it directly.
type BlockPlanContext struct {
	SectorSizeBytes int64
	TotalSectors    int64
	Resolver        FileResolver
	SkipChecksums   bool
}

func (c BlockPlanContext) SectorSize() int64 { return c.SectorSizeBytes }

// knownFlags is the set of partition-table flag names the planner
// recognizes; an unrecognized name is dropped with a warning (§4.3).
var knownFlags = map[string]PartitionFlag{
	"boot":     "boot",
	"esp":      "esp",
	"root":     "root",
	"swap":     "swap",
	"hidden":   "hidden",
	"lvm":      "lvm",
	"raid":     "raid",
	"legacy_boot": "legacy_boot",
}

// PlanBlock implements spec.md §4.3: it builds a Plan for a partitioned
// block device from the validated config root.
func PlanBlock(root *config.Value, ctx BlockPlanContext) (*Plan, error) {
	plan := &Plan{
		SectorSize:   ctx.SectorSizeBytes,
		TotalSectors: ctx.TotalSectors,
	}

	// Step 1: disklabel.
	disklabelStr := config.LookupString(root, "disklabel", "")
	switch disklabelStr {
	case "":
		plan.Disklabel = DisklabelNone
	case "msdos":
		plan.Disklabel = DisklabelMBR
	case "gpt":
		plan.Disklabel = DisklabelGPT
	default:
		return nil, perrors.New(perrors.UnsupportedDisklabel,
			fmt.Sprintf("disklabel %q must be 'msdos' or 'gpt'", disklabelStr))
	}
	tableReserve := plan.TableReserve()

	// Step 2: mmc subtree.
	mmc, err := parseMmc(root.Get("mmc"), ctx)
	if err != nil {
		return nil, err
	}
	plan.Mmc = mmc

	// Step 3: raw sequence.
	rawList := config.LookupList(root, "raw", nil)
	for _, rv := range rawList {
		rb, err := parseRawBinary(rv, ctx, tableReserve)
		if err != nil {
			return nil, err
		}
		plan.Raw = append(plan.Raw, rb)
	}

	// Step 4: partitions sequence, only meaningful when a disklabel is set.
	// A cursor tracks the absolute next-free sector: each partition's
	// configured "offset" is a gap added ahead of the cursor (mirroring
	// flash.go's offsetAcc), and the cursor advances by the partition's
	// size (plus a 2-sector EBR reservation for logicals) once placed.
	var numExpand, numExpandLogical int
	var cursor int64
	if plan.Disklabel != DisklabelNone {
		partList := config.LookupList(root, "partitions", nil)
		for i, pv := range partList {
			p, err := parsePartition(pv, ctx, i == 0, tableReserve)
			if err != nil {
				return nil, err
			}
			isLogical := p.Type == PartitionLogical
			if isLogical && plan.Disklabel != DisklabelMBR {
				return nil, perrors.New(perrors.UnknownPartitionType,
					"logical partitions are only supported on msdos disklabels")
			}

			if i == 0 {
				cursor = p.OffsetSectors
			} else {
				cursor += p.OffsetSectors
				p.OffsetSectors = cursor
			}

			if p.Expand {
				numExpand++
				if isLogical {
					numExpandLogical++
				}
			} else {
				cursor += p.SizeSectors
				if isLogical {
					cursor += 2
				}
			}
			plan.Partitions = append(plan.Partitions, p)
		}

		// Step 5: distribute residual space across expand partitions,
		// each one's own start derived from the cursor left by the
		// partitions (fixed or already-placed expand) ahead of it.
		if numExpand > 0 {
			gptTail := int64(0)
			if plan.Disklabel == DisklabelGPT {
				gptTail = ReserveGPTTail
			}
			logicalOverhead := int64(numExpandLogical) * 2
			residual := ctx.TotalSectors - cursor - logicalOverhead - gptTail
			if residual < 0 {
				residual = 0
			}
			each := residual / int64(numExpand)
			for i := range plan.Partitions {
				if plan.Partitions[i].Expand {
					plan.Partitions[i].OffsetSectors = cursor
					plan.Partitions[i].SizeSectors = each
					cursor += each
					if plan.Partitions[i].Type == PartitionLogical {
						cursor += 2
					}
				}
			}
		}
	}

	// Step 6: clean sequence.
	cleanList := config.LookupList(root, "clean", nil)
	for _, cv := range cleanList {
		c := Clean{
			OffsetSectors: config.LookupSector(cv, "offset", ctx, 0),
			SizeSectors:   config.LookupSector(cv, "size", ctx, 0),
		}
		plan.Clean = append(plan.Clean, c)
	}

	// Step 7: overlap check across partitions and raw binaries.
	if err := checkOverlaps(plan); err != nil {
		return nil, err
	}

	assignPartitionNumbers(plan)

	return plan, nil
}

// parsePartition parses one `partitions[]` entry into a Partition.
func parsePartition(pv *config.Value, ctx BlockPlanContext, isFirst bool, tableReserve int64) (Partition, error) {
	p := Partition{
		Label:         config.LookupString(pv, "label", ""),
		PartUUID:      config.LookupString(pv, "partuuid", ""),
		Filesystem:    config.LookupString(pv, "filesystem", ""),
		MkfsExtraArgs: config.LookupString(pv, "mkfs-extra-args", ""),
		SizeSectors:   config.LookupSector(pv, "size", ctx, 0),
		OffsetSectors: config.LookupSector(pv, "offset", ctx, 0),
		BlockSizeSectors: config.LookupSector(pv, "block-size", ctx, 0),
		Expand:        config.LookupBool(pv, "expand", false),
	}

	if p.PartUUID != "" {
		if _, err := uuid.Parse(p.PartUUID); err != nil {
			log.Warnf("partition %q: partuuid %q is not a valid UUID, ignoring", p.Label, p.PartUUID)
			p.PartUUID = ""
		}
	}

	typeStr := config.LookupString(pv, "type", "primary")
	switch typeStr {
	case "primary", "":
		p.Type = PartitionPrimary
	case "logical":
		p.Type = PartitionLogical
	default:
		return Partition{}, perrors.New(perrors.UnknownPartitionType,
			fmt.Sprintf("unknown partition type %q", typeStr))
	}

	if p.Filesystem != "" {
		switch p.Filesystem {
		case "fat32", "ext2", "ext3", "ext4":
		default:
			return Partition{}, perrors.New(perrors.UnknownFilesystem,
				fmt.Sprintf("unknown filesystem %q", p.Filesystem))
		}
	}

	if isFirst && p.OffsetSectors == 0 {
		p.OffsetSectors = tableReserve
	} else if isFirst && p.OffsetSectors > 0 && p.OffsetSectors < tableReserve {
		return Partition{}, perrors.New(perrors.OffsetOverridesTable,
			fmt.Sprintf("first partition offset %d overrides table reserve %d", p.OffsetSectors, tableReserve))
	}

	if p.BlockSizeSectors > 0 {
		p.SizeSectors -= p.SizeSectors % p.BlockSizeSectors
	}

	if !p.Expand && p.SizeSectors == 0 {
		return Partition{}, perrors.New(perrors.ZeroSizedPartition,
			fmt.Sprintf("partition %q has size 0 and expand=false", p.Label))
	}

	for _, fv := range config.LookupList(pv, "flags", nil) {
		name := fv.String
		if fv.Kind != config.KindString {
			continue
		}
		if flag, ok := knownFlags[strings.ToLower(name)]; ok {
			p.Flags = append(p.Flags, flag)
		} else {
			// Unknown flag names are not fatal: warn and skip (§4.3).
			log.Warnf("partition %q: unknown flag %q, skipping", p.Label, name)
		}
	}

	for _, iv := range config.LookupList(pv, "input", nil) {
		in, err := parseInput(iv, ctx)
		if err != nil {
			return Partition{}, err
		}
		p.Inputs = append(p.Inputs, in)
	}

	return p, nil
}

func parseInput(iv *config.Value, ctx BlockPlanContext) (Input, error) {
	in := Input{
		Filename:  config.LookupString(iv, "filename", ""),
		MD5Sum:    strings.ToLower(config.LookupString(iv, "md5sum", "")),
		SHA256Sum: strings.ToLower(config.LookupString(iv, "sha256sum", "")),
	}
	if !in.HasChecksum() && !ctx.SkipChecksums {
		// Not fatal: an Input with neither checksum is accepted here, and
		// the execution engine then places it without any checksum
		// verification. A missing checksum is not reported as an error
		// anywhere.
	}
	if ctx.Resolver != nil && in.Filename != "" {
		size, err := ctx.Resolver.Stat(in.Filename)
		if err != nil {
			return Input{}, perrors.Wrap(perrors.InputMissing, in.Filename, err)
		}
		in.Size = size
	}
	return in, nil
}

func parseRawBinary(rv *config.Value, ctx BlockPlanContext, tableReserve int64) (RawBinary, error) {
	rb := RawBinary{
		InputOffsetSectors:  config.LookupSector(rv, "input-offset", ctx, 0),
		OutputOffsetSectors: config.LookupSector(rv, "output-offset", ctx, 0),
	}
	if rb.OutputOffsetSectors < tableReserve {
		return RawBinary{}, perrors.New(perrors.LayoutOverlap,
			fmt.Sprintf("raw binary output-offset %d overlaps partition table reserve %d",
				rb.OutputOffsetSectors, tableReserve))
	}
	in, err := parseInput(rv.Get("input"), ctx)
	if err != nil {
		return RawBinary{}, err
	}
	rb.Input = in
	return rb, nil
}

func parseMmc(mv *config.Value, ctx BlockPlanContext) (*MmcControls, error) {
	if mv.IsNull() {
		return nil, nil
	}
	mmc := &MmcControls{
		HWReset: config.LookupString(mv, "hwreset", ""),
		BootBus: config.LookupString(mv, "bootbus", ""),
	}
	if bpv := mv.Get("boot-partitions"); !bpv.IsNull() {
		bp := &MmcBootPartitions{
			Enable:  int(config.LookupInt(bpv, "enable", 0)),
			BootAck: config.LookupBool(bpv, "boot-ack", false),
		}
		for _, bv := range config.LookupList(bpv, "binaries", nil) {
			rb, err := parseRawBinary(bv, ctx, 0)
			if err != nil {
				return nil, err
			}
			bp.Binaries = append(bp.Binaries, rb)
		}
		mmc.BootPartitions = bp
	}
	return mmc, nil
}

// checkOverlaps implements the fused overlap check of §4.3 step 7 (P2): no
// two partition/raw-binary byte ranges may intersect.
func checkOverlaps(plan *Plan) error {
	type namedRange struct {
		name       string
		start, end int64
	}
	var ranges []namedRange
	for _, p := range plan.Partitions {
		s, e := p.ByteRange(plan.SectorSize)
		ranges = append(ranges, namedRange{fmt.Sprintf("partition %q", p.Label), s, e})
	}
	for i, r := range plan.Raw {
		s, e := r.ByteRange(plan.SectorSize)
		ranges = append(ranges, namedRange{fmt.Sprintf("raw binary #%d (%s)", i, r.Input.Filename), s, e})
	}

	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			a, b := ranges[i], ranges[j]
			if a.start < b.end && b.start < a.end {
				return perrors.New(perrors.LayoutOverlap,
					fmt.Sprintf("%s [%d,%d) overlaps %s [%d,%d)", a.name, a.start, a.end, b.name, b.start, b.end))
			}
		}
	}
	return nil
}

// assignPartitionNumbers implements the partition-number assignment rule:
// primaries get 1..4, the first logical is 5, subsequent logicals 6, 7, …
// The extended container itself is not a user partition and is not counted.
func assignPartitionNumbers(plan *Plan) {
	primary := 1
	logical := 5
	for i := range plan.Partitions {
		if plan.Partitions[i].Type == PartitionLogical {
			plan.Partitions[i].Number = logical
			logical++
		} else {
			plan.Partitions[i].Number = primary
			primary++
		}
	}
}
