package planner

import (
	"fmt"

	"github.com/phytec/partitup/internal/config"
	"github.com/phytec/partitup/internal/perrors"
)

// FlashPlanContext carries the raw-flash device facts the flash planner
// needs.
type FlashPlanContext struct {
	DeviceSizeBytes int64
	EraseBlockSize  int64
	Resolver        FileResolver
}

// PlanFlash implements spec.md §4.4: a linear walk over `partitions[]`
// accumulating offsets, with erase-block alignment and a single terminal
// expand partition allowed.
func PlanFlash(root *config.Value, ctx FlashPlanContext) (*FlashPlan, error) {
	plan := &FlashPlan{
		EraseBlockSize:  ctx.EraseBlockSize,
		DeviceSizeBytes: ctx.DeviceSizeBytes,
	}

	entries := config.LookupList(root, "partitions", nil)
	seenNames := map[string]bool{}

	var offsetAcc int64
	for i, ev := range entries {
		fp := FlashPartition{
			Name:      config.LookupString(ev, "name", ""),
			Erase:     config.LookupBool(ev, "erase", false),
			Expand:    config.LookupBool(ev, "expand", false),
		}
		if fp.Name != "" {
			if seenNames[fp.Name] {
				// Non-fatal: duplicate names are a planner-time warning per
				// SPEC_FULL.md §3, not one of the taxonomy's fatal kinds.
				log.Warnf("partition %q: duplicate partition name", fp.Name)
			}
			seenNames[fp.Name] = true
		}

		offsetBytes := config.LookupBytes(ev, "offset", 0)
		sizeBytes := config.LookupBytes(ev, "size", 0)

		offsetAcc += offsetBytes
		fp.OffsetBytes = offsetAcc

		isTerminal := i == len(entries)-1
		if fp.Expand {
			if !isTerminal {
				return nil, perrors.New(perrors.NonTerminalExpand,
					fmt.Sprintf("partition %q: expand is only legal on the terminal partition", fp.Name))
			}
			sizeBytes = ctx.DeviceSizeBytes - offsetAcc
		}
		fp.SizeBytes = sizeBytes

		if fp.OffsetBytes%ctx.EraseBlockSize != 0 || fp.SizeBytes%ctx.EraseBlockSize != 0 {
			return nil, perrors.New(perrors.UnalignedPartition,
				fmt.Sprintf("partition %q: offset %d or size %d is not a multiple of erase block size %d",
					fp.Name, fp.OffsetBytes, fp.SizeBytes, ctx.EraseBlockSize))
		}

		offsetAcc += fp.SizeBytes
		if offsetAcc > ctx.DeviceSizeBytes {
			return nil, perrors.New(perrors.UnalignedPartition,
				fmt.Sprintf("partition %q: placement exceeds device size", fp.Name))
		}

		if iv := ev.Get("input"); !iv.IsNull() {
			in, err := parseInput(iv, BlockPlanContext{Resolver: ctx.Resolver})
			if err != nil {
				return nil, err
			}
			if in.Size > fp.SizeBytes {
				return nil, perrors.New(perrors.LayoutOverlap,
					fmt.Sprintf("partition %q: input size %d does not fit in partition size %d",
						fp.Name, in.Size, fp.SizeBytes))
			}
			fp.Input = &in
		}

		plan.Partitions = append(plan.Partitions, fp)
	}

	return plan, nil
}
