package planner

import (
	"strings"
	"testing"

	"github.com/phytec/partitup/internal/config"
	"github.com/phytec/partitup/internal/perrors"
)

const sectorSize = 512

func load(t *testing.T, doc string) *config.Value {
	t.Helper()
	v, err := config.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return v
}

// S1: Minimal MBR, two partitions.
func TestPlanBlockMinimalMBR(t *testing.T) {
	root := load(t, `
disklabel: msdos
partitions:
  - filesystem: fat32
    size: "32MiB"
  - filesystem: ext4
    size: "64MiB"
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100 * 1024 * 1024 / sectorSize}
	plan, err := PlanBlock(root, ctx)
	if err != nil {
		t.Fatalf("PlanBlock: %v", err)
	}
	if plan.Disklabel != DisklabelMBR {
		t.Fatalf("disklabel = %v", plan.Disklabel)
	}
	if len(plan.Partitions) != 2 {
		t.Fatalf("len(partitions) = %d", len(plan.Partitions))
	}
	p0, p1 := plan.Partitions[0], plan.Partitions[1]
	if p0.OffsetSectors != ReserveMBR {
		t.Errorf("p0.offset = %d, want %d", p0.OffsetSectors, ReserveMBR)
	}
	wantSize := int64(32 * 1024 * 1024 / sectorSize)
	if p0.SizeSectors != wantSize {
		t.Errorf("p0.size = %d, want %d", p0.SizeSectors, wantSize)
	}
	if p1.OffsetSectors != p0.OffsetSectors+p0.SizeSectors {
		t.Errorf("p1.offset = %d, want %d (immediately after p0)", p1.OffsetSectors, p0.OffsetSectors+p0.SizeSectors)
	}
}

// S2: GPT with expand; secondary GPT reserve is deducted.
func TestPlanBlockGPTExpand(t *testing.T) {
	root := load(t, `
disklabel: gpt
partitions:
  - size: "16MiB"
    filesystem: ext4
  - expand: true
    filesystem: ext4
`)
	total := int64(256 * 1024 * 1024 / sectorSize)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: total}
	plan, err := PlanBlock(root, ctx)
	if err != nil {
		t.Fatalf("PlanBlock: %v", err)
	}
	p0, p1 := plan.Partitions[0], plan.Partitions[1]
	if p0.OffsetSectors != ReserveGPT {
		t.Errorf("p0.offset = %d, want %d", p0.OffsetSectors, ReserveGPT)
	}
	sixteenMiB := int64(16 * 1024 * 1024 / sectorSize)
	if p0.SizeSectors != sixteenMiB {
		t.Errorf("p0.size = %d", p0.SizeSectors)
	}
	wantP1 := total - ReserveGPT - sixteenMiB - ReserveGPTTail
	if p1.SizeSectors != wantP1 {
		t.Errorf("p1.size = %d, want %d", p1.SizeSectors, wantP1)
	}
	// P3: exact accounting, no slack.
	sum := p0.OffsetSectors + p0.SizeSectors + p1.SizeSectors + ReserveGPTTail
	if sum != total {
		t.Errorf("sum %d != total %d", sum, total)
	}
}

// S4: two raw binaries whose ranges intersect fail before any device write.
func TestPlanBlockRawOverlap(t *testing.T) {
	root := load(t, `
raw:
  - input-offset: 0
    output-offset: 100
    input: { filename: a.bin }
  - input-offset: 0
    output-offset: 105
    input: { filename: b.bin }
`)
	resolver := stubResolver{"a.bin": 20 * sectorSize, "b.bin": 20 * sectorSize}
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 1000, Resolver: resolver}
	_, err := PlanBlock(root, ctx)
	if err == nil {
		t.Fatal("expected LayoutOverlap")
	}
	if kind, ok := perrors.Of(err); !ok || kind != perrors.LayoutOverlap {
		t.Fatalf("got %v, want LayoutOverlap", err)
	}
}

// B1: first-partition offset=0 defaults per disklabel.
func TestFirstPartitionOffsetDefault(t *testing.T) {
	for _, tc := range []struct {
		disklabel string
		want      int64
	}{
		{"msdos", ReserveMBR},
		{"gpt", ReserveGPT},
	} {
		root := load(t, "disklabel: "+tc.disklabel+"\npartitions:\n  - size: 1MiB\n")
		ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000}
		plan, err := PlanBlock(root, ctx)
		if err != nil {
			t.Fatalf("%s: %v", tc.disklabel, err)
		}
		if plan.Partitions[0].OffsetSectors != tc.want {
			t.Errorf("%s: offset = %d, want %d", tc.disklabel, plan.Partitions[0].OffsetSectors, tc.want)
		}
	}
}

// B2: first-partition offset=5 on GPT fails with OffsetOverridesTable.
func TestFirstPartitionOffsetOverridesTable(t *testing.T) {
	root := load(t, `
disklabel: gpt
partitions:
  - size: 1MiB
    offset: 5
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000}
	_, err := PlanBlock(root, ctx)
	if err == nil {
		t.Fatal("expected OffsetOverridesTable")
	}
	if kind, ok := perrors.Of(err); !ok || kind != perrors.OffsetOverridesTable {
		t.Fatalf("got %v, want OffsetOverridesTable", err)
	}
}

// B3: raw binary with output_offset < table_reserve fails with LayoutOverlap.
func TestRawBinaryBelowTableReserve(t *testing.T) {
	root := load(t, `
disklabel: gpt
raw:
  - output-offset: 10
    input: { filename: a.bin }
`)
	resolver := stubResolver{"a.bin": 512}
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000, Resolver: resolver}
	_, err := PlanBlock(root, ctx)
	if err == nil {
		t.Fatal("expected LayoutOverlap")
	}
	if kind, ok := perrors.Of(err); !ok || kind != perrors.LayoutOverlap {
		t.Fatalf("got %v, want LayoutOverlap", err)
	}
}

// B5: unknown value for partition type is fatal.
func TestUnknownPartitionTypeFatal(t *testing.T) {
	root := load(t, `
disklabel: msdos
partitions:
  - size: 1MiB
    type: bogus
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000}
	_, err := PlanBlock(root, ctx)
	if kind, ok := perrors.Of(err); !ok || kind != perrors.UnknownPartitionType {
		t.Fatalf("got %v, want UnknownPartitionType", err)
	}
}

// zero-sized, non-expanding partition is fatal.
func TestZeroSizedPartitionFatal(t *testing.T) {
	root := load(t, `
disklabel: msdos
partitions:
  - size: 0
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000}
	_, err := PlanBlock(root, ctx)
	if kind, ok := perrors.Of(err); !ok || kind != perrors.ZeroSizedPartition {
		t.Fatalf("got %v, want ZeroSizedPartition", err)
	}
}

// Non-first partitions' configured "offset" is a gap measured from the
// previous partition's end, not an absolute sector number; a third
// partition with a gap must land after, not overlap, its predecessor.
func TestPlanBlockThirdPartitionGapIsRelative(t *testing.T) {
	root := load(t, `
disklabel: msdos
partitions:
  - filesystem: fat32
    size: "16MiB"
  - filesystem: ext4
    size: "16MiB"
  - filesystem: ext4
    size: "16MiB"
    offset: "1MiB"
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 200 * 1024 * 1024 / sectorSize}
	plan, err := PlanBlock(root, ctx)
	if err != nil {
		t.Fatalf("PlanBlock: %v", err)
	}
	p0, p1, p2 := plan.Partitions[0], plan.Partitions[1], plan.Partitions[2]

	if p1.OffsetSectors != p0.OffsetSectors+p0.SizeSectors {
		t.Errorf("p1.offset = %d, want %d (immediately after p0)", p1.OffsetSectors, p0.OffsetSectors+p0.SizeSectors)
	}

	gap := int64(1 * 1024 * 1024 / sectorSize)
	wantP2Offset := p1.OffsetSectors + p1.SizeSectors + gap
	if p2.OffsetSectors != wantP2Offset {
		t.Errorf("p2.offset = %d, want %d (p1 end + 1MiB gap)", p2.OffsetSectors, wantP2Offset)
	}

	// None of the three ranges may overlap.
	ranges := [][2]int64{
		{p0.OffsetSectors, p0.OffsetSectors + p0.SizeSectors},
		{p1.OffsetSectors, p1.OffsetSectors + p1.SizeSectors},
		{p2.OffsetSectors, p2.OffsetSectors + p2.SizeSectors},
	}
	for i := 0; i < len(ranges); i++ {
		for j := i + 1; j < len(ranges); j++ {
			if ranges[i][0] < ranges[j][1] && ranges[j][0] < ranges[i][1] {
				t.Errorf("partition %d overlaps partition %d", i, j)
			}
		}
	}
}

// A partition whose size rounds down to zero once block-size alignment is
// applied must still be rejected as zero-sized, not silently accepted.
func TestZeroSizedPartitionAfterBlockSizeRoundingFatal(t *testing.T) {
	root := load(t, `
disklabel: msdos
partitions:
  - size: 3
    block-size: 8
`)
	ctx := BlockPlanContext{SectorSizeBytes: sectorSize, TotalSectors: 100000}
	_, err := PlanBlock(root, ctx)
	if kind, ok := perrors.Of(err); !ok || kind != perrors.ZeroSizedPartition {
		t.Fatalf("got %v, want ZeroSizedPartition", err)
	}
}

type stubResolver map[string]int64

func (s stubResolver) Stat(filename string) (int64, error) {
	return s[filename], nil
}
