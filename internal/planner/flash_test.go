package planner

import (
	"strings"
	"testing"

	"github.com/phytec/partitup/internal/config"
	"github.com/phytec/partitup/internal/perrors"
)

func loadFlash(t *testing.T, doc string) *config.Value {
	t.Helper()
	v, err := config.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return v
}

func TestPlanFlashLinearWalk(t *testing.T) {
	root := loadFlash(t, `
partitions:
  - name: bootloader
    offset: 0
    size: 1MiB
  - name: kernel
    offset: 0
    size: 4MiB
  - name: rootfs
    offset: 0
    expand: true
`)
	ctx := FlashPlanContext{DeviceSizeBytes: 64 * 1024 * 1024, EraseBlockSize: 1024 * 1024}
	plan, err := PlanFlash(root, ctx)
	if err != nil {
		t.Fatalf("PlanFlash: %v", err)
	}
	if len(plan.Partitions) != 3 {
		t.Fatalf("len(partitions) = %d", len(plan.Partitions))
	}
	p0, p1, p2 := plan.Partitions[0], plan.Partitions[1], plan.Partitions[2]
	if p0.OffsetBytes != 0 || p0.SizeBytes != 1*1024*1024 {
		t.Errorf("p0 = %+v", p0)
	}
	if p1.OffsetBytes != 1*1024*1024 || p1.SizeBytes != 4*1024*1024 {
		t.Errorf("p1 = %+v", p1)
	}
	wantP2Size := ctx.DeviceSizeBytes - p1.OffsetBytes - p1.SizeBytes
	if p2.SizeBytes != wantP2Size {
		t.Errorf("p2.size = %d, want %d", p2.SizeBytes, wantP2Size)
	}
}

func TestPlanFlashNonTerminalExpandFails(t *testing.T) {
	root := loadFlash(t, `
partitions:
  - name: a
    offset: 0
    expand: true
  - name: b
    offset: 0
    size: 1MiB
`)
	ctx := FlashPlanContext{DeviceSizeBytes: 16 * 1024 * 1024, EraseBlockSize: 1024 * 1024}
	_, err := PlanFlash(root, ctx)
	if kind, ok := perrors.Of(err); !ok || kind != perrors.NonTerminalExpand {
		t.Fatalf("got %v, want NonTerminalExpand", err)
	}
}

// An input exactly the size of its partition fits; only an input strictly
// larger than the partition is a LayoutOverlap.
func TestPlanFlashInputExactlyFillsPartition(t *testing.T) {
	root := loadFlash(t, `
partitions:
  - name: bootloader
    offset: 0
    size: 1MiB
    input: { filename: a.bin }
`)
	resolver := stubResolver{"a.bin": 1 * 1024 * 1024}
	ctx := FlashPlanContext{DeviceSizeBytes: 16 * 1024 * 1024, EraseBlockSize: 1024 * 1024, Resolver: resolver}
	plan, err := PlanFlash(root, ctx)
	if err != nil {
		t.Fatalf("PlanFlash: %v", err)
	}
	if plan.Partitions[0].Input == nil || plan.Partitions[0].Input.Size != 1*1024*1024 {
		t.Errorf("input = %+v", plan.Partitions[0].Input)
	}
}

func TestPlanFlashDuplicateNameWarns(t *testing.T) {
	root := loadFlash(t, `
partitions:
  - name: a
    offset: 0
    size: 1MiB
  - name: a
    offset: 0
    expand: true
`)
	ctx := FlashPlanContext{DeviceSizeBytes: 16 * 1024 * 1024, EraseBlockSize: 1024 * 1024}
	if _, err := PlanFlash(root, ctx); err != nil {
		t.Fatalf("PlanFlash: %v", err)
	}
}

func TestPlanFlashUnalignedFails(t *testing.T) {
	root := loadFlash(t, `
partitions:
  - name: a
    offset: 0
    size: 1500000
`)
	ctx := FlashPlanContext{DeviceSizeBytes: 16 * 1024 * 1024, EraseBlockSize: 1024 * 1024}
	_, err := PlanFlash(root, ctx)
	if kind, ok := perrors.Of(err); !ok || kind != perrors.UnalignedPartition {
		t.Fatalf("got %v, want UnalignedPartition", err)
	}
}
