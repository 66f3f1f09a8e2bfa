package config

import (
	"strings"
	"testing"

	"github.com/phytec/partitup/internal/perrors"
)

func mustLoad(t *testing.T, doc string) *Value {
	t.Helper()
	v, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return v
}

func TestLoadRejectsNonMappingRoot(t *testing.T) {
	_, err := Load(strings.NewReader("- 1\n- 2\n"))
	if err == nil {
		t.Fatal("expected error for sequence root")
	}
	if kind, ok := perrors.Of(err); !ok || kind != perrors.ConfigInvalidRoot {
		t.Fatalf("got %v, want ConfigInvalidRoot", err)
	}
}

func TestLoadRejectsScalarRoot(t *testing.T) {
	_, err := Load(strings.NewReader("just a string\n"))
	if err == nil {
		t.Fatal("expected error for scalar root")
	}
	if kind, ok := perrors.Of(err); !ok || kind != perrors.ConfigInvalidRoot {
		t.Fatalf("got %v, want ConfigInvalidRoot", err)
	}
}

func TestScalarTypeInference(t *testing.T) {
	root := mustLoad(t, `
s: hello
i: 42
hexi: 0x1F
f: 3.14
b_true: true
b_false: FALSE
n: null
empty:
`)
	if root.Get("s").Kind != KindString || root.Get("s").String != "hello" {
		t.Errorf("s: %+v", root.Get("s"))
	}
	if root.Get("i").Kind != KindInt || root.Get("i").Int != 42 {
		t.Errorf("i: %+v", root.Get("i"))
	}
	if root.Get("hexi").Kind != KindInt || root.Get("hexi").Int != 31 || root.Get("hexi").Radix != Radix16 {
		t.Errorf("hexi: %+v", root.Get("hexi"))
	}
	if root.Get("f").Kind != KindFloat {
		t.Errorf("f: %+v", root.Get("f"))
	}
	if root.Get("b_true").Kind != KindBool || !root.Get("b_true").Bool {
		t.Errorf("b_true: %+v", root.Get("b_true"))
	}
	if root.Get("b_false").Kind != KindBool || root.Get("b_false").Bool {
		t.Errorf("b_false: %+v", root.Get("b_false"))
	}
	if !root.Get("n").IsNull() {
		t.Errorf("n: %+v", root.Get("n"))
	}
	if !root.Get("empty").IsNull() {
		t.Errorf("empty: %+v", root.Get("empty"))
	}
}

func TestNestedMappingsAndSequences(t *testing.T) {
	root := mustLoad(t, `
partitions:
  - size: 32MiB
    filesystem: fat32
  - size: 64MiB
    filesystem: ext4
mmc:
  hwreset: "1,0"
`)
	parts := LookupList(root, "partitions", nil)
	if len(parts) != 2 {
		t.Fatalf("len(partitions) = %d, want 2", len(parts))
	}
	if LookupString(parts[0], "filesystem", "") != "fat32" {
		t.Errorf("partitions[0].filesystem = %q", LookupString(parts[0], "filesystem", ""))
	}
	mmc := root.Get("mmc")
	if LookupString(mmc, "hwreset", "") != "1,0" {
		t.Errorf("mmc.hwreset = %q", LookupString(mmc, "hwreset", ""))
	}
}

// B5: unknown keys at any level are ignored (forward-compatible), not fatal.
func TestUnknownKeysIgnored(t *testing.T) {
	root := mustLoad(t, `
api-version: 1
some-future-key: surprise
partitions:
  - size: 32MiB
    some-partition-key: surprise
`)
	if LookupInt(root, "api-version", 0) != 1 {
		t.Fatalf("api-version not read")
	}
	parts := LookupList(root, "partitions", nil)
	if LookupBytes(parts[0], "size", 0) != 32*1024*1024 {
		t.Fatalf("partitions[0].size not read correctly")
	}
}

func TestLookupBytesFromIntAndString(t *testing.T) {
	root := mustLoad(t, `
a: 1024
b: 1MiB
`)
	if LookupBytes(root, "a", 0) != 1024 {
		t.Errorf("a")
	}
	if LookupBytes(root, "b", 0) != 1024*1024 {
		t.Errorf("b")
	}
}

type fakeDevice struct{ sectorSize int64 }

func (f fakeDevice) SectorSize() int64 { return f.sectorSize }

func TestLookupSectorFromIntAndString(t *testing.T) {
	root := mustLoad(t, `
a: 100
b: 32MiB
`)
	dev := fakeDevice{sectorSize: 512}
	if LookupSector(root, "a", dev, 0) != 100 {
		t.Errorf("a should be taken as sectors directly")
	}
	want := int64(32*1024*1024) / 512
	if LookupSector(root, "b", dev, 0) != want {
		t.Errorf("b")
	}
}

func TestLookupDefaultsOnTypeMismatch(t *testing.T) {
	root := mustLoad(t, `
a: "not a number but has a unit suffix? no"
`)
	if got := LookupInt(root, "a", 7); got != 7 {
		t.Errorf("LookupInt type mismatch = %d, want default 7", got)
	}
}
