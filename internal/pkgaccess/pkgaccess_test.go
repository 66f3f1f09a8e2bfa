package pkgaccess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/phytec/partitup/internal/perrors"
)

func TestManifestPathSingleCandidate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "layout.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rootfs.ext4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	p := &Package{mountPoint: dir}
	got, err := p.ManifestPath()
	if err != nil {
		t.Fatalf("ManifestPath: %v", err)
	}
	if got != filepath.Join(dir, "layout.yaml") {
		t.Fatalf("got %q", got)
	}
}

func TestManifestPathNoCandidates(t *testing.T) {
	dir := t.TempDir()
	p := &Package{mountPoint: dir}
	_, err := p.ManifestPath()
	if kind, ok := perrors.Of(err); !ok || kind != perrors.InputMissing {
		t.Fatalf("got %v, want InputMissing", err)
	}
}

func TestManifestPathMultipleCandidates(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	p := &Package{mountPoint: dir}
	_, err := p.ManifestPath()
	if kind, ok := perrors.Of(err); !ok || kind != perrors.InputMissing {
		t.Fatalf("got %v, want InputMissing", err)
	}
}

func TestResolveRelativeAndAbsolute(t *testing.T) {
	p := &Package{mountPoint: "/mnt/pkg"}
	if got := p.Resolve("rootfs.ext4"); got != "/mnt/pkg/rootfs.ext4" {
		t.Fatalf("got %q", got)
	}
	if got := p.Resolve("/elsewhere/file.bin"); got != "/elsewhere/file.bin" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveHonorsOverrideBase(t *testing.T) {
	p := &Package{mountPoint: "/mnt/pkg"}
	p.SetResolveBase("/custom/prefix")
	if got := p.Resolve("rootfs.ext4"); got != "/custom/prefix/rootfs.ext4" {
		t.Fatalf("got %q", got)
	}
}

func TestStatResolvedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "payload.bin"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	p := &Package{mountPoint: dir}
	size, err := p.Stat("payload.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if size != 5 {
		t.Fatalf("size = %d, want 5", size)
	}
}

func TestStatMissingFile(t *testing.T) {
	dir := t.TempDir()
	p := &Package{mountPoint: dir}
	if _, err := p.Stat("nope.bin"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestListWalksRecursively(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "top.bin"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "nested.bin"), []byte("abcd"), 0644); err != nil {
		t.Fatal(err)
	}

	p := &Package{mountPoint: dir}
	entries, err := p.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	sizes := make(map[string]int64)
	for _, e := range entries {
		sizes[e.Path] = e.Size
	}
	if sizes["top.bin"] != 2 {
		t.Fatalf("top.bin size = %d, want 2", sizes["top.bin"])
	}
	if sizes[filepath.ToSlash(filepath.Join("sub", "nested.bin"))] != 4 {
		t.Fatalf("sub/nested.bin size = %d, want 4", sizes["sub/nested.bin"])
	}
}

func TestCloseOnNilPackage(t *testing.T) {
	var p *Package
	if err := p.Close(); err != nil {
		t.Fatalf("Close on nil *Package should be a no-op, got %v", err)
	}
}
