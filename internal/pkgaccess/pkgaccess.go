// Package pkgaccess provides read access to a partitup package: a squashfs
// image carrying a single YAML layout file plus its payload files, mounted
// read-only for the duration of an install and unmounted on every exit path
// (spec.md §4.3 "Package access"), grounded on
// original_source/src/pu-package.c's pu_package_list_contents (mount under a
// scratch prefix with "loop,ro", walk it, unmount) and pu-main.c's
// pu_package_mount call site.
package pkgaccess

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"

	"github.com/phytec/partitup/internal/logger"
	"github.com/phytec/partitup/internal/mountutil"
	"github.com/phytec/partitup/internal/perrors"
)

var log = logger.Logger()

// Package is a mounted, read-only view of a squashfs package file.
type Package struct {
	imagePath  string
	mountPoint string
	// resolveBase is used in place of mountPoint when resolving payload
	// filenames, set by SetResolveBase for "--prefix PATH" (spec.md §6.1,
	// "overrides package-mount resolution base").
	resolveBase string
}

// SetResolveBase overrides the base directory Resolve/Stat use, in place of
// the package's own mount point, matching --prefix.
func (p *Package) SetResolveBase(prefix string) {
	p.resolveBase = prefix
}

func (p *Package) base() string {
	if p.resolveBase != "" {
		return p.resolveBase
	}
	return p.mountPoint
}

// Mount mounts imagePath read-only under mountutil's scratch prefix and
// returns a handle for resolving files inside it. Callers must call Close
// to unmount, typically via defer, matching the teacher's
// cleanupOnSuccess/cleanupOnError scoped-resource idiom in rawmaker.go.
func Mount(imagePath string) (*Package, error) {
	if _, err := os.Stat(imagePath); err != nil {
		return nil, perrors.Wrap(perrors.InputMissing, imagePath, err)
	}

	name := fmt.Sprintf("package-%08x", rand.Uint32())
	mountPoint, err := mountutil.CreateMountPoint(name)
	if err != nil {
		return nil, err
	}

	if err := mountutil.Mount(imagePath, mountPoint, "squashfs", "loop,ro"); err != nil {
		return nil, err
	}

	log.Debugf("Mounted package %s at %s", imagePath, mountPoint)
	return &Package{imagePath: imagePath, mountPoint: mountPoint}, nil
}

// Close unmounts the package. Safe to call on a nil *Package.
func (p *Package) Close() error {
	if p == nil {
		return nil
	}
	return mountutil.Umount(p.mountPoint)
}

// Root returns the package's mount point.
func (p *Package) Root() string {
	return p.mountPoint
}

// ManifestPath locates the sole *.yml/*.yaml file at the package root
// (spec.md §6.3: a package carries exactly one layout file) and returns its
// absolute path. More than one or zero candidates is a hard failure.
func (p *Package) ManifestPath() (string, error) {
	entries, err := os.ReadDir(p.mountPoint)
	if err != nil {
		return "", perrors.Wrap(perrors.InputMissing, p.mountPoint, err)
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yml" || ext == ".yaml" {
			candidates = append(candidates, e.Name())
		}
	}

	switch len(candidates) {
	case 0:
		return "", perrors.New(perrors.InputMissing, "package carries no YAML layout file")
	case 1:
		return filepath.Join(p.mountPoint, candidates[0]), nil
	default:
		return "", perrors.New(perrors.InputMissing,
			fmt.Sprintf("package carries %d YAML layout files, expected exactly one: %s",
				len(candidates), strings.Join(candidates, ", ")))
	}
}

// Resolve returns name's absolute path inside the mounted package.
func (p *Package) Resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(p.base(), name)
}

// Stat implements planner.FileResolver: it resolves filename against the
// package root and reports the size of the resulting file.
func (p *Package) Stat(filename string) (int64, error) {
	resolved := p.Resolve(filename)
	info, err := os.Stat(resolved)
	if err != nil {
		return 0, perrors.Wrap(perrors.InputMissing, resolved, err)
	}
	return info.Size(), nil
}

// Entry describes one file found while listing a package's contents.
type Entry struct {
	Path    string // slash-separated path relative to the package root
	Size    int64
	ModTime time.Time
}

// List walks the package's mounted contents recursively, matching
// pu_package_print_dir_content's recursive directory listing used by the
// "show" command. Modification times come from github.com/djherbis/times,
// which normalizes the change/birth/mtime fields the squashfs filesystem
// driver reports across platforms, rather than os.FileInfo.ModTime alone.
func (p *Package) List() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(p.mountPoint, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.mountPoint, path)
		if err != nil {
			return err
		}
		t, err := times.Stat(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: filepath.ToSlash(rel), Size: sizeOf(d), ModTime: t.ModTime()})
		return nil
	})
	if err != nil {
		return nil, perrors.Wrap(perrors.InputMissing, p.mountPoint, err)
	}
	return entries, nil
}

func sizeOf(d fs.DirEntry) int64 {
	info, err := d.Info()
	if err != nil {
		return 0
	}
	return info.Size()
}
