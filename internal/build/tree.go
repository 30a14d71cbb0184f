// Package build implements the live-image builder, spec.md §4.G: it
// assembles a live-build input tree from a component list, seals PRIVDATA
// and live-config under the device public key, and drives a containerized
// live-build run followed by ISO post-processing.
package build

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/logging"
)

var log = logging.Logger()

// Tree is the live-build project layout rooted at a build directory: the
// config/ subdirectory carries live-build's own structural conventions
// (package-lists, packages.chroot, includes.chroot, plus whatever other
// _<name> directories components contribute), with includes.chroot — "the
// fs", in spec.md's terms — being the overlay that becomes the live
// system's root filesystem.
type Tree struct {
	Root string // the build directory passed to the live-build container

	Config         string // Root/config
	PackageLists   string // Root/config/package-lists
	PackagesChroot string // Root/config/packages.chroot
	FS             string // Root/config/includes.chroot ("<fs>")
}

// NewTree prepares the build-dir skeleton spec.md §4.G step 1 requires:
// config/package-lists, config/packages.chroot, config/includes.chroot.
func NewTree(root string) (*Tree, error) {
	t := &Tree{
		Root:           root,
		Config:         filepath.Join(root, "config"),
		PackageLists:   filepath.Join(root, "config", "package-lists"),
		PackagesChroot: filepath.Join(root, "config", "packages.chroot"),
		FS:             filepath.Join(root, "config", "includes.chroot"),
	}
	for _, dir := range []string{t.PackageLists, t.PackagesChroot, t.FS} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("build: prepare build dir: %w", err)
		}
	}
	return t, nil
}

// PrivDataDir is the per-component PRIVDATA staging directory inside the
// fs, sealed in its entirety once every component has run (spec.md §4.G
// step 3).
func (t *Tree) PrivDataDir(component string) string {
	return filepath.Join(t.FS, "privdata", component)
}

// LiveConfigDir is where a component's live-config/ tree is expanded,
// namespaced by component (spec.md §4.G step 2).
func (t *Tree) LiveConfigDir(component string) string {
	return filepath.Join(t.FS, "live-config", component)
}
