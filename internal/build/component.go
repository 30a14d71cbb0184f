package build

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/config"
)

// Component is one directory from a BuildConfig's Components list, loaded
// and ready to apply to a Tree.
type Component struct {
	Dir      string
	Manifest *config.ComponentManifest
}

// Name is the component's declared or directory-derived name.
func (c *Component) Name() string { return c.Manifest.Name }

// LoadComponents loads every component directory's manifest, preserving
// declaration order: order matters because later components can overlay
// earlier ones (spec.md §4.G).
func LoadComponents(dirs []string) ([]*Component, error) {
	components := make([]*Component, 0, len(dirs))
	for _, dir := range dirs {
		m, err := config.LoadComponentManifest(dir)
		if err != nil {
			return nil, fmt.Errorf("build: load component %s: %w", dir, err)
		}
		components = append(components, &Component{Dir: dir, Manifest: m})
	}
	return components, nil
}

// ApplyComponent runs the full per-component sequence from spec.md §4.G
// step 2: structural dirs, packages.list, packages.deb, live-config and
// privdata are handled as their entries come up in the directory's name
// order; overlay directories are applied after them, and the prepare hook
// runs last.
func ApplyComponent(t *Tree, c *Component, env PrepareEnv) error {
	log.Infof("build: applying component %s", c.Name())

	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return fmt.Errorf("build: read component dir %s: %w", c.Dir, err)
	}

	var overlayDirs []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir() && strings.HasPrefix(name, "_"):
			if err := expandStructuralDir(t, c, name); err != nil {
				return err
			}
		case !e.IsDir() && name == "packages.list":
			if err := copyPackagesList(t, c); err != nil {
				return err
			}
		case e.IsDir() && name == "packages.deb":
			if err := copyDebPackages(t, c); err != nil {
				return err
			}
		case e.IsDir() && name == "live-config":
			if err := expandLiveConfig(t, c); err != nil {
				return err
			}
		case e.IsDir() && name == "privdata":
			// Handled separately: privdata is staged into t.PrivDataDir
			// by overlayDir below (it is not a live-build concern),
			// then sealed as a whole tree in seal.go once every component
			// has run.
			if err := overlayDir(t, filepath.Join(c.Dir, name), t.PrivDataDir(c.Name())); err != nil {
				return err
			}
		case name == "config.json", name == "prepare.sh", name == "prepare.py":
			// not part of the overlay
		case e.IsDir():
			overlayDirs = append(overlayDirs, name)
		}
	}

	sort.Strings(overlayDirs)
	for _, name := range overlayDirs {
		if err := overlayDir(t, filepath.Join(c.Dir, name), filepath.Join(t.FS, name)); err != nil {
			return err
		}
	}

	return runPrepareHook(t, c, env)
}

// expandStructuralDir tar-round-trips a component's _<name> directory into
// config/<name>, preserving ownership/permissions independently of the
// host (spec.md §4.G step 2).
func expandStructuralDir(t *Tree, c *Component, dirName string) error {
	target := strings.TrimPrefix(dirName, "_")
	return overlayDir(t, filepath.Join(c.Dir, dirName), filepath.Join(t.Config, target))
}

func copyPackagesList(t *Tree, c *Component) error {
	src := filepath.Join(c.Dir, "packages.list")
	dst := filepath.Join(t.PackageLists, c.Name()+".list.chroot")
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("build: read %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("build: write %s: %w", dst, err)
	}
	return nil
}

// copyDebPackages copies every *.deb from the component's packages.deb/
// into config/packages.chroot, renamed to end in _amd64.deb — the
// live-build naming contract (spec.md §4.G step 2).
func copyDebPackages(t *Tree, c *Component) error {
	src := filepath.Join(c.Dir, "packages.deb")
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("build: read %s: %w", src, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".deb") {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".deb")
		base = strings.TrimSuffix(base, "_amd64")
		dstName := base + "_amd64.deb"
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return fmt.Errorf("build: read %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(t.PackagesChroot, dstName), data, 0o644); err != nil {
			return fmt.Errorf("build: write %s: %w", dstName, err)
		}
	}
	return nil
}

func expandLiveConfig(t *Tree, c *Component) error {
	return overlayDir(t, filepath.Join(c.Dir, "live-config"), t.LiveConfigDir(c.Name()))
}

// overlayDir tar-round-trips src into dst, matching the "dereference=false"
// contract spec.md §4.G step 2 specifies for overlay directories (symlinks
// within the component tree are preserved as links, not followed).
func overlayDir(t *Tree, src, dst string) error {
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}
	data, err := archive.Tar(src, archive.TarOptions{Dereference: false})
	if err != nil {
		return fmt.Errorf("build: tar %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("build: mkdir %s: %w", dst, err)
	}
	if err := archive.Untar(data, dst); err != nil {
		return fmt.Errorf("build: untar into %s: %w", dst, err)
	}
	return nil
}

// PrepareEnv carries the build-wide values that go into every component's
// prepare.* environment alongside its own per-component variables
// (spec.md §6).
type PrepareEnv struct {
	SourcesDir      string
	BuildDir        string
	BuildDataFile   string
	ComponentBlobs  []string
	ConfDir         string
	LibsDir         string
	PythonPath      string
	L10n            map[string]string
}

func runPrepareHook(t *Tree, c *Component, env PrepareEnv) error {
	var script, interpreter string
	for _, candidate := range []struct {
		name, interp string
	}{{"prepare.sh", "bash"}, {"prepare.py", "python3"}} {
		p := filepath.Join(c.Dir, candidate.name)
		if _, err := os.Stat(p); err == nil {
			script, interpreter = p, candidate.interp
			break
		}
	}
	if script == "" {
		return nil
	}

	confDataFile, err := writeConfDataFile(t, c)
	if err != nil {
		return err
	}

	cmdEnv := append(os.Environ(),
		"SOURCES_DIR="+env.SourcesDir,
		"BUILD_DIR="+env.BuildDir,
		"BUILD_DATA_FILE="+env.BuildDataFile,
		"COMPONENT_DIR="+c.Dir,
		"COMPONENT_BLOBS_DIR="+strings.Join(env.ComponentBlobs, "|"),
		"CONF_DIR="+env.ConfDir,
		"LIVE_DIR="+t.FS,
		"LIBS_DIR="+env.LibsDir,
		"PYTHONPATH="+env.PythonPath,
		"CONF_DATA_FILE="+confDataFile,
		"PRIVDATA_DIR="+t.PrivDataDir(c.Name()),
	)
	for k, v := range env.L10n {
		cmdEnv = append(cmdEnv, k+"="+v)
	}

	cmd := exec.Command(interpreter, script)
	cmd.Dir = c.Dir
	cmd.Env = cmdEnv
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		log.Debugf("build: %s prepare output: %s", c.Name(), out)
	}
	if err != nil {
		return fmt.Errorf("build: component %s prepare hook failed: %w", c.Name(), err)
	}
	return nil
}

func writeConfDataFile(t *Tree, c *Component) (string, error) {
	path := filepath.Join(t.Root, ".conf-"+c.Name()+".json")
	data, err := json.MarshalIndent(c.Manifest.Raw(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("build: marshal component config for %s: %w", c.Name(), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("build: write conf data file for %s: %w", c.Name(), err)
	}
	return path, nil
}
