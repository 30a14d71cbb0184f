package unlock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/runtool"
)

// BindMap bind-mounts directories under a data partition's mountpoint onto
// a static set of absolute destination paths the live system expects to
// find its persistent state at (e.g. /var/lib/something), per the
// original's map_directories/unmap_directories. When the source directory
// under DataRoot does not yet exist, it is seeded from the destination's
// current contents before the bind-mount is established, so a freshly
// provisioned data partition starts from whatever the live image shipped.
type BindMap struct {
	// DataRoot is the data partition's mountpoint.
	DataRoot string
	// Entries maps a key (the directory name under DataRoot/<key>) to the
	// absolute destination path it is bind-mounted onto.
	Entries map[string]string

	Runner runtool.Runner

	mounted []string
}

// NewBindMap returns a BindMap with the given entries, falling back to
// runtool.Default when runner is nil.
func NewBindMap(dataRoot string, entries map[string]string, runner runtool.Runner) *BindMap {
	if runner == nil {
		runner = runtool.Default
	}
	return &BindMap{DataRoot: dataRoot, Entries: entries, Runner: runner}
}

// Map seeds and bind-mounts every entry, in unspecified order. On the first
// failure it unwinds whatever it already mounted and returns the error:
// a partial bind-map is never left in place.
func (bm *BindMap) Map(ctx context.Context) error {
	for key, dest := range bm.Entries {
		src := filepath.Join(bm.DataRoot, key)
		if err := seedIfAbsent(src, dest); err != nil {
			_ = bm.unmountAll(ctx)
			return fmt.Errorf("bindmap: seed %s: %w", key, err)
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			_ = bm.unmountAll(ctx)
			return fmt.Errorf("bindmap: prepare destination %s: %w", dest, err)
		}
		if _, err := bm.Runner.Run(ctx, "mount", []string{"--bind", src, dest}, runtool.Options{Sudo: true}); err != nil {
			_ = bm.unmountAll(ctx)
			return fmt.Errorf("bindmap: bind-mount %s onto %s: %w", src, dest, err)
		}
		bm.mounted = append(bm.mounted, dest)
	}
	return nil
}

// Unmap unmounts every destination Map bound, in reverse order, collecting
// rather than stopping at the first failure: shutdown must make a best
// effort on every entry.
func (bm *BindMap) Unmap(ctx context.Context) error {
	return bm.unmountAll(ctx)
}

func (bm *BindMap) unmountAll(ctx context.Context) error {
	var firstErr error
	for i := len(bm.mounted) - 1; i >= 0; i-- {
		dest := bm.mounted[i]
		if _, err := bm.Runner.Run(ctx, "umount", []string{dest}, runtool.Options{Sudo: true}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("bindmap: umount %s: %w", dest, err)
		}
	}
	bm.mounted = nil
	return firstErr
}

// seedIfAbsent copies dest's current contents into src when src does not
// yet exist, so a fresh data partition starts from whatever the live image
// shipped at dest rather than an empty directory.
func seedIfAbsent(src, dest string) error {
	if _, err := os.Stat(src); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if _, err := os.Stat(dest); os.IsNotExist(err) {
		return os.MkdirAll(src, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		return err
	}
	return copyTree(dest, src)
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
