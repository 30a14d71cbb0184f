// Package archive implements the deterministic tar round-trip used
// throughout component assembly and PRIVDATA sealing: structural
// directories, live-config trees and overlay directories all move through
// a tar stream rather than a recursive copy, which is what preserves
// ownership and permissions independently of the host running the build
// (spec.md §4.G step 2) and is what makes two builds from identical inputs
// byte-identical before encryption (spec.md §8).
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// deterministicModTime is stamped on every tar entry instead of the host's
// mtime, so re-running a build from identical inputs reproduces identical
// bytes.
var deterministicModTime = time.Unix(0, 0).UTC()

// TarOptions configures Tar.
type TarOptions struct {
	// Dereference follows symlinks instead of archiving them as links. The
	// overlay step in spec.md §4.G explicitly wants dereference=false;
	// structural-directory and live-config expansion use the zero value
	// (also false) since none of those trees are expected to carry symlinks
	// pointing outside themselves.
	Dereference bool
}

// Tar streams root's contents into a deterministic tar archive: entries
// sorted lexicographically by relative path, fixed mtimes, and numeric
// uid/gid 0 with no owner/group names, matching the "sealed archive
// building" design note (spec.md §9).
func Tar(root string, opts TarOptions) ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	var paths []string
	if err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("archive: walk %s: %w", root, err)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		full := filepath.Join(root, rel)
		if err := addEntry(tw, root, rel, full, opts); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("archive: close tar: %w", err)
	}
	return buf.Bytes(), nil
}

func addEntry(tw *tar.Writer, root, rel, full string, opts TarOptions) error {
	info, err := os.Lstat(full)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", full, err)
	}

	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if opts.Dereference {
			target, err := filepath.EvalSymlinks(full)
			if err != nil {
				return fmt.Errorf("archive: resolve symlink %s: %w", full, err)
			}
			info, err = os.Stat(target)
			if err != nil {
				return fmt.Errorf("archive: stat symlink target %s: %w", target, err)
			}
			full = target
		} else {
			l, err := os.Readlink(full)
			if err != nil {
				return fmt.Errorf("archive: readlink %s: %w", full, err)
			}
			link = l
		}
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("archive: header for %s: %w", rel, err)
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	hdr.ModTime = deterministicModTime
	hdr.AccessTime = time.Time{}
	hdr.ChangeTime = time.Time{}
	hdr.Uname = ""
	hdr.Gname = ""
	hdr.Uid = 0
	hdr.Gid = 0

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: write header for %s: %w", rel, err)
	}
	if info.Mode().IsRegular() {
		f, err := os.Open(full)
		if err != nil {
			return fmt.Errorf("archive: open %s: %w", full, err)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive: write content for %s: %w", rel, err)
		}
	}
	return nil
}

// Untar extracts a tar stream produced by Tar (or any well-formed tar)
// under destRoot, preserving the entries' mode bits. It is used both to
// expand a component's structural/live-config/overlay trees into the build
// tree and, at unlock time, to splay a decrypted PRIVDATA or live-config
// bundle back onto the filesystem.
func Untar(data []byte, destRoot string) error {
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: read tar entry: %w", err)
		}
		target := filepath.Join(destRoot, filepath.FromSlash(hdr.Name))
		if err := extractEntry(tr, hdr, target); err != nil {
			return err
		}
	}
}

func extractEntry(tr io.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode))
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	default:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("archive: create parent of %s: %w", target, err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("archive: create %s: %w", target, err)
		}
		defer f.Close()
		if _, err := io.Copy(f, tr); err != nil {
			return fmt.Errorf("archive: write %s: %w", target, err)
		}
		return nil
	}
}
