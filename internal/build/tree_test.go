package build

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewTreeCreatesSkeleton(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	for _, dir := range []string{tr.PackageLists, tr.PackagesChroot, tr.FS} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s", dir)
		}
	}
}

func TestTreePrivDataAndLiveConfigDirs(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	want := filepath.Join(tr.FS, "privdata", "my-component")
	if got := tr.PrivDataDir("my-component"); got != want {
		t.Errorf("PrivDataDir: got %s, want %s", got, want)
	}
	wantLive := filepath.Join(tr.FS, "live-config", "my-component")
	if got := tr.LiveConfigDir("my-component"); got != wantLive {
		t.Errorf("LiveConfigDir: got %s, want %s", got, wantLive)
	}
}
