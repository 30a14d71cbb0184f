package build

import (
	"os"
	"path/filepath"
	"testing"
)

func writeComponentTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestApplyComponentExpandsStructuralDirAndOverlay(t *testing.T) {
	compDir := t.TempDir()
	writeComponentTree(t, compDir, map[string]string{
		"config.json":             `{"name": "sample"}`,
		"_hooks/foo.hook":         "hook-body",
		"packages.list":           "curl\nvim\n",
		"etc/sample.conf":         "key=value",
		"live-config/greeter.cfg": "greeting=hi",
	})

	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	components, err := LoadComponents([]string{compDir})
	if err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	if len(components) != 1 || components[0].Name() != "sample" {
		t.Fatalf("unexpected components: %+v", components)
	}

	if err := ApplyComponent(tr, components[0], PrepareEnv{}); err != nil {
		t.Fatalf("ApplyComponent: %v", err)
	}

	hook := filepath.Join(tr.Config, "hooks", "foo.hook")
	if data, err := os.ReadFile(hook); err != nil || string(data) != "hook-body" {
		t.Errorf("expected structural dir expanded to %s, got err=%v data=%q", hook, err, data)
	}

	list := filepath.Join(tr.PackageLists, "sample.list.chroot")
	if data, err := os.ReadFile(list); err != nil || string(data) != "curl\nvim\n" {
		t.Errorf("expected packages.list copied to %s, got err=%v data=%q", list, err, data)
	}

	overlay := filepath.Join(tr.FS, "etc", "sample.conf")
	if data, err := os.ReadFile(overlay); err != nil || string(data) != "key=value" {
		t.Errorf("expected overlay file at %s, got err=%v data=%q", overlay, err, data)
	}

	liveCfg := filepath.Join(tr.LiveConfigDir("sample"), "greeter.cfg")
	if data, err := os.ReadFile(liveCfg); err != nil || string(data) != "greeting=hi" {
		t.Errorf("expected live-config expanded to %s, got err=%v data=%q", liveCfg, err, data)
	}
}

func TestCopyDebPackagesRenamesToAmd64Suffix(t *testing.T) {
	compDir := t.TempDir()
	writeComponentTree(t, compDir, map[string]string{
		"config.json":             `{"name": "withdeb"}`,
		"packages.deb/thing.deb":  "binary-content",
	})

	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	components, err := LoadComponents([]string{compDir})
	if err != nil {
		t.Fatalf("LoadComponents: %v", err)
	}
	if err := ApplyComponent(tr, components[0], PrepareEnv{}); err != nil {
		t.Fatalf("ApplyComponent: %v", err)
	}

	dst := filepath.Join(tr.PackagesChroot, "thing_amd64.deb")
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", dst, err)
	}
	if string(data) != "binary-content" {
		t.Errorf("got %q", data)
	}
}
