package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadBuildConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	writeFile(t, path, `
components:
  - components/base
  - components/wks
device-public-key-file: keys/device.pub
version: "1.0.0"
valid-from: 1700000000
valid-to: 1800000000
build-id: "2026-07-31-01"
build-type: WKS
l10n:
  LANG: en_US.UTF-8
`)

	cfg, err := LoadBuildConfig(path)
	if err != nil {
		t.Fatalf("LoadBuildConfig: %v", err)
	}
	if len(cfg.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(cfg.Components))
	}
	if cfg.Components[0] != "components/base" {
		t.Errorf("expected declaration order preserved, got %v", cfg.Components)
	}
	if cfg.BuildType != BuildTypeWKS {
		t.Errorf("expected build type WKS, got %q", cfg.BuildType)
	}
}

func TestLoadBuildConfigRejectsInvalidBuildType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	writeFile(t, path, `
components: [components/base]
build-type: DESKTOP
`)
	if _, err := LoadBuildConfig(path); err == nil {
		t.Fatal("expected error for invalid build-type")
	}
}

func TestLoadBuildConfigRejectsEmptyComponents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "build.yaml")
	writeFile(t, path, `
components: []
build-type: WKS
`)
	if _, err := LoadBuildConfig(path); err == nil {
		t.Fatal("expected error for no declared components")
	}
}

func TestFormatConfigResolveOverridesWinOverUser(t *testing.T) {
	fc := &FormatConfig{
		ID: "wks-default",
		Overrides: map[string]string{
			ParamFSData: "luks2",
		},
	}
	user := FormatParams{
		ParamPasswordUser: "hunter2",
		ParamFSData:       "exfat",
		ParamEnctypeData:  "aes-xts-plain64",
	}
	resolved, err := fc.Resolve(user)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved[ParamFSData] != "luks2" {
		t.Errorf("expected override to win, got %q", resolved[ParamFSData])
	}
	if resolved[ParamPasswordUser] != "hunter2" {
		t.Errorf("expected user-supplied password-user preserved, got %q", resolved[ParamPasswordUser])
	}
}

func TestFormatConfigResolveMissingRequiredKey(t *testing.T) {
	fc := &FormatConfig{ID: "wks-default"}
	_, err := fc.Resolve(FormatParams{ParamPasswordUser: "x"})
	if err == nil {
		t.Fatal("expected error for missing required params")
	}
}

func TestLoadFormatConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format.yaml")
	writeFile(t, path, `
id: wks-default
build-config-file: build.yaml
overrides:
  fs-data: luks2
`)
	fc, err := LoadFormatConfig(path)
	if err != nil {
		t.Fatalf("LoadFormatConfig: %v", err)
	}
	if fc.ID != "wks-default" {
		t.Errorf("expected id wks-default, got %q", fc.ID)
	}
	if fc.Overrides[ParamFSData] != "luks2" {
		t.Errorf("expected override loaded, got %v", fc.Overrides)
	}
}

func TestLoadFormatParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "params.json")
	writeFile(t, path, `{"password-user": "hunter2", "fs-data": "exfat", "enctype-data": "aes-xts-plain64"}`)

	params, err := LoadFormatParams(path)
	if err != nil {
		t.Fatalf("LoadFormatParams: %v", err)
	}
	if params[ParamPasswordUser] != "hunter2" {
		t.Errorf("expected password-user loaded, got %q", params[ParamPasswordUser])
	}
}

func TestMergeStringSlices(t *testing.T) {
	merged := mergeStringSlices([]string{"a", "b", "c"}, []string{"c", "d"})
	want := []string{"a", "b", "c", "d"}
	if len(merged) != len(want) {
		t.Fatalf("expected %v, got %v", want, merged)
	}
	for i, w := range want {
		if merged[i] != w {
			t.Fatalf("expected %v, got %v", want, merged)
		}
	}
}
