package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadComponentManifestDefaultsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	componentDir := filepath.Join(dir, "base")
	if err := os.MkdirAll(componentDir, 0o755); err != nil {
		t.Fatal(err)
	}

	m, err := LoadComponentManifest(componentDir)
	if err != nil {
		t.Fatalf("LoadComponentManifest: %v", err)
	}
	if m.Name != "base" {
		t.Errorf("expected name defaulted to directory name, got %q", m.Name)
	}
	if m.PrivData {
		t.Errorf("expected PrivData false by default")
	}
}

func TestLoadComponentManifestValidatesSchema(t *testing.T) {
	dir := t.TempDir()
	componentDir := filepath.Join(dir, "wks")
	if err := os.MkdirAll(componentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(componentDir, "config.json"), `{
		"name": "wks",
		"description": "workstation component",
		"privdata": true,
		"l10n": ["LANG", "TZ"]
	}`)

	m, err := LoadComponentManifest(componentDir)
	if err != nil {
		t.Fatalf("LoadComponentManifest: %v", err)
	}
	if !m.PrivData {
		t.Errorf("expected PrivData true")
	}
	if len(m.L10n) != 2 {
		t.Errorf("expected 2 l10n keys, got %v", m.L10n)
	}
}

func TestLoadComponentManifestRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	componentDir := filepath.Join(dir, "broken")
	if err := os.MkdirAll(componentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(componentDir, "config.json"), `{"privdata": "yes"}`)

	if _, err := LoadComponentManifest(componentDir); err == nil {
		t.Fatal("expected schema validation error for wrong type and missing name")
	}
}

func TestMergedL10nKeys(t *testing.T) {
	a := &ComponentManifest{L10n: []string{"LANG"}}
	b := &ComponentManifest{L10n: []string{"LANG", "TZ"}}
	keys := MergedL10nKeys([]string{"LC_ALL"}, []*ComponentManifest{a, b})
	want := []string{"LC_ALL", "LANG", "TZ"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
}
