// Package config parses the human-authored build and format configuration
// files that drive internal/build and the dev-format CLI. Build and format
// configuration is YAML, following the teacher's template-parsing
// convention (gopkg.in/yaml.v3); the device-resident wire formats spec.md
// pins to JSON (blob0.json, keyinfos.json, chunk lists) are handled by the
// packages that own them (internal/credentials, internal/build) instead.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sealbox/sealbox/internal/utils/security"
)

// BuildType is one of the four image classes keyinfos.json records.
type BuildType string

const (
	BuildTypeWKS    BuildType = "WKS"
	BuildTypeServer BuildType = "SERVER"
	BuildTypeAdmin  BuildType = "ADMIN"
	BuildTypeSimple BuildType = "SIMPLE"
)

// Valid reports whether t is one of the four declared build types.
func (t BuildType) Valid() bool {
	switch t {
	case BuildTypeWKS, BuildTypeServer, BuildTypeAdmin, BuildTypeSimple:
		return true
	}
	return false
}

// BuildConfig is the top-level input to internal/build.Builder: the set of
// components to assemble, in declaration order, plus the metadata that ends
// up in opt/share/keyinfos.json.
type BuildConfig struct {
	// Components lists component directories in the order they are applied.
	// Order matters: later components can overlay earlier ones.
	Components []string `yaml:"components"`

	// DevicePublicKeyFile seals PRIVDATA and live-config archives. Required
	// if any component produces a non-empty privdata/ tree.
	DevicePublicKeyFile string `yaml:"device-public-key-file"`

	Version   string            `yaml:"version"`
	ValidFrom int64             `yaml:"valid-from"`
	ValidTo   int64             `yaml:"valid-to"`
	BuildID   string            `yaml:"build-id"`
	BuildType BuildType         `yaml:"build-type"`
	L10n      map[string]string `yaml:"l10n"`

	// ImageInfosFile is the external copy of keyinfos.json published
	// alongside the ISO, per spec.md §4.G step 5.
	ImageInfosFile string `yaml:"image-infos-file"`

	// ContainerImage is the live-build container image reference invoked by
	// the builder (spec.md §4.G step 6).
	ContainerImage string `yaml:"container-image"`

	// OutputDir is where the final <build-id>-<build-type>.iso and the
	// per-build <build-id>.log land.
	OutputDir string `yaml:"output-dir"`
}

// LoadBuildConfig reads and validates a BuildConfig from YAML at path.
func LoadBuildConfig(path string) (*BuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load build config: %w", err)
	}
	var cfg BuildConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse build config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *BuildConfig) validate() error {
	if len(c.Components) == 0 {
		return fmt.Errorf("config: build config declares no components")
	}
	if c.BuildType == "" || !c.BuildType.Valid() {
		return fmt.Errorf("config: build config has invalid build-type %q", c.BuildType)
	}
	lim := security.DefaultLimits()
	if err := security.ValidateString("build-id", c.BuildID, lim); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for k, v := range c.L10n {
		if err := security.ValidateString("l10n:"+k, v, lim); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// FormatConfig describes one named format-configuration: the build
// configuration to run plus overrides applied on top of the operator-
// supplied params file, per spec.md §6 (overrides take precedence over
// user-supplied values).
type FormatConfig struct {
	ID              string            `yaml:"id"`
	BuildConfigFile string            `yaml:"build-config-file"`
	Overrides       map[string]string `yaml:"overrides"`
}

// LoadFormatConfig reads a FormatConfig from YAML at path.
func LoadFormatConfig(path string) (*FormatConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load format config: %w", err)
	}
	var cfg FormatConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse format config %s: %w", path, err)
	}
	if cfg.ID == "" {
		return nil, fmt.Errorf("config: format config at %s has no id", path)
	}
	return &cfg, nil
}

// FormatParams is the parsed content of a dev-format params file: the
// required keys from spec.md §6 plus whatever config-specific keys the
// format configuration expects.
type FormatParams map[string]string

const (
	ParamPasswordUser = "password-user"
	ParamFSData       = "fs-data"
	ParamEnctypeData  = "enctype-data"
)

// requiredParams are the keys spec.md §6 guarantees are present in any
// params file, regardless of format-configuration.
var requiredParams = []string{ParamPasswordUser, ParamFSData, ParamEnctypeData}

// LoadFormatParams reads a dev-format params file: a flat JSON object of
// string keys to string values, per spec.md §6.
func LoadFormatParams(path string) (FormatParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load params file: %w", err)
	}
	var params FormatParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("config: parse params file %s: %w", path, err)
	}
	return params, nil
}

// Resolve merges a format configuration's Overrides on top of user-supplied
// params: override keys always win, matching spec.md §6 ("overrides from
// the format-configuration take precedence over user-supplied values").
// The merged result is returned only once every required key is present.
func (fc *FormatConfig) Resolve(userParams FormatParams) (FormatParams, error) {
	merged := FormatParams{}
	for k, v := range userParams {
		merged[k] = v
	}
	for k, v := range fc.Overrides {
		merged[k] = v
	}
	for _, req := range requiredParams {
		if _, ok := merged[req]; !ok {
			return nil, fmt.Errorf("config: params file is missing required key %q", req)
		}
	}
	return merged, nil
}

// mergeStringSlices unions two ordered string slices, preserving the
// relative order of first appearance and dropping duplicates. Used to merge
// a component's l10n variable names with a format configuration's own list
// without picking a fixed precedence between them.
func mergeStringSlices(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string{}, base...), extra...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
