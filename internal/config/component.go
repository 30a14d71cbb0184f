package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// componentConfigSchema constrains a component's config.json: the per-
// component configuration dumped to CONF_DATA_FILE in the prepare.* script
// environment (spec.md §6).
const componentConfigSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"description": {"type": "string"},
		"privdata": {"type": "boolean"},
		"live-config": {"type": "boolean"},
		"l10n": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["name"],
	"additionalProperties": true
}`

var compiledComponentSchema *jsonschema.Schema

func componentSchema() (*jsonschema.Schema, error) {
	if compiledComponentSchema != nil {
		return compiledComponentSchema, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("component-config.json", strings.NewReader(componentConfigSchema)); err != nil {
		return nil, fmt.Errorf("config: compile component schema: %w", err)
	}
	schema, err := compiler.Compile("component-config.json")
	if err != nil {
		return nil, fmt.Errorf("config: compile component schema: %w", err)
	}
	compiledComponentSchema = schema
	return schema, nil
}

// ComponentManifest is a component's declared config.json, validated
// against componentConfigSchema. Unknown component directories carry no
// config.json at all, in which case LoadComponentManifest returns a
// manifest carrying only the directory's name as Name, with
// PrivData/LiveConfig left false — only the files actually
// present in a component's tree (packages.list, live-config/, prepare.*)
// drive what internal/build does with it.
type ComponentManifest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PrivData    bool     `json:"privdata"`
	LiveConfig  bool     `json:"live-config"`
	L10n        []string `json:"l10n"`

	raw map[string]any
}

// LoadComponentManifest reads and schema-validates componentDir/config.json.
// A component directory with no config.json is not an error: it returns a
// manifest named after the directory, with every optional field at its
// zero value.
func LoadComponentManifest(componentDir string) (*ComponentManifest, error) {
	path := filepath.Join(componentDir, "config.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ComponentManifest{Name: filepath.Base(componentDir)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	schema, err := componentSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("config: %s does not satisfy the component schema: %w", path, err)
	}

	var m ComponentManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if raw, ok := doc.(map[string]any); ok {
		m.raw = raw
	}
	if m.Name == "" {
		m.Name = filepath.Base(componentDir)
	}
	return &m, nil
}

// MergedL10nKeys folds a component's declared l10n variable names into a
// build-wide, order-preserving, deduplicated list — the set of
// localization env vars the prepare.* contract (spec.md §6) must supply.
func MergedL10nKeys(buildWide []string, components []*ComponentManifest) []string {
	keys := buildWide
	for _, c := range components {
		keys = mergeStringSlices(keys, c.L10n)
	}
	return keys
}

// Raw exposes the component's config.json as a generic map, used by
// internal/build to write CONF_DATA_FILE verbatim rather than round-
// tripping through ComponentManifest's narrower field set.
func (m *ComponentManifest) Raw() map[string]any {
	if m.raw != nil {
		return m.raw
	}
	b, _ := json.Marshal(m)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}
