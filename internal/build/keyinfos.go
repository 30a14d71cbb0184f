package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/config"
)

// KeyInfos is the published keyinfos.json document: the signed-in-spirit
// (though not cryptographically signed here, unlike blob1 meta) record of
// what an image is and when it is valid, published for operators auditing
// a fleet of images.
type KeyInfos struct {
	Version   string            `json:"version"`
	ValidFrom int64             `json:"valid-from"`
	ValidTo   int64             `json:"valid-to"`
	BuildID   string            `json:"build-id"`
	BuildType config.BuildType  `json:"build-type"`
	L10n      map[string]string `json:"l10n,omitempty"`
}

// WriteKeyInfos writes keyinfos.json twice: once inside the fs at
// opt/share/keyinfos.json, where the running live system can read its own
// identity, and once at cfg.ImageInfosFile, the external copy published
// alongside the ISO (spec.md §4.G step 5).
func WriteKeyInfos(t *Tree, cfg *config.BuildConfig) error {
	info := KeyInfos{
		Version:   cfg.Version,
		ValidFrom: cfg.ValidFrom,
		ValidTo:   cfg.ValidTo,
		BuildID:   cfg.BuildID,
		BuildType: cfg.BuildType,
		L10n:      cfg.L10n,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("build: marshal keyinfos.json: %w", err)
	}

	internalPath := filepath.Join(t.FS, "opt", "share", "keyinfos.json")
	if err := os.MkdirAll(filepath.Dir(internalPath), 0o755); err != nil {
		return fmt.Errorf("build: mkdir opt/share: %w", err)
	}
	if err := os.WriteFile(internalPath, data, 0o644); err != nil {
		return fmt.Errorf("build: write %s: %w", internalPath, err)
	}

	if cfg.ImageInfosFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ImageInfosFile), 0o755); err != nil {
			return fmt.Errorf("build: mkdir image-infos-file dir: %w", err)
		}
		if err := os.WriteFile(cfg.ImageInfosFile, data, 0o644); err != nil {
			return fmt.Errorf("build: write %s: %w", cfg.ImageInfosFile, err)
		}
	}

	return nil
}
