package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

// Verifier describes one named signature check to run against device
// metadata: a public key file, and a type tag reserved for future non-key
// verification schemes (only "key" is implemented).
type Verifier struct {
	Type          string
	PublicKeyFile string
}

// Verify checks that, for every entry in verifiers, a detached signature
// file named "<metadata>.sig" alongside the referenced metadata file
// validates against that verifier's public key. All named verifiers must
// succeed; the metadata root is dummy's mountpoint.
func (d *Device) Verify(verifiers map[string]Verifier) error {
	mp, ok := d.Mountpoint(RoleDummy)
	if !ok {
		return fmt.Errorf("device verify: %s is not mounted", RoleDummy)
	}

	names := make([]string, 0, len(verifiers))
	for name := range verifiers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := verifiers[name]
		if v.Type != "key" {
			return fmt.Errorf("device verify: %s: unsupported verifier type %q", name, v.Type)
		}
		pub, err := os.ReadFile(v.PublicKeyFile)
		if err != nil {
			return fmt.Errorf("device verify: %s: %w", name, err)
		}
		metaPath := filepath.Join(mp, "resources", "meta.json")
		sigPath := metaPath + ".sig"
		data, err := os.ReadFile(metaPath)
		if err != nil {
			return fmt.Errorf("device verify: %s: %w", name, err)
		}
		sig, err := os.ReadFile(sigPath)
		if err != nil {
			return fmt.Errorf("device verify: %s: %w", name, err)
		}
		if err := cryptoprim.VerifyDetached(pub, data, sig); err != nil {
			return fmt.Errorf("device verify: %s: %w", name, err)
		}
	}
	return nil
}
