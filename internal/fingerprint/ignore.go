// Package fingerprint implements the content-hashing predicates and the
// integrity-chain composition that together produce the device's
// fingerprint: the symmetric key material gating the `internal` partition
// password.
package fingerprint

import (
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

const (
	internalPassMaxSize = 500
	blob0MaxSize        = 10000
)

// DummyIgnorePredicate builds the ignore predicate for the `dummy`
// partition: resources/internal-pass.enc and resources/blob0.json are
// exempted from the hash only while they stay within their expected size,
// since both are rewritten during normal operation (password changes,
// user additions). An oversized version of either is hashed like any other
// file rather than exempted, so stashing extra data under either name still
// changes the fingerprint.
func DummyIgnorePredicate() cryptoprim.IgnorePredicate {
	return func(root, rel string) (cryptoprim.PredicateAction, error) {
		var maxSize int64
		switch rel {
		case filepath.Join("resources", "internal-pass.enc"):
			maxSize = internalPassMaxSize
		case filepath.Join("resources", "blob0.json"):
			maxSize = blob0MaxSize
		default:
			return cryptoprim.Include, nil
		}
		fi, err := os.Stat(filepath.Join(root, rel))
		if err != nil {
			return cryptoprim.Include, nil
		}
		if fi.Size() < maxSize {
			return cryptoprim.Skip, nil
		}
		return cryptoprim.Include, nil
	}
}

// EFIIgnorePredicate builds the ignore predicate for the `EFI` partition:
// boot/grub/bootparams.cfg is exempted only when its content exactly
// matches one of its two neighbor files, bootparams0.cfg or
// bootparams1.cfg, both of which are hashed normally elsewhere in the same
// walk. Any other content for bootparams.cfg — including a neighbor that
// cannot be read — poisons the walk rather than silently skipping it: an
// attacker swapping in arbitrary boot parameters must never pass as a
// recognized variant.
func EFIIgnorePredicate() cryptoprim.IgnorePredicate {
	bootparams := filepath.Join("boot", "grub", "bootparams.cfg")
	neighbors := []string{
		filepath.Join("boot", "grub", "bootparams0.cfg"),
		filepath.Join("boot", "grub", "bootparams1.cfg"),
	}

	return func(root, rel string) (cryptoprim.PredicateAction, error) {
		if rel != bootparams {
			return cryptoprim.Include, nil
		}
		content, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			return cryptoprim.Poison, nil
		}
		for _, n := range neighbors {
			nc, err := os.ReadFile(filepath.Join(root, n))
			if err != nil {
				continue
			}
			if string(nc) == string(content) {
				return cryptoprim.Skip, nil
			}
		}
		return cryptoprim.Poison, nil
	}
}
