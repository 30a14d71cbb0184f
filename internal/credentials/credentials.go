package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/muesli/crunchy"

	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/sealerr"
)

var (
	strengthValidator = crunchy.NewValidator()
	log               = logging.Logger()
)

// CheckPasswordStrength runs password through the strength validator,
// returning its verdict without blocking anything: callers that want to
// reject a weak password outright (an interactive CLI prompt, say) check
// this themselves before calling DeclareUser. DeclareUser only logs a
// warning, since a device provisioned once with a given password must
// always be able to re-provision with that same password later — silently
// hard-failing here would make ChangePassword/ResetPassword's own output
// occasionally un-reusable depending on an external word list.
func CheckPasswordStrength(password string) error {
	return strengthValidator.Check(password)
}

// decryptSlot tries, in priority order, every key derivation a slot's
// EncBlob could have been sealed under: a real per-slot salt always takes
// priority; a pre-salt legacy slot (Salt == "") falls back first to
// hardened-with-sentinel-salt (Harden using the fixed LegacySaltSentinel,
// for devices that predate per-slot salts but not hardening itself), then
// to the plain, un-hardened password used directly as AEAD key material
// (for devices that predate hardening entirely). New slots are always
// written with a fresh per-slot salt (see DeclareUser) so only reads ever
// take these fallback paths.
func decryptSlot(slot Slot, password string) ([]byte, bool) {
	if slot.Salt != "" {
		hardened := cryptoprim.Harden(password, slot.Salt)
		if blob0, err := cryptoprim.PasswordDecrypt(hardened, slot.EncBlob); err == nil {
			return blob0, true
		}
		return nil, false
	}

	if blob0, err := cryptoprim.PasswordDecrypt(cryptoprim.Harden(password, cryptoprim.LegacySaltSentinel), slot.EncBlob); err == nil {
		return blob0, true
	}
	if blob0, err := cryptoprim.PasswordDecrypt(password, slot.EncBlob); err == nil {
		return blob0, true
	}
	return nil, false
}

// DeclareUser creates or re-keys a password slot for cn. If a mode=password
// slot with the same cn already exists, it is overwritten in place — its
// uuid and cn survive, only the salt and encrypted payload change — under a
// freshly generated salt. Otherwise a new slot is appended under a fresh
// uuid. A weak password only logs a warning here (see CheckPasswordStrength);
// ResetPassword skips the check entirely, mirroring the original system's
// ignore_password_strength escape hatch for an administrator who already
// holds blob0.
func DeclareUser(dummyMountpoint, cn, password string, blob0 []byte) error {
	return declareUser(dummyMountpoint, cn, password, blob0, true)
}

func declareUser(dummyMountpoint, cn, password string, blob0 []byte, checkStrength bool) error {
	if checkStrength {
		if err := CheckPasswordStrength(password); err != nil {
			log.Warnf("credentials: declare user %q: weak password: %v", cn, err)
		}
	}

	store, err := loadStore(dummyMountpoint)
	if err != nil {
		return err
	}

	salt, err := cryptoprim.GenerateSalt()
	if err != nil {
		return fmt.Errorf("credentials: declare user: %w", err)
	}
	hardened := cryptoprim.Harden(password, salt)
	encBlob, err := cryptoprim.PasswordEncrypt(hardened, blob0)
	if err != nil {
		return fmt.Errorf("credentials: declare user: %w", err)
	}
	newSlot := Slot{Mode: "password", Salt: salt, EncBlob: encBlob, CN: cn}

	for id, slot := range store {
		if slot.Mode == "password" && slot.CN == cn {
			store[id] = newSlot
			return saveStore(dummyMountpoint, store)
		}
	}

	store[uuid.NewString()] = newSlot
	return saveStore(dummyMountpoint, store)
}

// ResetPassword is declare_user invoked by an administrator who already
// holds the plaintext blob0 payload (no current-password check, no
// password-strength check — the administrator is presumed to have their
// own policy for the password they hand out).
func ResetPassword(dummyMountpoint, cn, newPassword string, blob0 []byte) error {
	return declareUser(dummyMountpoint, cn, newPassword, blob0, false)
}

// ListUsers returns every declared cn, sorted.
func ListUsers(dummyMountpoint string) ([]string, error) {
	store, err := loadStore(dummyMountpoint)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var cns []string
	for _, slot := range store {
		if !seen[slot.CN] {
			seen[slot.CN] = true
			cns = append(cns, slot.CN)
		}
	}
	sort.Strings(cns)
	return cns, nil
}

// DeleteUser removes every slot whose cn matches. It refuses to empty the
// store: at least one user slot must always remain. internalUserConfigRoot,
// if non-empty, is the internal partition's mountpoint: each deleted slot's
// per-user config directory, user-config/<uuid> under it, is
// opportunistically removed; a failure to remove it is not an error, since
// that directory is a collaborator's concern.
func DeleteUser(dummyMountpoint, cn, internalUserConfigRoot string) error {
	store, err := loadStore(dummyMountpoint)
	if err != nil {
		return err
	}

	var removed []string
	remaining := Store{}
	for id, slot := range store {
		if slot.CN == cn {
			removed = append(removed, id)
			continue
		}
		remaining[id] = slot
	}
	if len(removed) == 0 {
		return fmt.Errorf("credentials: delete user: no slot found for %q", cn)
	}
	if len(remaining) == 0 {
		return fmt.Errorf("credentials: delete user: refusing to remove the last user slot")
	}

	if err := saveStore(dummyMountpoint, remaining); err != nil {
		return err
	}
	if internalUserConfigRoot != "" {
		for _, id := range removed {
			_ = os.RemoveAll(filepath.Join(internalUserConfigRoot, "user-config", id))
		}
	}
	return nil
}

// ChangePassword finds the one mode=password slot that decrypts under
// current, then re-declares it under new, preserving uuid, cn and the
// blob0 payload. No slot decrypting under current is an invalid-credential
// failure.
func ChangePassword(dummyMountpoint, current, newPassword string) error {
	store, err := loadStore(dummyMountpoint)
	if err != nil {
		return err
	}
	for _, slot := range store {
		if slot.Mode != "password" {
			continue
		}
		blob0, ok := decryptSlot(slot, current)
		if !ok {
			continue
		}
		return DeclareUser(dummyMountpoint, slot.CN, newPassword, blob0)
	}
	return sealerr.New(sealerr.KindInvalidCredential, fmt.Errorf("credentials: change password: no slot decrypts under the current password"))
}

// Authenticate tries every mode=password slot against password, in
// unspecified order, returning the first slot that decrypts. This is the
// Authenticating -> IntegrityChecking step of the unlock state machine.
func Authenticate(dummyMountpoint, password string) (userUUID, cn string, blob0 []byte, err error) {
	store, err := loadStore(dummyMountpoint)
	if err != nil {
		return "", "", nil, err
	}
	for id, slot := range store {
		if slot.Mode != "password" {
			continue
		}
		blob, ok := decryptSlot(slot, password)
		if ok {
			return id, slot.CN, blob, nil
		}
	}
	return "", "", nil, sealerr.New(sealerr.KindInvalidCredential, fmt.Errorf("credentials: authenticate: no slot decrypts under the supplied password"))
}
