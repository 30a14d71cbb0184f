package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/sealerr"
)

func TestDeclareUserThenAuthenticate(t *testing.T) {
	mp := t.TempDir()
	blob0 := []byte("opaque-blob0-payload")

	if err := DeclareUser(mp, "Alice", "P@ssw0rd-1", blob0); err != nil {
		t.Fatalf("declare user: %v", err)
	}

	uuid, cn, got, err := Authenticate(mp, "P@ssw0rd-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if cn != "Alice" || string(got) != string(blob0) || uuid == "" {
		t.Fatalf("authenticate returned uuid=%q cn=%q blob0=%q", uuid, cn, got)
	}
}

func TestAuthenticateWrongPasswordFails(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "P@ssw0rd-1", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	if _, _, _, err := Authenticate(mp, "wrong"); !sealerr.Is(err, sealerr.KindInvalidCredential) {
		t.Fatalf("expected invalid-credential, got %v", err)
	}
}

func TestDeclareUserSamecnPreservesUUID(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "first-password", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	firstUUID, _, _, err := Authenticate(mp, "first-password")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := DeclareUser(mp, "Alice", "second-password", []byte("blob0")); err != nil {
		t.Fatalf("re-declare user: %v", err)
	}
	secondUUID, cn, _, err := Authenticate(mp, "second-password")
	if err != nil {
		t.Fatalf("authenticate after re-declare: %v", err)
	}
	if secondUUID != firstUUID {
		t.Fatalf("uuid changed across re-declare: %q -> %q", firstUUID, secondUUID)
	}
	if cn != "Alice" {
		t.Fatalf("cn = %q, want Alice", cn)
	}

	if _, _, _, err := Authenticate(mp, "first-password"); err == nil {
		t.Fatal("old password must no longer authenticate after re-declare")
	}
}

func TestListUsersSorted(t *testing.T) {
	mp := t.TempDir()
	for _, cn := range []string{"Zed", "Alice", "Mallory"} {
		if err := DeclareUser(mp, cn, cn+"-password", []byte("blob0")); err != nil {
			t.Fatalf("declare %s: %v", cn, err)
		}
	}
	got, err := ListUsers(mp)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	want := []string{"Alice", "Mallory", "Zed"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDeleteUserRejectsEmptyingStore(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "password", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	if err := DeleteUser(mp, "Alice", ""); err == nil {
		t.Fatal("expected delete of the last user slot to be rejected")
	}
}

func TestDeleteUserRemovesUserConfig(t *testing.T) {
	mp := t.TempDir()
	internalMP := t.TempDir()
	if err := DeclareUser(mp, "Alice", "pw1", []byte("blob0")); err != nil {
		t.Fatalf("declare alice: %v", err)
	}
	if err := DeclareUser(mp, "Bob", "pw2", []byte("blob0")); err != nil {
		t.Fatalf("declare bob: %v", err)
	}
	aliceUUID, _, _, err := Authenticate(mp, "pw1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	userConfigDir := filepath.Join(internalMP, "user-config", aliceUUID)
	if err := os.MkdirAll(userConfigDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := DeleteUser(mp, "Alice", internalMP); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := os.Stat(userConfigDir); !os.IsNotExist(err) {
		t.Fatalf("expected user-config dir removed, stat err = %v", err)
	}
	users, err := ListUsers(mp)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0] != "Bob" {
		t.Fatalf("remaining users = %v, want [Bob]", users)
	}
}

func TestChangePassword(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "old-password", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	if err := ChangePassword(mp, "old-password", "new-password"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, _, _, err := Authenticate(mp, "old-password"); err == nil {
		t.Fatal("old password must stop working after change")
	}
	uuid, cn, blob0, err := Authenticate(mp, "new-password")
	if err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if cn != "Alice" || string(blob0) != "blob0" || uuid == "" {
		t.Fatalf("unexpected slot after change: uuid=%q cn=%q blob0=%q", uuid, cn, blob0)
	}
}

func TestChangePasswordWrongCurrentFails(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "old-password", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	err := ChangePassword(mp, "not-the-current-password", "new-password")
	if !sealerr.Is(err, sealerr.KindInvalidCredential) {
		t.Fatalf("expected invalid-credential, got %v", err)
	}
}

func TestResetPasswordByAdmin(t *testing.T) {
	mp := t.TempDir()
	if err := DeclareUser(mp, "Alice", "old-password", []byte("blob0")); err != nil {
		t.Fatalf("declare user: %v", err)
	}
	if err := ResetPassword(mp, "Alice", "admin-reset-password", []byte("blob0")); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if _, _, _, err := Authenticate(mp, "admin-reset-password"); err != nil {
		t.Fatalf("authenticate with reset password: %v", err)
	}
}

func TestLegacySlotWithoutSaltStillDecrypts(t *testing.T) {
	mp := t.TempDir()
	// Simulate a pre-salt legacy slot written directly to the store,
	// bypassing DeclareUser's always-salted write path.
	hardened := cryptoprim.Harden("legacy-password", cryptoprim.LegacySaltSentinel)
	encBlob, err := cryptoprim.PasswordEncrypt(hardened, []byte("legacy-blob0"))
	if err != nil {
		t.Fatalf("encrypt legacy blob: %v", err)
	}
	store := Store{"legacy-uuid": {Mode: "password", EncBlob: encBlob, CN: "Legacy"}}
	if err := saveStore(mp, store); err != nil {
		t.Fatalf("save legacy store: %v", err)
	}

	uuid, cn, blob0, err := Authenticate(mp, "legacy-password")
	if err != nil {
		t.Fatalf("authenticate against legacy slot: %v", err)
	}
	if uuid != "legacy-uuid" || cn != "Legacy" || string(blob0) != "legacy-blob0" {
		t.Fatalf("unexpected legacy slot result: uuid=%q cn=%q blob0=%q", uuid, cn, blob0)
	}
}

func TestLegacyPlainSlotWithoutSaltStillDecrypts(t *testing.T) {
	mp := t.TempDir()
	// Simulate a slot from before hardening existed at all: the password is
	// used directly as AEAD key material, with no Harden step.
	encBlob, err := cryptoprim.PasswordEncrypt("plain-password", []byte("plain-blob0"))
	if err != nil {
		t.Fatalf("encrypt plain legacy blob: %v", err)
	}
	store := Store{"plain-uuid": {Mode: "password", EncBlob: encBlob, CN: "PlainLegacy"}}
	if err := saveStore(mp, store); err != nil {
		t.Fatalf("save legacy store: %v", err)
	}

	uuid, cn, blob0, err := Authenticate(mp, "plain-password")
	if err != nil {
		t.Fatalf("authenticate against plain legacy slot: %v", err)
	}
	if uuid != "plain-uuid" || cn != "PlainLegacy" || string(blob0) != "plain-blob0" {
		t.Fatalf("unexpected plain legacy slot result: uuid=%q cn=%q blob0=%q", uuid, cn, blob0)
	}
}
