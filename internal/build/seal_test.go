package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

func TestSealArtifactsSealsNonEmptyPrivData(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	privDir := tr.PrivDataDir("sample")
	if err := os.MkdirAll(privDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(privDir, "secret.txt"), []byte("shh"), 0o600); err != nil {
		t.Fatal(err)
	}

	pub, priv, err := cryptoprim.GenerateKeyPair("device", "device@example.test")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	pubFile := filepath.Join(root, "device.pub")
	if err := os.WriteFile(pubFile, pub, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := SealArtifacts(tr, pubFile); err != nil {
		t.Fatalf("SealArtifacts: %v", err)
	}

	sealedPath := filepath.Join(tr.FS, "privdata.tar.enc")
	sealed, err := os.ReadFile(sealedPath)
	if err != nil {
		t.Fatalf("expected sealed privdata at %s: %v", sealedPath, err)
	}
	if len(sealed) == 0 {
		t.Fatal("sealed privdata archive is empty")
	}

	if _, err := os.Stat(privDir); !os.IsNotExist(err) {
		t.Errorf("expected staged privdata dir removed, stat err=%v", err)
	}

	plainCompressed, err := cryptoprim.AsymDecrypt(priv, sealed)
	if err != nil {
		t.Fatalf("AsymDecrypt: %v", err)
	}
	if len(plainCompressed) == 0 {
		t.Fatal("decrypted payload is empty")
	}
}

func TestSealArtifactsFailsWithoutPublicKeyWhenPrivDataPresent(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	privDir := tr.PrivDataDir("sample")
	if err := os.MkdirAll(privDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(privDir, "secret.txt"), []byte("shh"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SealArtifacts(tr, ""); err == nil {
		t.Fatal("expected error when privdata is staged but no device public key is configured")
	}
}

func TestSealArtifactsNoopWhenNoPrivData(t *testing.T) {
	root := t.TempDir()
	tr, err := NewTree(root)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if err := SealArtifacts(tr, ""); err != nil {
		t.Fatalf("expected no error with no staged privdata, got %v", err)
	}
}
