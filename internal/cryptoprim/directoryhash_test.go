package cryptoprim

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func TestComputeDirectoryHashStable(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a.txt":        "aaa",
		"sub/b.txt":    "bbb",
		"sub/c/d.conf": "ddd",
	})

	h1, err := ComputeDirectoryHash(root, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := ComputeDirectoryHash(root, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatal("hash must be stable across repeated runs over unchanged content")
	}
}

func TestComputeDirectoryHashDetectsTamper(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "aaa"})
	before, err := ComputeDirectoryHash(root, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("zzz"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	after, err := ComputeDirectoryHash(root, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(before) == string(after) {
		t.Fatal("content change must change the hash")
	}
}

func TestComputeDirectoryHashSkipIgnoresPath(t *testing.T) {
	root := writeTree(t, map[string]string{"a.txt": "aaa", "b.txt": "bbb"})
	withBoth, err := ComputeDirectoryHash(root, nil)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	skipB := func(root, rel string) (PredicateAction, error) {
		if rel == "b.txt" {
			return Skip, nil
		}
		return Include, nil
	}
	withoutB, err := ComputeDirectoryHash(root, skipB)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(withBoth) == string(withoutB) {
		t.Fatal("skipping a file must change the hash")
	}

	if err := os.WriteFile(filepath.Join(root, "b.txt"), []byte("anything else entirely"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	stillWithoutB, err := ComputeDirectoryHash(root, skipB)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(withoutB) != string(stillWithoutB) {
		t.Fatal("a skipped file's content must never affect the hash")
	}
}

func TestComputeDirectoryHashPoisonNeverMatches(t *testing.T) {
	root := writeTree(t, map[string]string{"bootparams.cfg": "anything"})
	poisonBootparams := func(root, rel string) (PredicateAction, error) {
		if rel == "bootparams.cfg" {
			return Poison, nil
		}
		return Include, nil
	}

	h1, err := ComputeDirectoryHash(root, poisonBootparams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := ComputeDirectoryHash(root, poisonBootparams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) == string(h2) {
		t.Fatal("a poisoned path must never fold the same value twice, by design")
	}
}
