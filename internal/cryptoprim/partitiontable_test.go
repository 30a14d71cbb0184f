package cryptoprim

import (
	"os"
	"path/filepath"
	"testing"
)

func makeDevFile(t *testing.T, size int, fill byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev.img")
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write dev file: %v", err)
	}
	return path
}

func TestComputePartitionsTableHashMBR(t *testing.T) {
	dev := makeDevFile(t, 4096, 0xAA)
	h1, err := ComputePartitionsTableHash(dev, LabelMBR)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Identical boot sector, different tail: the MBR hash must ignore
	// everything past LBA0.
	dev2 := makeDevFile(t, 4096, 0xAA)
	f, err := os.OpenFile(dev2, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte{0x99, 0x98, 0x97}, 1024); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	h2, err := ComputePartitionsTableHash(dev2, LabelMBR)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatal("identical boot sectors must hash identically regardless of data beyond LBA0")
	}
}

func TestComputePartitionsTableHashGPTRegionSize(t *testing.T) {
	dev := makeDevFile(t, 64*1024, 0x11)
	h1, err := ComputePartitionsTableHash(dev, LabelGPT)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Change a byte just past the 34-sector GPT region; hash must be
	// unaffected since only the primary table region is the trust anchor.
	f, err := os.OpenFile(dev, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte{0xFF}, 34*sectorSize+10); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	h2, err := ComputePartitionsTableHash(dev, LabelGPT)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(h1) != string(h2) {
		t.Fatal("bytes outside the primary GPT region must not affect the hash")
	}
}

func TestComputePartitionsTableHashDetectsTamper(t *testing.T) {
	dev := makeDevFile(t, 4096, 0x00)
	before, err := ComputePartitionsTableHash(dev, LabelMBR)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	f, err := os.OpenFile(dev, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteAt([]byte{0x01}, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	after, err := ComputePartitionsTableHash(dev, LabelMBR)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(before) == string(after) {
		t.Fatal("a change within the boot sector must change the hash")
	}
}
