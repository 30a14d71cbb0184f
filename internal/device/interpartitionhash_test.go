package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

func makeRawDevFile(t *testing.T, sectors int, sectorSize int64) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raw.img")
	if err := os.WriteFile(path, make([]byte, int64(sectors)*sectorSize), 0o644); err != nil {
		t.Fatalf("write raw dev file: %v", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestComputeInterPartitionsHashIgnoresPartitionContent(t *testing.T) {
	f := makeRawDevFile(t, 100, 512)
	layout := PartitionsLayout{
		LabelType:  cryptoprim.LabelGPT,
		SectorSize: 512,
		Partitions: []PartitionLayout{
			{Role: RoleDummy, StartLBA: 10, EndLBA: 19},
			{Role: RoleEFI, StartLBA: 30, EndLBA: 39},
		},
	}

	before, err := computeInterPartitionsHash(f, layout)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Writing inside a declared partition's range must not affect the gap
	// hash: that content is covered by the directory hash, not this one.
	if _, err := f.WriteAt([]byte{0xFF, 0xFF, 0xFF}, 10*512); err != nil {
		t.Fatalf("write: %v", err)
	}
	after, err := computeInterPartitionsHash(f, layout)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("partition content must not affect the inter-partition gap hash")
	}
}

func TestComputeInterPartitionsHashDetectsGapTamper(t *testing.T) {
	f := makeRawDevFile(t, 100, 512)
	layout := PartitionsLayout{
		LabelType:  cryptoprim.LabelGPT,
		SectorSize: 512,
		Partitions: []PartitionLayout{
			{Role: RoleDummy, StartLBA: 10, EndLBA: 19},
			{Role: RoleEFI, StartLBA: 30, EndLBA: 39},
		},
	}

	before, err := computeInterPartitionsHash(f, layout)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Byte 25 falls in the gap between dummy and EFI.
	if _, err := f.WriteAt([]byte{0xAB}, 25*512); err != nil {
		t.Fatalf("write: %v", err)
	}
	after, err := computeInterPartitionsHash(f, layout)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if string(before) == string(after) {
		t.Fatal("content hidden in an inter-partition gap must change the hash")
	}
}
