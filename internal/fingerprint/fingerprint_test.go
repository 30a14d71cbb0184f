package fingerprint

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/device"
	"github.com/sealbox/sealbox/internal/runtool"
)

// buildMBRImage writes a minimal valid MBR disk image: one primary
// partition of type 0x83 starting at startLBA for sizeSectors sectors, the
// remaining three entries left zeroed.
func buildMBRImage(t *testing.T, totalSectors int, startLBA, sizeSectors uint32) string {
	t.Helper()
	const sectorSize = 512
	buf := make([]byte, totalSectors*sectorSize)

	entry := buf[446:462]
	entry[0] = 0x00 // status
	entry[1], entry[2], entry[3] = 0, 0, 0
	entry[4] = 0x83 // type: Linux
	entry[5], entry[6], entry[7] = 0, 0, 0
	binary.LittleEndian.PutUint32(entry[8:12], startLBA)
	binary.LittleEndian.PutUint32(entry[12:16], sizeSectors)

	buf[510] = 0x55
	buf[511] = 0xAA

	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write disk image: %v", err)
	}
	return path
}

func newTestDeviceForFingerprint(t *testing.T) (*device.Device, string, string) {
	t.Helper()
	devFile := buildMBRImage(t, 4096, 64, 32)

	fake := runtool.NewFake()
	fake.OnOK("mount", "")
	d, err := device.New(devFile, map[device.Role]device.Partition{
		device.RoleDummy:    {Role: device.RoleDummy, DevNode: devFile},
		device.RoleEFI:      {Role: device.RoleEFI, DevNode: devFile},
		device.RoleLive:     {Role: device.RoleLive, DevNode: devFile},
		device.RoleInternal: {Role: device.RoleInternal, DevNode: devFile},
		device.RoleData:     {Role: device.RoleData, DevNode: devFile},
	}, device.WithRunner(fake))
	if err != nil {
		t.Fatalf("new device: %v", err)
	}

	dummyMP, efiMP := t.TempDir(), t.TempDir()
	for _, m := range []struct {
		role device.Role
		path string
	}{
		{device.RoleDummy, dummyMP},
		{device.RoleEFI, efiMP},
	} {
		if err := d.Mount(context.Background(), m.role, m.path, nil, true); err != nil {
			t.Fatalf("mount %s: %v", m.role, err)
		}
	}
	return d, dummyMP, efiMP
}

// liveChunksHashFixture stands in for the hash cryptoprim.VerifyFilesChunks
// produces ahead of a ComputeIntegrityFingerprint call: the live partition
// itself plays no part in fingerprint composition, only this precomputed
// value does.
func liveChunksHashFixture(t *testing.T, content []byte) []byte {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "live.squashfs"), content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	chunks := []cryptoprim.Chunk{{File: "live.squashfs", Offset: 0, Length: int64(len(content))}}
	hash, _, err := cryptoprim.VerifyFilesChunks(root, chunks)
	if err != nil {
		t.Fatalf("verify files chunks: %v", err)
	}
	return hash
}

func TestComputeIntegrityFingerprintChangesOnDummyTamper(t *testing.T) {
	d, dummyMP, _ := newTestDeviceForFingerprint(t)
	liveChunksHash := liveChunksHashFixture(t, []byte("kernel-and-rootfs"))
	blob1 := []byte("blob1-private-key-material")

	if err := os.WriteFile(filepath.Join(dummyMP, "resources.txt"), []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	before, _, err := ComputeIntegrityFingerprint(d, blob1, liveChunksHash)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dummyMP, "resources.txt"), []byte("v2-tampered"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	after, _, err := ComputeIntegrityFingerprint(d, blob1, liveChunksHash)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	if string(before) == string(after) {
		t.Fatal("tampering with dummy content must change the fingerprint")
	}
}

func TestComputeIntegrityFingerprintChangesOnLiveChunksHash(t *testing.T) {
	d, _, _ := newTestDeviceForFingerprint(t)
	blob1 := []byte("blob1-private-key-material")

	hashA := liveChunksHashFixture(t, []byte("kernel-v1"))
	hashB := liveChunksHashFixture(t, []byte("kernel-v2-tampered"))

	fpA, _, err := ComputeIntegrityFingerprint(d, blob1, hashA)
	if err != nil {
		t.Fatalf("fingerprint A: %v", err)
	}
	fpB, _, err := ComputeIntegrityFingerprint(d, blob1, hashB)
	if err != nil {
		t.Fatalf("fingerprint B: %v", err)
	}
	if string(fpA) == string(fpB) {
		t.Fatal("a different precomputed live chunks hash must change the fingerprint")
	}
}

func TestComputeIntegrityFingerprintRequiresMountedRoles(t *testing.T) {
	fake := runtool.NewFake()
	devFile := buildMBRImage(t, 4096, 64, 32)
	d, err := device.New(devFile, map[device.Role]device.Partition{
		device.RoleDummy:    {Role: device.RoleDummy, DevNode: devFile},
		device.RoleEFI:      {Role: device.RoleEFI, DevNode: devFile},
		device.RoleLive:     {Role: device.RoleLive, DevNode: devFile},
		device.RoleInternal: {Role: device.RoleInternal, DevNode: devFile},
		device.RoleData:     {Role: device.RoleData, DevNode: devFile},
	}, device.WithRunner(fake))
	if err != nil {
		t.Fatalf("new device: %v", err)
	}

	// Neither dummy nor EFI is mounted; live need not be, since the caller
	// verifies its chunks separately and passes the hash in.
	_, _, err = ComputeIntegrityFingerprint(d, []byte("k"), []byte("precomputed"))
	if err == nil {
		t.Fatal("expected fingerprint computation to fail when no role is mounted")
	}
}
