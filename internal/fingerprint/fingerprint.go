package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/device"
)

// LogEntry is one step of the integrity log: a five-character prefix of the
// running chain value after that step, never the full value. The full
// fingerprint must never be logged; only these prefixes exist for
// diagnosing which step a locked device fails at.
type LogEntry struct {
	Step   string
	Prefix string
}

func logPrefix(h []byte) string {
	s := hex.EncodeToString(h)
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

// ComputeIntegrityFingerprint composes the device and content hashes in the
// fixed order that makes up the integrity fingerprint: inter-partition gap,
// blob1 private key material, raw partition table, dummy directory hash,
// EFI directory hash, then the precomputed live chunk hash. The order is
// authoritative; changing it changes every fingerprint ever computed.
// liveChunksHash is produced by cryptoprim.VerifyFilesChunks ahead of this
// call, since its own per-file log is kept separate from the integrity log
// built here.
//
// dummy and EFI must already be mounted on d.
func ComputeIntegrityFingerprint(d *device.Device, blob1Priv, liveChunksHash []byte) ([]byte, []LogEntry, error) {
	fp := make([]byte, 32)
	var log []LogEntry

	step := func(name string, next []byte) {
		fp = cryptoprim.ChainHash(fp, next)
		log = append(log, LogEntry{Step: name, Prefix: logPrefix(fp)})
	}

	gapHash, err := d.ComputeInterPartitionsHash()
	if err != nil {
		return nil, log, fmt.Errorf("integrity fingerprint: inter-partition gap: %w", err)
	}
	step("inter-partition-gap", gapHash)

	step("blob1-private-key", blob1Priv)

	layout, err := d.GetPartitionsLayout()
	if err != nil {
		return nil, log, fmt.Errorf("integrity fingerprint: layout: %w", err)
	}
	ptHash, err := cryptoprim.ComputePartitionsTableHash(d.DevFile, layout.LabelType)
	if err != nil {
		return nil, log, fmt.Errorf("integrity fingerprint: partition table: %w", err)
	}
	step("partition-table", ptHash)

	dummyMP, ok := d.Mountpoint(device.RoleDummy)
	if !ok {
		return nil, log, fmt.Errorf("integrity fingerprint: %s is not mounted", device.RoleDummy)
	}
	dummyHash, err := cryptoprim.ComputeDirectoryHash(dummyMP, DummyIgnorePredicate())
	if err != nil {
		return nil, log, fmt.Errorf("integrity fingerprint: dummy content: %w", err)
	}
	step("dummy-content", dummyHash)

	efiMP, ok := d.Mountpoint(device.RoleEFI)
	if !ok {
		return nil, log, fmt.Errorf("integrity fingerprint: %s is not mounted", device.RoleEFI)
	}
	efiHash, err := cryptoprim.ComputeDirectoryHash(efiMP, EFIIgnorePredicate())
	if err != nil {
		return nil, log, fmt.Errorf("integrity fingerprint: EFI content: %w", err)
	}
	step("efi-content", efiHash)

	step("live-chunks", liveChunksHash)

	return fp, log, nil
}
