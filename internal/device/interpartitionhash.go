package device

import (
	"fmt"
	"os"
	"sort"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

// ComputeInterPartitionsHash hashes the unallocated byte ranges between
// partitions (and before the first / after the last), in ascending LBA
// order. These gap bytes carry no filesystem of their own, so they are not
// covered by any directory hash; folding them into the fingerprint still
// binds them, since a hidden payload stashed there would otherwise go
// completely unnoticed.
func (d *Device) ComputeInterPartitionsHash() ([]byte, error) {
	layout, err := d.GetPartitionsLayout()
	if err != nil {
		return nil, fmt.Errorf("compute inter-partitions hash: %w", err)
	}

	f, err := os.Open(d.DevFile)
	if err != nil {
		return nil, fmt.Errorf("compute inter-partitions hash: %w", err)
	}
	defer f.Close()

	hash, err := computeInterPartitionsHash(f, layout)
	if err != nil {
		return nil, fmt.Errorf("compute inter-partitions hash: %w", err)
	}
	return hash, nil
}

// computeInterPartitionsHash is the pure, testable core of
// ComputeInterPartitionsHash: given an already-opened device file and its
// parsed layout, it folds the gap bytes in ascending LBA order.
func computeInterPartitionsHash(f *os.File, layout PartitionsLayout) ([]byte, error) {
	parts := append([]PartitionLayout(nil), layout.Partitions...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].StartLBA < parts[j].StartLBA })

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	totalLBA := uint64(fi.Size()) / uint64(layout.SectorSize)

	hash := make([]byte, 32)
	cursor := uint64(0)
	for _, p := range parts {
		if p.StartLBA > cursor {
			gap, err := readGap(f, cursor, p.StartLBA, layout.SectorSize)
			if err != nil {
				return nil, err
			}
			hash = cryptoprim.ChainHash(hash, gap)
		}
		if p.EndLBA+1 > cursor {
			cursor = p.EndLBA + 1
		}
	}
	if totalLBA > cursor {
		gap, err := readGap(f, cursor, totalLBA, layout.SectorSize)
		if err != nil {
			return nil, err
		}
		hash = cryptoprim.ChainHash(hash, gap)
	}
	return hash, nil
}

func readGap(f *os.File, fromLBA, toLBA uint64, sectorSize int64) ([]byte, error) {
	length := (toLBA - fromLBA) * uint64(sectorSize)
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(fromLBA)*sectorSize); err != nil {
		return nil, err
	}
	return buf, nil
}
