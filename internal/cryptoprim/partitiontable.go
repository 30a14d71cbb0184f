package cryptoprim

import (
	"fmt"
	"os"
)

// LabelType identifies a partition table format.
type LabelType string

const (
	LabelMBR LabelType = "mbr"
	LabelGPT LabelType = "gpt"
)

const sectorSize = 512

// ComputePartitionsTableHash hashes the raw on-disk bytes of a device's
// partition table, not its parsed semantics: the table region itself is
// the trust anchor, so two devices with byte-identical tables hash
// identically regardless of how a parser would interpret them.
//
// For an MBR disk this is the single boot sector (LBA0). For a GPT disk
// this is the protective MBR, the primary GPT header and the primary
// partition entry array (LBA0 through LBA33 for the standard 128-entry,
// 512-byte-sector layout); the backup header and entry array at the end of
// the disk are deliberately excluded, since their offset depends on total
// disk size and so is not a stable property of the table alone.
func ComputePartitionsTableHash(devfile string, label LabelType) ([]byte, error) {
	f, err := os.Open(devfile)
	if err != nil {
		return nil, fmt.Errorf("compute partition table hash: %w", err)
	}
	defer f.Close()

	var region int64
	switch label {
	case LabelMBR:
		region = sectorSize
	case LabelGPT:
		region = 34 * sectorSize
	default:
		return nil, fmt.Errorf("compute partition table hash: unknown label type %q", label)
	}

	buf := make([]byte, region)
	if _, err := readFull(f, buf); err != nil {
		return nil, fmt.Errorf("compute partition table hash: %w", err)
	}
	return Hash(buf), nil
}

func readFull(f *os.File, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
