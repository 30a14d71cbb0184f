package device

import (
	"fmt"
	"unicode"

	"github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/sealbox/sealbox/internal/cryptoprim"
)

// PartitionLayout describes one partition's extent on disk, in logical
// block addresses.
type PartitionLayout struct {
	Role      Role
	StartLBA  uint64
	EndLBA    uint64
	SizeBytes uint64
}

// PartitionsLayout is the full on-disk table, as actually read from the
// device rather than from the Device's own bookkeeping.
type PartitionsLayout struct {
	LabelType  cryptoprim.LabelType
	SectorSize int64
	Partitions []PartitionLayout
}

// GetPartitionsLayout opens DevFile and reads its partition table, used by
// the fingerprinter to both hash the raw table bytes and locate the
// inter-partition gaps.
func (d *Device) GetPartitionsLayout() (PartitionsLayout, error) {
	disk, err := diskfs.Open(d.DevFile)
	if err != nil {
		return PartitionsLayout{}, fmt.Errorf("get partitions layout: open %s: %w", d.DevFile, err)
	}
	defer disk.Close()

	table, err := disk.GetPartitionTable()
	if err != nil {
		return PartitionsLayout{}, fmt.Errorf("get partitions layout: %w", err)
	}

	layout := PartitionsLayout{SectorSize: disk.LogicalBlocksize}

	switch t := table.(type) {
	case *gpt.Table:
		layout.LabelType = cryptoprim.LabelGPT
		for i, p := range t.Partitions {
			if p.Start == 0 && p.End == 0 {
				continue
			}
			role, err := roleForIndex(Roles, i)
			if err != nil {
				return PartitionsLayout{}, err
			}
			layout.Partitions = append(layout.Partitions, PartitionLayout{
				Role:      role,
				StartLBA:  p.Start,
				EndLBA:    p.End,
				SizeBytes: (p.End - p.Start + 1) * uint64(disk.LogicalBlocksize),
			})
		}
	case *mbr.Table:
		layout.LabelType = cryptoprim.LabelMBR
		for i, p := range t.Partitions {
			if p.Size == 0 {
				continue
			}
			role, err := roleForIndex(Roles, i)
			if err != nil {
				return PartitionsLayout{}, err
			}
			start := uint64(p.Start)
			size := uint64(p.Size)
			layout.Partitions = append(layout.Partitions, PartitionLayout{
				Role:      role,
				StartLBA:  start,
				EndLBA:    start + size - 1,
				SizeBytes: size * uint64(disk.LogicalBlocksize),
			})
		}
	default:
		return PartitionsLayout{}, fmt.Errorf("get partitions layout: unsupported table type %T", t)
	}
	return layout, nil
}

func roleForIndex(roles []Role, i int) (Role, error) {
	if i < 0 || i >= len(roles) {
		return "", fmt.Errorf("get partitions layout: partition index %d has no declared role", i)
	}
	return roles[i], nil
}

// partitionNode derives the kernel device node for the n'th (1-based)
// partition of devfile, matching the convention used by udev and fdisk:
// a "p" infix when devfile ends in a digit (nvme0n1 -> nvme0n1p1), the
// partition number appended directly otherwise (sdb -> sdb1).
func partitionNode(devfile string, n int) string {
	sep := ""
	if len(devfile) > 0 && unicode.IsDigit(rune(devfile[len(devfile)-1])) {
		sep = "p"
	}
	return fmt.Sprintf("%s%s%d", devfile, sep, n)
}

// PartitionsFromDevfile derives the fixed five-role partition map for
// devfile using the standard kernel numbering (dummy=1, EFI=2, live=3,
// internal=4, data=5), for callers that have not yet read the on-disk
// table back with GetPartitionsLayout.
func PartitionsFromDevfile(devfile string) map[Role]Partition {
	partitions := make(map[Role]Partition, len(Roles))
	for i, role := range Roles {
		partitions[role] = Partition{
			Role:      role,
			DevNode:   partitionNode(devfile, i+1),
			Encrypted: role == RoleInternal || role == RoleData,
		}
	}
	return partitions
}
