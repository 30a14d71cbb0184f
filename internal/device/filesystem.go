package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/sealbox/sealbox/internal/runtool"
)

// GetPartitionFilesystem probes the filesystem type of role's current
// device node (blkid's TYPE value, e.g. "ext4", "vfat", "exfat", "squashfs").
func (d *Device) GetPartitionFilesystem(ctx context.Context, role Role) (string, error) {
	p, err := d.partition(role)
	if err != nil {
		return "", err
	}
	res, err := d.runner.Run(ctx, "blkid", []string{"-s", "TYPE", "-o", "value", p.DevNode}, runtool.Options{Sudo: true})
	if err != nil {
		return "", fmt.Errorf("get partition filesystem: %s: %w", role, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// FormatFilesystem creates a fresh fsType filesystem on role's current
// device node via the matching mkfs.<fsType> tool, used during
// provisioning to lay down dummy/EFI/live's non-encrypted filesystems
// before the built image is deployed onto them.
func (d *Device) FormatFilesystem(ctx context.Context, role Role, fsType string) error {
	p, err := d.partition(role)
	if err != nil {
		return err
	}
	if _, err := d.runner.Run(ctx, "mkfs."+fsType, []string{p.DevNode}, runtool.Options{Sudo: true}); err != nil {
		return fmt.Errorf("format filesystem: %s (%s): %w", role, fsType, err)
	}
	return nil
}
