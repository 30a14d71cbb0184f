package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/sealbox/sealbox/internal/runtool"
	"github.com/sealbox/sealbox/internal/sealerr"
)

type mountState struct {
	mountpoint string
	auto       bool
}

type mountTable struct {
	mu     sync.Mutex
	byRole map[Role]mountState
}

func newMountTable() mountTable {
	return mountTable{byRole: map[Role]mountState{}}
}

// DefaultMountOptions returns the mount options mandated for role, given the
// filesystem type found on it. A FAT/exFAT data partition needs uid/gid so a
// non-root session user can write to it; every other case gets the minimal
// hardening set.
func DefaultMountOptions(role Role, fsType string) []string {
	if role == RoleData && (fsType == "vfat" || fsType == "exfat") {
		return []string{"nodev", "x-gvfs-hide", "uid=1000", "gid=1000"}
	}
	return []string{"nodev", "x-gvfs-hide"}
}

// Mount mounts role's device node at mountpoint with the given options. If
// autoUmount is true the mount is tracked for Device.UmountAuto; callers that
// intentionally keep a partition mounted past the end of one operation (the
// `internal` role during unlock) pass false.
func (d *Device) Mount(ctx context.Context, role Role, mountpoint string, options []string, autoUmount bool) error {
	p, err := d.partition(role)
	if err != nil {
		return err
	}
	args := []string{}
	if len(options) > 0 {
		args = append(args, "-o", joinOptions(options))
	}
	args = append(args, p.DevNode, mountpoint)

	if _, err := d.runner.Run(ctx, "mount", args, runtool.Options{Sudo: true}); err != nil {
		return sealerr.New(sealerr.KindMountFailure, fmt.Errorf("mount %s: %w", role, err))
	}

	d.mounts.mu.Lock()
	d.mounts.byRole[role] = mountState{mountpoint: mountpoint, auto: autoUmount}
	d.mounts.mu.Unlock()
	return nil
}

// Umount unmounts role if currently tracked as mounted by this Device.
func (d *Device) Umount(ctx context.Context, role Role) error {
	d.mounts.mu.Lock()
	st, ok := d.mounts.byRole[role]
	d.mounts.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := d.runner.Run(ctx, "umount", []string{st.mountpoint}, runtool.Options{Sudo: true}); err != nil {
		return sealerr.New(sealerr.KindMountFailure, fmt.Errorf("umount %s: %w", role, err))
	}
	d.mounts.mu.Lock()
	delete(d.mounts.byRole, role)
	d.mounts.mu.Unlock()
	return nil
}

// UmountAuto unmounts every role that was mounted with autoUmount=true,
// collecting rather than stopping at the first error: this is the
// scoped-acquisition release path run on every exit from an operation.
func (d *Device) UmountAuto(ctx context.Context) []error {
	d.mounts.mu.Lock()
	roles := make([]Role, 0, len(d.mounts.byRole))
	for r, st := range d.mounts.byRole {
		if st.auto {
			roles = append(roles, r)
		}
	}
	d.mounts.mu.Unlock()

	var errs []error
	for _, r := range roles {
		if err := d.Umount(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Mountpoint reports where role is currently mounted, if at all.
func (d *Device) Mountpoint(role Role) (string, bool) {
	d.mounts.mu.Lock()
	defer d.mounts.mu.Unlock()
	st, ok := d.mounts.byRole[role]
	return st.mountpoint, ok
}

func joinOptions(opts []string) string {
	out := ""
	for i, o := range opts {
		if i > 0 {
			out += ","
		}
		out += o
	}
	return out
}
