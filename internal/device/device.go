// Package device abstracts the block device carrying the five fixed
// partition roles (dummy, EFI, live, internal, data): mounting, LUKS-style
// partition secrets, raw layout inspection and signed-metadata
// verification. All shell-outs go through runtool so tests substitute a
// fake runner instead of touching real block devices.
package device

import (
	"fmt"

	"github.com/sealbox/sealbox/internal/runtool"
)

// Role is one of the five stable partition role-IDs. The set is closed and
// the declaration order below is authoritative wherever ordering matters
// (inter-partition gap hashing, mount sequencing).
type Role string

const (
	RoleDummy    Role = "dummy"
	RoleEFI      Role = "EFI"
	RoleLive     Role = "live"
	RoleInternal Role = "internal"
	RoleData     Role = "data"
)

// Roles lists every role in the device's fixed partition order.
var Roles = []Role{RoleDummy, RoleEFI, RoleLive, RoleInternal, RoleData}

// Partition describes one physical partition backing a Role.
type Partition struct {
	Role      Role
	DevNode   string // e.g. /dev/sdb2, or a LUKS mapper name once opened
	Encrypted bool
}

// Device is a handle on a single provisioned block device.
type Device struct {
	DevFile    string // whole-disk device node, e.g. /dev/sdb
	Partitions map[Role]Partition
	runner     runtool.Runner

	mounts mountTable
}

// Option configures a Device at construction.
type Option func(*Device)

// WithRunner overrides the runtool.Runner used for all shell-outs; tests use
// this to inject a runtool.Fake.
func WithRunner(r runtool.Runner) Option {
	return func(d *Device) { d.runner = r }
}

// New builds a Device over devfile with the given partition table.
func New(devfile string, partitions map[Role]Partition, opts ...Option) (*Device, error) {
	for _, r := range Roles {
		if _, ok := partitions[r]; !ok {
			return nil, fmt.Errorf("device: missing partition for role %q", r)
		}
	}
	d := &Device{
		DevFile:    devfile,
		Partitions: partitions,
		runner:     runtool.Default,
		mounts:     newMountTable(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Device) partition(role Role) (Partition, error) {
	p, ok := d.Partitions[role]
	if !ok {
		return Partition{}, fmt.Errorf("device: unknown role %q", role)
	}
	return p, nil
}
