package device

import (
	"context"
	"fmt"

	"github.com/sealbox/sealbox/internal/runtool"
	"github.com/sealbox/sealbox/internal/sealerr"
)

// SecretKind distinguishes a first-time LUKS format from opening an already
// formatted partition.
type SecretKind string

const (
	SecretFormat SecretKind = "format"
	SecretOpen   SecretKind = "open"
)

// mapperName is the /dev/mapper name a role is opened under.
func mapperName(role Role) string {
	return fmt.Sprintf("sealbox-%s", role)
}

// SetPartitionSecret formats or opens role's device node as a LUKS
// container under secret, piping it through cryptsetup's stdin so the
// secret never appears as a process argument. On SecretOpen success, role's
// DevNode is swapped to the opened mapper path so a subsequent Mount
// targets the cleartext mapping rather than the raw ciphertext block
// device.
func (d *Device) SetPartitionSecret(ctx context.Context, role Role, kind SecretKind, secret []byte) error {
	p, err := d.partition(role)
	if err != nil {
		return err
	}

	switch kind {
	case SecretFormat:
		args := []string{"luksFormat", "--batch-mode", "--key-file=-", p.DevNode}
		if _, err := d.runner.Run(ctx, "cryptsetup", args, runtool.Options{Sudo: true, Stdin: secret}); err != nil {
			return sealerr.New(sealerr.KindFSOp, fmt.Errorf("luksFormat %s: %w", role, err))
		}
	case SecretOpen:
		name := mapperName(role)
		args := []string{"open", p.DevNode, name, "--key-file=-"}
		if _, err := d.runner.Run(ctx, "cryptsetup", args, runtool.Options{Sudo: true, Stdin: secret}); err != nil {
			return sealerr.Integrity(fmt.Errorf("luksOpen %s: %w", role, err))
		}
		p.DevNode = "/dev/mapper/" + name
		d.Partitions[role] = p
	default:
		return fmt.Errorf("device: unknown secret kind %q", kind)
	}
	return nil
}

// CloseSecret closes a previously opened LUKS mapping for role, if any.
func (d *Device) CloseSecret(ctx context.Context, role Role) error {
	name := mapperName(role)
	if _, err := d.runner.Run(ctx, "cryptsetup", []string{"close", name}, runtool.Options{Sudo: true}); err != nil {
		return sealerr.New(sealerr.KindFSOp, fmt.Errorf("luksClose %s: %w", role, err))
	}
	return nil
}
