// Package provision implements dev-format's device-formatting path: the
// one-time write of a freshly built image's resources onto a device's
// partitions, establishing the trust root (blob0/blob1, the admin
// signature, the chunk list, and the encrypted internal/data passwords)
// that every later unlock attempt verifies against.
package provision

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sealbox/sealbox/internal/build"
	"github.com/sealbox/sealbox/internal/credentials"
	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/device"
	"github.com/sealbox/sealbox/internal/fingerprint"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/runtool"
)

var log = logging.Logger()

// Mountpoints is where each role is mounted for the duration of
// provisioning; unlike unlock.Mountpoints every role here is writable.
type Mountpoints struct {
	Dummy    string
	EFI      string
	Live     string
	Internal string
	Data     string
}

// Config is everything ProvisionDevice needs beyond the Device handle
// itself.
type Config struct {
	// AdminCN/AdminPassword seed the device's first user slot.
	AdminCN       string
	AdminPassword string

	// AdminSigningPub/AdminSigningPriv sign resources/meta.json: the
	// detached signature internal/device.Verify checks against
	// resources/meta-sign.pub on every unlock.
	AdminSigningPub  []byte
	AdminSigningPriv []byte

	// InternalPassword/DataPassword are the LUKS passwords for the
	// internal/data partitions. A blank value is replaced with a freshly
	// generated random secret.
	InternalPassword string
	DataPassword     string

	// ISOPath, when set, is deployed onto freshly formatted dummy/EFI/live
	// filesystems before any resource is written. Leave blank to provision
	// a device whose dummy/EFI/live already carry the image content (e.g.
	// a device re-provisioned after a blob0 reset).
	ISOPath         string
	DummyFilesystem string // defaults to ext4
	EFIFilesystem   string // defaults to vfat
	LiveFilesystem  string // defaults to ext4

	Runner runtool.Runner
}

// Result carries the device-wide secrets ProvisionDevice established, for
// a caller that wants to log or escrow them (blob0 in particular is never
// recoverable otherwise: declare_user only ever stores it encrypted).
type Result struct {
	Blob0            []byte
	InternalPassword string
	DataPassword     string
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return cryptoprim.RawKeyString(buf), nil
}

// ProvisionDevice formats internal/data under fresh LUKS secrets, mounts
// dummy, EFI, live and (once opened) internal read-write, writes the dummy
// resources (blob0.json, blob1.priv.enc, chunks.enc, meta-sign.pub,
// meta.json(.sig)), computes the integrity fingerprint over that
// freshly-written state, and finally writes the resources whose own
// existence the fingerprint ignores (internal-pass.enc on dummy,
// data-pass.enc/privdata-ekey.priv on internal). The data partition is
// LUKS-formatted but neither opened nor mounted here, so mp.Data is unused.
// dev's partitions must already exist (partition table creation is a
// devfile/layout-tool concern, not replicated here); unless cfg.ISOPath is
// set, dummy, EFI and live must already carry the image internal/build
// produced.
func ProvisionDevice(ctx context.Context, dev *device.Device, mp Mountpoints, cfg Config) (Result, error) {
	internalPassword := cfg.InternalPassword
	if internalPassword == "" {
		p, err := randomSecret(32)
		if err != nil {
			return Result{}, fmt.Errorf("provision: generate internal password: %w", err)
		}
		internalPassword = p
	}
	dataPassword := cfg.DataPassword
	if dataPassword == "" {
		p, err := randomSecret(32)
		if err != nil {
			return Result{}, fmt.Errorf("provision: generate data password: %w", err)
		}
		dataPassword = p
	}

	if err := dev.SetPartitionSecret(ctx, device.RoleInternal, device.SecretFormat, []byte(internalPassword)); err != nil {
		return Result{}, fmt.Errorf("provision: format internal: %w", err)
	}
	if err := dev.SetPartitionSecret(ctx, device.RoleData, device.SecretFormat, []byte(dataPassword)); err != nil {
		return Result{}, fmt.Errorf("provision: format data: %w", err)
	}

	if cfg.ISOPath != "" {
		dummyFS, efiFS, liveFS := cfg.DummyFilesystem, cfg.EFIFilesystem, cfg.LiveFilesystem
		if dummyFS == "" {
			dummyFS = "ext4"
		}
		if efiFS == "" {
			efiFS = "vfat"
		}
		if liveFS == "" {
			liveFS = "ext4"
		}
		for role, fsType := range map[device.Role]string{device.RoleDummy: dummyFS, device.RoleEFI: efiFS, device.RoleLive: liveFS} {
			if err := dev.FormatFilesystem(ctx, role, fsType); err != nil {
				return Result{}, fmt.Errorf("provision: %w", err)
			}
		}
	}

	if err := dev.Mount(ctx, device.RoleDummy, mp.Dummy, device.DefaultMountOptions(device.RoleDummy, ""), false); err != nil {
		return Result{}, fmt.Errorf("provision: mount dummy: %w", err)
	}
	if err := dev.Mount(ctx, device.RoleEFI, mp.EFI, device.DefaultMountOptions(device.RoleEFI, ""), false); err != nil {
		return Result{}, fmt.Errorf("provision: mount EFI: %w", err)
	}
	if err := dev.Mount(ctx, device.RoleLive, mp.Live, device.DefaultMountOptions(device.RoleLive, ""), false); err != nil {
		return Result{}, fmt.Errorf("provision: mount live: %w", err)
	}

	if cfg.ISOPath != "" {
		if err := build.DeployISO(ctx, cfg.Runner, cfg.ISOPath, mp.Dummy, mp.EFI, mp.Live); err != nil {
			return Result{}, fmt.Errorf("provision: %w", err)
		}
	}

	blob0, err := randomSecretBytes(32)
	if err != nil {
		return Result{}, fmt.Errorf("provision: generate blob0: %w", err)
	}
	if err := credentials.DeclareUser(mp.Dummy, cfg.AdminCN, cfg.AdminPassword, blob0); err != nil {
		return Result{}, fmt.Errorf("provision: declare initial user: %w", err)
	}

	blob1Pub, blob1Priv, err := cryptoprim.GenerateKeyPair(cfg.AdminCN, cfg.AdminCN+"@sealbox.local")
	if err != nil {
		return Result{}, fmt.Errorf("provision: generate blob1 keypair: %w", err)
	}
	blob1PrivEnc, err := cryptoprim.PasswordEncrypt(cryptoprim.RawKeyString(blob0), blob1Priv)
	if err != nil {
		return Result{}, fmt.Errorf("provision: encrypt blob1 under blob0: %w", err)
	}
	if err := writeResource(mp.Dummy, "resources/blob1.priv.enc", []byte(blob1PrivEnc)); err != nil {
		return Result{}, err
	}

	chunks, err := cryptoprim.DeclareChunks(mp.Live)
	if err != nil {
		return Result{}, fmt.Errorf("provision: declare live chunks: %w", err)
	}
	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return Result{}, fmt.Errorf("provision: marshal chunks: %w", err)
	}
	chunksEnc, err := cryptoprim.AsymEncrypt(blob1Pub, chunksJSON)
	if err != nil {
		return Result{}, fmt.Errorf("provision: seal chunks under blob1: %w", err)
	}
	if err := writeResource(mp.Dummy, "resources/chunks.enc", chunksEnc); err != nil {
		return Result{}, err
	}

	if err := writeResource(mp.Dummy, "resources/meta-sign.pub", cfg.AdminSigningPub); err != nil {
		return Result{}, err
	}
	meta := map[string]any{
		"provisioned-at": time.Now().UTC().Format(time.RFC3339),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Result{}, fmt.Errorf("provision: marshal meta.json: %w", err)
	}
	if err := writeResource(mp.Dummy, "resources/meta.json", metaJSON); err != nil {
		return Result{}, err
	}
	sig, err := cryptoprim.SignDetached(cfg.AdminSigningPriv, metaJSON)
	if err != nil {
		return Result{}, fmt.Errorf("provision: sign meta.json: %w", err)
	}
	if err := writeResource(mp.Dummy, "resources/meta.json.sig", sig); err != nil {
		return Result{}, err
	}

	liveHash, _, err := cryptoprim.VerifyFilesChunks(mp.Live, chunks)
	if err != nil {
		return Result{}, fmt.Errorf("provision: fold live chunks: %w", err)
	}
	ifp, fpLog, err := fingerprint.ComputeIntegrityFingerprint(dev, blob1Priv, liveHash)
	if err != nil {
		return Result{}, fmt.Errorf("provision: compute integrity fingerprint: %w", err)
	}
	for _, e := range fpLog {
		log.Debugf("provision: fingerprint step %s -> %s", e.Step, e.Prefix)
	}

	internalPassEnc, err := cryptoprim.PasswordEncrypt(cryptoprim.RawKeyString(ifp), []byte(internalPassword))
	if err != nil {
		return Result{}, fmt.Errorf("provision: encrypt internal-pass.enc: %w", err)
	}
	if err := writeResource(mp.Dummy, "resources/internal-pass.enc", []byte(internalPassEnc)); err != nil {
		return Result{}, err
	}

	if err := dev.SetPartitionSecret(ctx, device.RoleInternal, device.SecretOpen, []byte(internalPassword)); err != nil {
		return Result{}, fmt.Errorf("provision: open internal: %w", err)
	}
	if err := dev.Mount(ctx, device.RoleInternal, mp.Internal, device.DefaultMountOptions(device.RoleInternal, ""), false); err != nil {
		return Result{}, fmt.Errorf("provision: mount internal: %w", err)
	}

	dataPassEnc, err := cryptoprim.AsymEncrypt(blob1Pub, []byte(dataPassword))
	if err != nil {
		return Result{}, fmt.Errorf("provision: seal data password under blob1: %w", err)
	}
	if err := writeResource(mp.Internal, "credentials/data-pass.enc", dataPassEnc); err != nil {
		return Result{}, err
	}
	if err := writeResource(mp.Internal, "credentials/privdata-ekey.priv", blob1Priv); err != nil {
		return Result{}, err
	}

	return Result{Blob0: blob0, InternalPassword: internalPassword, DataPassword: dataPassword}, nil
}

func randomSecretBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeResource(mountpoint, rel string, data []byte) error {
	path := filepath.Join(mountpoint, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("provision: mkdir for %s: %w", rel, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("provision: write %s: %w", rel, err)
	}
	return nil
}
