package unlock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/credentials"
	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/device"
	"github.com/sealbox/sealbox/internal/fingerprint"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/sealerr"
)

var log = logging.Logger()

const defaultRunDir = "/run/INSECA"

const (
	resourceAdminPubKey  = "resources/meta-sign.pub"
	resourceBlob1PrivEnc = "resources/blob1.priv.enc"
	resourceChunksEnc    = "resources/chunks.enc"
	resourceInternalPass = "resources/internal-pass.enc"
	internalDataPassEnc  = "credentials/data-pass.enc"
)

// Mountpoints names the host directories each role is mounted at during an
// unlock attempt. Dummy, EFI and live are scoped to the unlock operation and
// released once it concludes; internal and data outlive it.
type Mountpoints struct {
	Dummy    string
	EFI      string
	Live     string
	Internal string
	Data     string
}

// Machine drives one device through Locked -> ... -> Unlocked. Construct one
// per unlock attempt; acquiring a second Machine while one is already held
// against the same run directory fails fast with sealerr.KindDeviceBusy
// rather than queuing, since a concurrent attempt would only race on the
// same mounts.
type Machine struct {
	dev    *device.Device
	runDir string
	lock   *processLock

	State   State
	Failure FailureKind
}

// NewMachine acquires the named run-directory lock and returns a Machine
// bound to dev. runDir defaults to /run/INSECA when empty; tests pass a
// temp directory instead.
func NewMachine(dev *device.Device, runDir string) (*Machine, error) {
	if runDir == "" {
		runDir = defaultRunDir
	}
	l, err := acquireProcessLock(runDir)
	if err != nil {
		return nil, err
	}
	return &Machine{dev: dev, runDir: runDir, lock: l, State: StateLocked}, nil
}

// Close releases the run-directory lock. Callers defer this once the
// attempt, successful or not, has concluded.
func (m *Machine) Close() error {
	return m.lock.release()
}

func (m *Machine) fail(kind FailureKind) {
	m.State = StateFailed
	m.Failure = kind
}

func rawKeyString(b []byte) string {
	return cryptoprim.RawKeyString(b)
}

// Unlock runs the full Locked -> Unlocked sequence against userPassword.
// On any failure the Machine settles in State Failed with a FailureKind
// set and returns an error carrying the matching sealerr.Kind; every
// failure from IntegrityChecking onward collapses to sealerr.KindDeviceIntegrity
// regardless of its underlying cause, per the propagation policy. A failure
// after the integrity fingerprint has been computed still returns a Result
// carrying IntegrityLog, for diagnostics.
func (m *Machine) Unlock(ctx context.Context, userPassword string, mp Mountpoints) (Result, error) {
	if m.State != StateLocked {
		return Result{}, fmt.Errorf("unlock: machine is not in state %s (got %s)", StateLocked, m.State)
	}

	if err := m.dev.Mount(ctx, device.RoleDummy, mp.Dummy, device.DefaultMountOptions(device.RoleDummy, ""), true); err != nil {
		m.fail(FailureOther)
		return Result{}, err
	}
	m.State = StateAuthenticating

	if err := m.verifyMetadata(mp.Dummy); err != nil {
		_ = m.dev.UmountAuto(ctx)
		m.fail(FailureIntegrity)
		return Result{}, sealerr.Integrity(err)
	}

	userUUID, cn, blob0, err := credentials.Authenticate(mp.Dummy, userPassword)
	if err != nil {
		_ = m.dev.UmountAuto(ctx)
		m.fail(FailureCredential)
		return Result{}, err
	}
	if err := os.WriteFile(filepath.Join(m.runDir, "user_uuid"), []byte(userUUID), 0o600); err != nil {
		log.Warnf("unlock: could not record user_uuid: %v", err)
	}
	m.State = StateIntegrityChecking

	ifp, blob1Priv, integrityLog, err := m.computeIntegrityFingerprint(ctx, mp, blob0)
	if err != nil {
		_ = m.dev.UmountAuto(ctx)
		m.fail(FailureIntegrity)
		return Result{}, sealerr.Integrity(err)
	}

	internalPassword, err := m.decryptInternalPassword(mp.Dummy, ifp)
	if err != nil {
		_ = m.dev.UmountAuto(ctx)
		m.fail(FailureIntegrity)
		return Result{IntegrityLog: integrityLog}, sealerr.Integrity(err)
	}
	m.State = StateOpening

	dataPassword, err := m.openPartitions(ctx, mp, internalPassword, blob1Priv)
	umountErrs := m.dev.UmountAuto(ctx)
	for _, uerr := range umountErrs {
		log.Warnf("unlock: umount during cleanup: %v", uerr)
	}
	if err != nil {
		m.fail(FailureIntegrity)
		return Result{IntegrityLog: integrityLog}, sealerr.Integrity(err)
	}

	m.State = StateUnlocked
	return Result{
		Blob0:        blob0,
		Blob1Priv:    blob1Priv,
		InternalPass: internalPassword,
		DataPass:     dataPassword,
		UserUUID:     userUUID,
		CN:           cn,
		IntegrityLog: integrityLog,
	}, nil
}

func (m *Machine) verifyMetadata(dummyMP string) error {
	verifiers := map[string]device.Verifier{
		"Admin": {Type: "key", PublicKeyFile: filepath.Join(dummyMP, resourceAdminPubKey)},
	}
	return m.dev.Verify(verifiers)
}

// computeIntegrityFingerprint carries out the IntegrityChecking -> Opening
// transition: decrypt blob1's private key under blob0, decrypt the chunk
// list under blob1, mount and verify live's declared chunks, then fold
// everything into the integrity fingerprint.
func (m *Machine) computeIntegrityFingerprint(ctx context.Context, mp Mountpoints, blob0 []byte) (fp, blob1Priv []byte, integrityLog []string, err error) {
	blob1Enc, err := os.ReadFile(filepath.Join(mp.Dummy, resourceBlob1PrivEnc))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read blob1.priv.enc: %w", err)
	}
	blob1Priv, err = cryptoprim.PasswordDecrypt(rawKeyString(blob0), string(blob1Enc))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypt blob1 from blob0: %w", err)
	}

	chunksEnc, err := os.ReadFile(filepath.Join(mp.Dummy, resourceChunksEnc))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read chunks.enc: %w", err)
	}
	chunksJSON, err := cryptoprim.AsymDecrypt(blob1Priv, chunksEnc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("decrypt chunks from blob1: %w", err)
	}
	var chunks []cryptoprim.Chunk
	if err := json.Unmarshal(chunksJSON, &chunks); err != nil {
		return nil, nil, nil, fmt.Errorf("parse chunks.enc: %w", err)
	}

	if err := m.dev.Mount(ctx, device.RoleLive, mp.Live, device.DefaultMountOptions(device.RoleLive, ""), true); err != nil {
		return nil, nil, nil, fmt.Errorf("mount live: %w", err)
	}
	liveHash, chunkLog, err := cryptoprim.VerifyFilesChunks(mp.Live, chunks)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("verify live chunks: %w", err)
	}

	if err := m.dev.Mount(ctx, device.RoleEFI, mp.EFI, device.DefaultMountOptions(device.RoleEFI, ""), true); err != nil {
		return nil, nil, nil, fmt.Errorf("mount EFI: %w", err)
	}

	ifp, fpLog, err := fingerprint.ComputeIntegrityFingerprint(m.dev, blob1Priv, liveHash)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("compose integrity fingerprint: %w", err)
	}

	prefixes := make([]string, 0, len(fpLog)+1)
	for _, e := range fpLog {
		prefixes = append(prefixes, fmt.Sprintf("%s:%s", e.Step, e.Prefix))
	}
	prefixes = append(prefixes, fmt.Sprintf("live-chunks-files:%d", len(chunkLog)))
	return ifp, blob1Priv, prefixes, nil
}

func (m *Machine) decryptInternalPassword(dummyMP string, ifp []byte) (string, error) {
	data, err := os.ReadFile(filepath.Join(dummyMP, resourceInternalPass))
	if err != nil {
		return "", fmt.Errorf("read internal-pass.enc: %w", err)
	}
	plain, err := cryptoprim.PasswordDecrypt(rawKeyString(ifp), string(data))
	if err != nil {
		return "", fmt.Errorf("decrypt internal-pass.enc: %w", err)
	}
	return string(plain), nil
}

// openPartitions carries out the Opening -> Unlocked transition: unlock and
// mount internal, read data's password from it, unlock and mount data.
func (m *Machine) openPartitions(ctx context.Context, mp Mountpoints, internalPassword string, blob1Priv []byte) (dataPassword string, err error) {
	if err := m.dev.SetPartitionSecret(ctx, device.RoleInternal, device.SecretOpen, []byte(internalPassword)); err != nil {
		return "", err
	}
	if err := m.dev.Mount(ctx, device.RoleInternal, mp.Internal, device.DefaultMountOptions(device.RoleInternal, ""), false); err != nil {
		return "", err
	}

	dataPassEnc, err := os.ReadFile(filepath.Join(mp.Internal, internalDataPassEnc))
	if err != nil {
		return "", fmt.Errorf("read data-pass.enc: %w", err)
	}
	dataPass, err := cryptoprim.AsymDecrypt(blob1Priv, dataPassEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt data-pass.enc: %w", err)
	}
	dataPassword = string(dataPass)

	if err := m.dev.SetPartitionSecret(ctx, device.RoleData, device.SecretOpen, []byte(dataPassword)); err != nil {
		return "", err
	}
	fsType, err := m.dev.GetPartitionFilesystem(ctx, device.RoleData)
	if err != nil {
		return "", fmt.Errorf("get data filesystem: %w", err)
	}
	if err := os.MkdirAll(mp.Data, 0o755); err != nil {
		return "", fmt.Errorf("create data mountpoint: %w", err)
	}
	if err := m.dev.Mount(ctx, device.RoleData, mp.Data, device.DefaultMountOptions(device.RoleData, fsType), false); err != nil {
		return "", err
	}
	return dataPassword, nil
}

// PrepareShutdown unmaps data's bind-mounted directories and unmounts data.
// internal is deliberately left mounted since it is typically busy at
// shutdown time; every step here is best-effort and logged, never raised.
func (m *Machine) PrepareShutdown(ctx context.Context, bm *BindMap) {
	if bm != nil {
		if err := bm.Unmap(ctx); err != nil {
			log.Warnf("prepare shutdown: unmap directories: %v", err)
		}
	}
	if err := m.dev.Umount(ctx, device.RoleData); err != nil {
		log.Warnf("prepare shutdown: umount data: %v", err)
	}
}
