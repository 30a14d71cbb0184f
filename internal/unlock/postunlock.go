package unlock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/sealbox/sealbox/internal/archive"
	"github.com/sealbox/sealbox/internal/collab"
	"github.com/sealbox/sealbox/internal/cryptoprim"
	"github.com/sealbox/sealbox/internal/runtool"
	"github.com/sealbox/sealbox/internal/sealerr"
)

const (
	privdataArchive   = "/privdata.tar.enc"
	liveConfigArchive = "/live-config.tar.enc"
	postUnlockScript  = "/opt/share/post-unlock-script"
	sshHostKeyPath    = "/etc/ssh/ssh_host_ed25519_key"
)

// PostUnlockStep is one best-effort sub-operation from spec.md §4.F step 5:
// each runs independently, its error recorded rather than aborting the
// remaining steps.
type PostUnlockStep struct {
	Name string
	Err  error
}

// PostUnlockConfig bundles everything the post-unlock steps need beyond the
// Machine's own state: the decrypted internal password (the just-validated
// plaintext the session user's login password is set to), the data bind
// map, and the collaborators the core hands control to.
type PostUnlockConfig struct {
	LiveRoot     string // mountpoint of the live system root the steps operate on ("/")
	InternalPass string
	BindMap      *BindMap
	Session      collab.SessionProvider
	Runner       runtool.Runner
}

// RunPostUnlock executes spec.md §4.F step 5 in its documented order,
// collecting one PostUnlockStep per sub-operation. It never stops at the
// first failure: the device is already unlocked, and every remaining step
// still has a chance to succeed. The caller decides whether to surface a
// composite error, e.g. through PostUnlockError.
func RunPostUnlock(ctx context.Context, cfg PostUnlockConfig, privdataKey []byte) []PostUnlockStep {
	if cfg.Runner == nil {
		cfg.Runner = runtool.Default
	}
	if cfg.Session == nil {
		cfg.Session = collab.NoopSessionProvider{}
	}

	var steps []PostUnlockStep
	record := func(name string, err error) {
		steps = append(steps, PostUnlockStep{Name: name, Err: err})
		if err != nil {
			log.Warnf("post-unlock: %s: %v", name, err)
		}
	}

	record("change-session-password", changeSessionPassword(ctx, cfg))
	record("disable-autologin", disableAutologin(cfg.Runner))
	record("extract-privdata", extractArchive(cfg.LiveRoot, privdataArchive, privdataKey))
	if cfg.BindMap != nil {
		record("bind-map-data", cfg.BindMap.Map(ctx))
	}
	record("extract-live-config", extractArchive(cfg.LiveRoot, liveConfigArchive, privdataKey))
	record("generate-ssh-host-keys", generateSSHHostKeys(ctx, cfg))
	record("run-post-unlock-script", runPostUnlockScript(ctx, cfg))

	return steps
}

// PostUnlockError composes steps into a single sealerr.KindPostUnlock error
// if any step failed, nil otherwise.
func PostUnlockError(steps []PostUnlockStep) error {
	var failed []string
	for _, s := range steps {
		if s.Err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", s.Name, s.Err))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return sealerr.New(sealerr.KindPostUnlock, fmt.Errorf("%d post-unlock step(s) failed: %v", len(failed), failed))
}

func changeSessionPassword(ctx context.Context, cfg PostUnlockConfig) error {
	env, ok := cfg.Session.Current()
	if !ok {
		return nil
	}
	_, err := cfg.Runner.Run(ctx, "chpasswd", nil, runtool.Options{
		Sudo:  true,
		Stdin: []byte(fmt.Sprintf("%s:%s\n", env.User, cfg.InternalPass)),
	})
	return err
}

func disableAutologin(runner runtool.Runner) error {
	const gdmConf = "/etc/gdm3/daemon.conf"
	data, err := os.ReadFile(gdmConf)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	updated := commentAutologinLines(string(data))
	return os.WriteFile(gdmConf, []byte(updated), 0o644)
}

func commentAutologinLines(conf string) string {
	lines := strings.Split(conf, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "AutomaticLoginEnable") || strings.HasPrefix(l, "AutomaticLogin=") {
			lines[i] = "#" + l
		}
	}
	return strings.Join(lines, "\n")
}

func extractArchive(liveRoot, archivePath string, privKey []byte) error {
	full := filepath.Join(liveRoot, archivePath)
	enc, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", archivePath, err)
	}
	compressed, err := cryptoprim.AsymDecrypt(privKey, enc)
	if err != nil {
		return fmt.Errorf("decrypt %s: %w", archivePath, err)
	}
	plain, err := zstdDecompress(compressed)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", archivePath, err)
	}
	tmp, err := os.MkdirTemp("", "sealbox-splay-*")
	if err != nil {
		return fmt.Errorf("prepare splay dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := archive.Untar(plain, tmp); err != nil {
		return fmt.Errorf("untar %s: %w", archivePath, err)
	}
	return splayInto(tmp, liveRoot)
}

// zstdDecompress undoes internal/build.sealTree's compression step: every
// archive extractArchive reads was zstd-compressed before sealing.
func zstdDecompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// splayInto copies every file under src into dst, preserving relative
// paths: the mechanism for extracting a component PRIVDATA/live-config
// archive into the live root (spec.md §4.F step 5 "splay each component's
// payload into /").
func splayInto(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

func generateSSHHostKeys(ctx context.Context, cfg PostUnlockConfig) error {
	full := filepath.Join(cfg.LiveRoot, sshHostKeyPath)
	if _, err := os.Stat(full); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("prepare ssh host key dir: %w", err)
	}
	if _, err := cfg.Runner.Run(ctx, "ssh-keygen", []string{
		"-t", "ed25519", "-f", full, "-N", "",
	}, runtool.Options{Sudo: true}); err != nil {
		return fmt.Errorf("generate host keypair: %w", err)
	}
	if _, err := cfg.Runner.Run(ctx, "systemctl", []string{"restart", "sshd"}, runtool.Options{Sudo: true}); err != nil {
		// A minimal build may not ship sshd at all; "unit not found" is not
		// a failure worth surfacing.
		if isUnitNotFound(err) {
			return nil
		}
		return fmt.Errorf("restart sshd: %w", err)
	}
	return nil
}

func isUnitNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 5
	}
	return false
}

func runPostUnlockScript(ctx context.Context, cfg PostUnlockConfig) error {
	script := filepath.Join(cfg.LiveRoot, postUnlockScript)
	if _, err := os.Stat(script); os.IsNotExist(err) {
		return nil
	}
	_, err := cfg.Runner.Run(ctx, script, nil, runtool.Options{Sudo: true})
	return err
}
