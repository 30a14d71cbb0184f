package build

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/runtool"
)

// isoVolumeLabel returns the volume label used for the final ISO, selected
// from the build type.
func isoVolumeLabel(bt config.BuildType) string {
	switch bt {
	case config.BuildTypeAdmin:
		return "INSECA-ADMIN"
	case config.BuildTypeWKS, config.BuildTypeServer:
		return "INSECA"
	default:
		return "INSECA-LIVE"
	}
}

// PostProcessISO runs the extract/patch/repack pipeline over the raw ISO
// live-build produced: extract ISO -> extract initrd -> apply the bundled
// patch -> repack initrd -> trim isolinux/live.cfg at its marker -> replace
// the GRUB splash -> strip non-essential live/ files -> repack with a
// volume label chosen from build type (spec.md §4.G step 7).
func PostProcessISO(ctx context.Context, runner runtool.Runner, rawISO, patchDir, splashFile string, bt config.BuildType, outISO string) error {
	if runner == nil {
		runner = runtool.Default
	}

	work, err := os.MkdirTemp("", "sealbox-iso-*")
	if err != nil {
		return fmt.Errorf("build: iso postprocess: mkdtemp: %w", err)
	}
	defer os.RemoveAll(work)

	extracted := filepath.Join(work, "iso")
	if err := os.MkdirAll(extracted, 0o755); err != nil {
		return fmt.Errorf("build: iso postprocess: %w", err)
	}
	if _, err := runner.Run(ctx, "7z", []string{"x", "-o" + extracted, rawISO}, runtool.Options{}); err != nil {
		return fmt.Errorf("build: iso postprocess: extract iso: %w", err)
	}

	initrdPath, err := findInitrd(extracted)
	if err != nil {
		return err
	}
	initrdDir := filepath.Join(work, "initrd")
	if err := os.MkdirAll(initrdDir, 0o755); err != nil {
		return fmt.Errorf("build: iso postprocess: %w", err)
	}
	if _, err := runner.Run(ctx, "unmkinitramfs", []string{initrdPath, initrdDir}, runtool.Options{Sudo: true}); err != nil {
		return fmt.Errorf("build: iso postprocess: extract initrd: %w", err)
	}

	if patchDir != "" {
		if err := applyPatch(ctx, runner, patchDir, initrdDir); err != nil {
			return fmt.Errorf("build: iso postprocess: apply initrd patch: %w", err)
		}
	}

	if err := repackInitrd(ctx, runner, initrdDir, initrdPath); err != nil {
		return fmt.Errorf("build: iso postprocess: repack initrd: %w", err)
	}

	if err := trimLiveCfg(filepath.Join(extracted, "isolinux", "live.cfg")); err != nil {
		log.Warnf("build: iso postprocess: trim live.cfg: %v", err)
	}

	if splashFile != "" {
		if err := replaceGrubSplash(extracted, splashFile); err != nil {
			log.Warnf("build: iso postprocess: replace grub splash: %v", err)
		}
	}

	if err := stripNonEssentialLiveFiles(filepath.Join(extracted, "live")); err != nil {
		log.Warnf("build: iso postprocess: strip live/ files: %v", err)
	}

	label := isoVolumeLabel(bt)
	if _, err := runner.Run(ctx, "xorriso", []string{
		"-as", "mkisofs",
		"-volid", label,
		"-output", outISO,
		"-isohybrid-mbr", "/usr/lib/ISOLINUX/isohdpfx.bin",
		"-c", "isolinux/boot.cat",
		"-b", "isolinux/isolinux.bin",
		"-no-emul-boot", "-boot-load-size", "4", "-boot-info-table",
		"-eltorito-alt-boot",
		"-e", "boot/grub/efi.img",
		"-no-emul-boot", "-isohybrid-gpt-basdat",
		extracted,
	}, runtool.Options{}); err != nil {
		return fmt.Errorf("build: iso postprocess: repack iso: %w", err)
	}
	return nil
}

func findInitrd(isoRoot string) (string, error) {
	candidates := []string{
		filepath.Join(isoRoot, "live", "initrd.img"),
		filepath.Join(isoRoot, "live", "initrd"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("build: iso postprocess: no initrd found under %s/live", isoRoot)
}

func applyPatch(ctx context.Context, runner runtool.Runner, patchDir, targetDir string) error {
	entries, err := os.ReadDir(patchDir)
	if err != nil {
		return fmt.Errorf("read patch dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".patch") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(patchDir, e.Name()))
		if err != nil {
			return fmt.Errorf("read patch %s: %w", e.Name(), err)
		}
		if _, err := runner.Run(ctx, "patch", []string{"-p1", "-d", targetDir}, runtool.Options{Stdin: data}); err != nil {
			return fmt.Errorf("apply patch %s: %w", e.Name(), err)
		}
	}
	return nil
}

func repackInitrd(ctx context.Context, runner runtool.Runner, initrdDir, outPath string) error {
	_, err := runner.Run(ctx, "sh", []string{"-c", fmt.Sprintf(
		"cd %s && find . | cpio -o -H newc | gzip -9 > %s", shQuote(initrdDir), shQuote(outPath),
	)}, runtool.Options{Sudo: true})
	return err
}

func shQuote(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" }

// trimLiveCfg truncates isolinux/live.cfg at the first line matching the
// "#INSECA" marker, matching the original's live.cfg post-processing: menu
// entries intended for build-time testing only live after that marker.
func trimLiveCfg(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var kept []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#INSECA") {
			break
		}
		kept = append(kept, line)
	}
	return os.WriteFile(path, []byte(strings.Join(kept, "\n")+"\n"), 0o644)
}

func replaceGrubSplash(isoRoot, splashFile string) error {
	data, err := os.ReadFile(splashFile)
	if err != nil {
		return err
	}
	dst := filepath.Join(isoRoot, "boot", "grub", "splash.png")
	return os.WriteFile(dst, data, 0o644)
}

// stripNonEssentialLiveFiles removes *.contents and *.packages manifests
// live-build leaves under live/: they are build-time bookkeeping, not
// needed to boot, and needlessly grow the ISO.
func stripNonEssentialLiveFiles(liveDir string) error {
	entries, err := os.ReadDir(liveDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".contents") || strings.HasSuffix(e.Name(), ".packages") {
			_ = os.Remove(filepath.Join(liveDir, e.Name()))
		}
	}
	return nil
}

// ReassignOwnership chgrp/chowns every path under root to the invoking
// user's real uid/gid when running under sudo (SUDO_UID/SUDO_GID), so build
// outputs are not left root-owned on the operator's workstation.
func ReassignOwnership(root string) error {
	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return nil
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return fmt.Errorf("build: parse SUDO_UID: %w", err)
	}
	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return fmt.Errorf("build: parse SUDO_GID: %w", err)
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Chown(path, uid, gid)
	})
}
