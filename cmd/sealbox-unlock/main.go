// Command sealbox-unlock drives a single device through the unlock state
// machine: prompts for the session user's password, runs the Locked ->
// Unlocked sequence, and on success runs the best-effort post-unlock
// steps. No detail of a device-integrity failure is ever printed, only
// its opaque message and the integrity log step prefixes.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sealbox/sealbox/internal/device"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/sealerr"
	"github.com/sealbox/sealbox/internal/unlock"
)

var (
	devFile  string
	runDir   string
	mpDummy  string
	mpEFI    string
	mpLive   string
	mpIntern string
	mpData   string
)

func createUnlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sealbox-unlock --devfile DEVICE",
		Short: "authenticate and unlock a sealed device",
		Args:  cobra.NoArgs,
		RunE:  executeUnlock,
	}
	cmd.Flags().StringVar(&devFile, "devfile", "", "whole-disk device node (required)")
	cmd.Flags().StringVar(&runDir, "run-dir", "", "run directory for the process lock (defaults to /run/INSECA)")
	cmd.Flags().StringVar(&mpDummy, "mp-dummy", "/run/INSECA/dummy", "dummy partition mountpoint")
	cmd.Flags().StringVar(&mpEFI, "mp-efi", "/run/INSECA/EFI", "EFI partition mountpoint")
	cmd.Flags().StringVar(&mpLive, "mp-live", "/run/INSECA/live", "live partition mountpoint")
	cmd.Flags().StringVar(&mpIntern, "mp-internal", "/internal", "internal partition mountpoint")
	cmd.Flags().StringVar(&mpData, "mp-data", "/data", "data partition mountpoint")
	_ = cmd.MarkFlagRequired("devfile")
	return cmd
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func executeUnlock(cmd *cobra.Command, args []string) error {
	log := logging.Logger()
	ctx := cmd.Context()

	dev, err := device.New(devFile, device.PartitionsFromDevfile(devFile))
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	m, err := unlock.NewMachine(dev, runDir)
	if err != nil {
		if sealerr.Is(err, sealerr.KindDeviceBusy) {
			return fmt.Errorf("another unlock attempt is already in progress")
		}
		return err
	}
	defer m.Close()

	password, err := readPassword("password: ")
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	mp := unlock.Mountpoints{Dummy: mpDummy, EFI: mpEFI, Live: mpLive, Internal: mpIntern, Data: mpData}
	result, err := m.Unlock(ctx, password, mp)
	if err != nil {
		log.Errorf("unlock failed: state=%s failure=%s", m.State, m.Failure)
		if len(result.IntegrityLog) > 0 {
			log.Debugf("integrity log prefixes: %v", result.IntegrityLog)
		}
		return fmt.Errorf("unlock failed: %s", err)
	}

	log.Infof("unlocked: user=%s uuid=%s", result.CN, result.UserUUID)

	steps := unlock.RunPostUnlock(ctx, unlock.PostUnlockConfig{
		LiveRoot:     "/",
		InternalPass: result.InternalPass,
	}, result.Blob1Priv)
	if perr := unlock.PostUnlockError(steps); perr != nil {
		log.Warnf("post-unlock: %v", perr)
	}

	return nil
}

func main() {
	if err := createUnlockCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
