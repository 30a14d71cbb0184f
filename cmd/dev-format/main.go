// Command dev-format builds a live image from a format configuration and
// writes it onto a device: assemble the image, deploy it onto the
// dummy/EFI/live partitions, then provision the device's trust root
// (blob0, blob1, the signed metadata, and the encrypted partition
// passwords).
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sealbox/sealbox/internal/build"
	"github.com/sealbox/sealbox/internal/collab"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/device"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/provision"
	"github.com/sealbox/sealbox/internal/runtool"
)

var (
	sourcesDir    string
	adminCN       string
	adminPassword string
	adminPubFile  string
	adminPrivFile string
	internalPass  string
	dataPass      string
	workDir       string
)

func createDevFormatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev-format [flags] FORMAT_CONFIG_FILE PARAMS_FILE DEVFILE",
		Short: "build and provision a device from a format configuration",
		Args:  cobra.ExactArgs(3),
		RunE:  executeDevFormat,
	}
	cmd.Flags().StringVar(&sourcesDir, "sources-dir", ".", "directory component paths are resolved relative to")
	cmd.Flags().StringVar(&adminCN, "admin-cn", "admin", "common name of the device's first user slot")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "password for the device's first user slot (required)")
	cmd.Flags().StringVar(&adminPubFile, "admin-pubkey-file", "", "admin signing public key, written to resources/meta-sign.pub (required)")
	cmd.Flags().StringVar(&adminPrivFile, "admin-privkey-file", "", "admin signing private key, used to sign resources/meta.json (required)")
	cmd.Flags().StringVar(&internalPass, "internal-password", "", "LUKS password for the internal partition (random if empty)")
	cmd.Flags().StringVar(&dataPass, "data-password", "", "LUKS password for the data partition (random if empty)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "scratch directory for the built image (defaults to a temp dir)")
	_ = cmd.MarkFlagRequired("admin-password")
	_ = cmd.MarkFlagRequired("admin-pubkey-file")
	_ = cmd.MarkFlagRequired("admin-privkey-file")
	return cmd
}

func executeDevFormat(cmd *cobra.Command, args []string) error {
	log := logging.Logger()
	formatConfigFile, paramsFile, devFile := args[0], args[1], args[2]

	fc, err := config.LoadFormatConfig(formatConfigFile)
	if err != nil {
		return fmt.Errorf("load format config: %w", err)
	}
	userParams, err := config.LoadFormatParams(paramsFile)
	if err != nil {
		return fmt.Errorf("load params file: %w", err)
	}
	if _, err := fc.Resolve(userParams); err != nil {
		return fmt.Errorf("resolve params: %w", err)
	}

	buildConfigFile := fc.BuildConfigFile
	if !filepath.IsAbs(buildConfigFile) {
		buildConfigFile = filepath.Join(filepath.Dir(formatConfigFile), buildConfigFile)
	}
	buildCfg, err := config.LoadBuildConfig(buildConfigFile)
	if err != nil {
		return fmt.Errorf("load build config: %w", err)
	}

	if buildCfg.OutputDir == "" {
		dir, err := os.MkdirTemp(workDir, "sealbox-devformat-*")
		if err != nil {
			return fmt.Errorf("prepare output dir: %w", err)
		}
		buildCfg.OutputDir = dir
	}

	ctx := cmd.Context()
	b := build.NewBuilder(runtool.Default, collab.NoopProxyFinder{})
	b.SourcesDir = sourcesDir

	log.Infof("dev-format: building image for %s", fc.ID)
	result, err := b.Build(ctx, buildCfg)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	dev, err := device.New(devFile, device.PartitionsFromDevfile(devFile))
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	mp := provision.Mountpoints{
		Dummy:    filepath.Join(buildCfg.OutputDir, "mnt-dummy"),
		EFI:      filepath.Join(buildCfg.OutputDir, "mnt-efi"),
		Live:     filepath.Join(buildCfg.OutputDir, "mnt-live"),
		Internal: filepath.Join(buildCfg.OutputDir, "mnt-internal"),
		Data:     filepath.Join(buildCfg.OutputDir, "mnt-data"),
	}
	for _, dir := range []string{mp.Dummy, mp.EFI, mp.Live, mp.Internal, mp.Data} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("prepare mountpoint %s: %w", dir, err)
		}
	}

	adminPub, err := os.ReadFile(adminPubFile)
	if err != nil {
		return fmt.Errorf("read admin public key: %w", err)
	}
	adminPriv, err := os.ReadFile(adminPrivFile)
	if err != nil {
		return fmt.Errorf("read admin private key: %w", err)
	}

	log.Infof("dev-format: formatting %s", devFile)
	pr, err := provision.ProvisionDevice(ctx, dev, mp, provision.Config{
		AdminCN:          adminCN,
		AdminPassword:    adminPassword,
		AdminSigningPub:  adminPub,
		AdminSigningPriv: adminPriv,
		InternalPassword: internalPass,
		DataPassword:     dataPass,
		ISOPath:          result.ISOPath,
	})
	if err != nil {
		return fmt.Errorf("provision device: %w", err)
	}

	log.Infof("dev-format: done (iso=%s)", result.ISOPath)
	if internalPass == "" || dataPass == "" {
		log.Infof("dev-format: generated internal-password=%q data-password=%q; store them securely", pr.InternalPassword, pr.DataPassword)
	}
	return nil
}

func main() {
	if err := createDevFormatCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
