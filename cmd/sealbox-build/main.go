// Command sealbox-build drives internal/build.Builder against a build
// configuration file, producing a finished live ISO plus its keyinfos.json
// and live-build log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/sealbox/sealbox/internal/build"
	"github.com/sealbox/sealbox/internal/collab"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/logging"
	"github.com/sealbox/sealbox/internal/runtool"
)

var (
	sourcesDir     string
	containerImage string
	patchDir       string
	splashFile     string
)

func createBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sealbox-build [flags] BUILD_CONFIG_FILE",
		Short: "assemble a live image from a build configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  executeBuild,
	}
	cmd.Flags().StringVar(&sourcesDir, "sources-dir", ".", "directory component paths are resolved relative to")
	cmd.Flags().StringVar(&containerImage, "container-image", "", "override the build config's live-build container image")
	cmd.Flags().StringVar(&patchDir, "patch-dir", "", "directory of *.patch files applied to the initrd")
	cmd.Flags().StringVar(&splashFile, "splash-file", "", "replacement GRUB splash image")
	return cmd
}

func executeBuild(cmd *cobra.Command, args []string) error {
	log := logging.Logger()
	cfg, err := config.LoadBuildConfig(args[0])
	if err != nil {
		return fmt.Errorf("load build config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := build.NewBuilder(runtool.Default, collab.NoopProxyFinder{})
	b.SourcesDir = sourcesDir
	b.ContainerImage = containerImage
	b.PatchDir = patchDir
	b.SplashFile = splashFile

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("building %s (%d components)", cfg.BuildID, len(cfg.Components))),
		progressbar.OptionSetWriter(cmd.OutOrStderr()),
		progressbar.OptionSpinnerType(14),
	)
	defer bar.Close()

	log.Infof("building %s (%s)", cfg.BuildID, cfg.BuildType)
	result, err := b.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	_ = bar.Finish()

	log.Infof("iso: %s", result.ISOPath)
	log.Infof("keyinfos: %s", result.KeyInfosPath)
	log.Infof("log: %s", result.LiveBuildLog)
	return nil
}

func main() {
	if err := createBuildCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
