package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sealbox/sealbox/internal/collab"
	"github.com/sealbox/sealbox/internal/config"
	"github.com/sealbox/sealbox/internal/runtool"
)

// Result is what Build returns on success: the paths of the artifacts it
// produced.
type Result struct {
	ISOPath      string
	KeyInfosPath string
	LiveBuildLog string
}

// Builder assembles a live image from a BuildConfig: spec.md §4.G,
// component assembly through ISO post-processing.
type Builder struct {
	Runner      runtool.Runner
	ProxyFinder collab.ProxyFinder

	// SourcesDir is where component directories referenced by
	// BuildConfig.Components are resolved relative to, if they are not
	// already absolute.
	SourcesDir string
	// ContainerImage overrides cfg.ContainerImage when non-empty.
	ContainerImage string
	// PatchDir and SplashFile feed PostProcessISO; both optional.
	PatchDir   string
	SplashFile string
}

// NewBuilder returns a Builder with the given collaborators, falling back
// to the process defaults when nil.
func NewBuilder(runner runtool.Runner, proxy collab.ProxyFinder) *Builder {
	if runner == nil {
		runner = runtool.Default
	}
	if proxy == nil {
		proxy = collab.NoopProxyFinder{}
	}
	return &Builder{Runner: runner, ProxyFinder: proxy}
}

// Build runs the full pipeline against a fresh temporary build directory
// (cfg.OutputDir/.sealbox-build-*), returning the paths of the final
// artifacts.
func (b *Builder) Build(ctx context.Context, cfg *config.BuildConfig) (Result, error) {
	buildRoot, err := os.MkdirTemp(cfg.OutputDir, ".sealbox-build-*")
	if err != nil {
		return Result{}, fmt.Errorf("build: prepare build root: %w", err)
	}

	t, err := NewTree(buildRoot)
	if err != nil {
		return Result{}, err
	}

	components, err := LoadComponents(b.resolveComponentDirs(cfg.Components))
	if err != nil {
		return Result{}, err
	}

	env := PrepareEnv{
		SourcesDir:    b.SourcesDir,
		BuildDir:      buildRoot,
		BuildDataFile: filepath.Join(buildRoot, "build-data.json"),
		ConfDir:       t.Config,
		LibsDir:       filepath.Join(b.SourcesDir, "libs"),
		PythonPath:    filepath.Join(b.SourcesDir, "libs"),
		L10n:          cfg.L10n,
	}
	for _, c := range components {
		env.ComponentBlobs = append(env.ComponentBlobs, c.Dir)
	}

	for _, c := range components {
		if err := ApplyComponent(t, c, env); err != nil {
			return Result{}, fmt.Errorf("build: component %s: %w", c.Name(), err)
		}
	}

	if err := SealArtifacts(t, cfg.DevicePublicKeyFile); err != nil {
		return Result{}, err
	}

	if err := WriteKeyInfos(t, cfg); err != nil {
		return Result{}, err
	}

	containerImage := cfg.ContainerImage
	if b.ContainerImage != "" {
		containerImage = b.ContainerImage
	}
	logPath := filepath.Join(cfg.OutputDir, cfg.BuildID+".log")
	lb := NewLiveBuilder(b.Runner, b.ProxyFinder)
	if err := lb.Run(ctx, t, containerImage, logPath); err != nil {
		return Result{}, err
	}

	rawISO := filepath.Join(buildRoot, "live-image-amd64.hybrid.iso")
	finalISO := filepath.Join(cfg.OutputDir, isoFileName(cfg))
	if err := PostProcessISO(ctx, b.Runner, rawISO, b.PatchDir, b.SplashFile, cfg.BuildType, finalISO); err != nil {
		return Result{}, err
	}

	if err := ReassignOwnership(cfg.OutputDir); err != nil {
		log.Warnf("build: reassign ownership: %v", err)
	}
	PrintBuildSummary(cfg.OutputDir, cfg.BuildID)

	return Result{
		ISOPath:      finalISO,
		KeyInfosPath: cfg.ImageInfosFile,
		LiveBuildLog: logPath,
	}, nil
}

func (b *Builder) resolveComponentDirs(components []string) []string {
	dirs := make([]string, len(components))
	for i, c := range components {
		if filepath.IsAbs(c) {
			dirs[i] = c
		} else {
			dirs[i] = filepath.Join(b.SourcesDir, c)
		}
	}
	return dirs
}

func isoFileName(cfg *config.BuildConfig) string {
	return fmt.Sprintf("%s-%s.iso", cfg.BuildID, cfg.BuildType)
}
