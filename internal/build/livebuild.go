package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sealbox/sealbox/internal/collab"
	"github.com/sealbox/sealbox/internal/runtool"
)

// LiveBuilder drives the containerized live-build run over a Tree: spec.md
// §4.G step 6. The build directory is validated noexec/nodev-free first
// (live-build itself needs to exec and mknod inside the chroot), then the
// container is invoked with the tree bind-mounted in, proxy environment
// forwarded, and combined output captured to a per-build log file.
type LiveBuilder struct {
	Runner       runtool.Runner
	ProxyFinder  collab.ProxyFinder
	ContainerBin string // e.g. "podman" or "docker"; defaults to "podman"
}

// NewLiveBuilder returns a LiveBuilder with the given collaborators, falling
// back to runtool.Default and collab.NoopProxyFinder{} when nil.
func NewLiveBuilder(runner runtool.Runner, proxy collab.ProxyFinder) *LiveBuilder {
	if runner == nil {
		runner = runtool.Default
	}
	if proxy == nil {
		proxy = collab.NoopProxyFinder{}
	}
	return &LiveBuilder{Runner: runner, ProxyFinder: proxy, ContainerBin: "podman"}
}

// ValidateBuildDir rejects a build directory mounted noexec or nodev: the
// live-build chroot needs to execute binaries and create device nodes
// during the build, matching the original's findmnt-based guard.
func (b *LiveBuilder) ValidateBuildDir(ctx context.Context, dir string) error {
	res, err := b.Runner.Run(ctx, "findmnt", []string{"-no", "OPTIONS", "--target", dir}, runtool.Options{})
	if err != nil {
		return fmt.Errorf("build: findmnt %s: %w", dir, err)
	}
	opts := strings.Split(strings.TrimSpace(res.Stdout), ",")
	for _, o := range opts {
		if o == "noexec" || o == "nodev" {
			return fmt.Errorf("build: %s is mounted with %q, which live-build requires the build directory not have", dir, o)
		}
	}
	return nil
}

// Run invokes the live-build container against t.Root, writing combined
// build output to logPath. The invocation sets runtool.Options.InterruptFn
// so that cancelling ctx kills the container process rather than leaving it
// running detached.
func (b *LiveBuilder) Run(ctx context.Context, t *Tree, containerImage, logPath string) error {
	if err := b.ValidateBuildDir(ctx, t.Root); err != nil {
		return err
	}

	env := b.proxyEnv(containerImage)

	args := []string{
		"run", "--rm",
		"--privileged",
		"-v", t.Root + ":/build",
		"-w", "/build",
	}
	for _, e := range env {
		args = append(args, "-e", e)
	}
	args = append(args, containerImage, "lb", "build")

	res, err := b.Runner.Run(ctx, b.ContainerBin, args, runtool.Options{
		Dir: t.Root,
		Env: env,
		InterruptFn: func(cmd *exec.Cmd) {
			log.Warnf("build: interrupt requested, stopping live-build container")
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		},
	})

	if writeErr := appendBuildLog(logPath, res.Stdout, res.Stderr, err); writeErr != nil {
		log.Warnf("build: failed to write build log %s: %v", logPath, writeErr)
	}

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("build: interrupted: %w", ctx.Err())
		}
		return fmt.Errorf("build: live-build run failed: %w", err)
	}
	return nil
}

func (b *LiveBuilder) proxyEnv(target string) []string {
	var env []string
	if proxy, err := b.ProxyFinder.FindProxy(target); err == nil && proxy != "" {
		env = append(env, "http_proxy="+proxy, "https_proxy="+proxy)
		return env
	}
	for _, k := range []string{"http_proxy", "https_proxy", "HTTP_PROXY", "HTTPS_PROXY", "no_proxy"} {
		if v := os.Getenv(k); v != "" {
			env = append(env, k+"="+v)
		}
	}
	return env
}

func appendBuildLog(logPath, stdout, stderr string, runErr error) error {
	if logPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "=== live-build run %s ===\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintln(f, "--- stdout ---")
	fmt.Fprintln(f, stdout)
	fmt.Fprintln(f, "--- stderr ---")
	fmt.Fprintln(f, stderr)
	if runErr != nil {
		if strings.Contains(runErr.Error(), "signal: killed") {
			fmt.Fprintf(f, "Interrupted: %v\n", runErr)
		} else {
			fmt.Fprintf(f, "Failed: %v\n", runErr)
		}
	}
	return nil
}
