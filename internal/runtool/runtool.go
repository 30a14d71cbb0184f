// Package runtool abstracts invocation of external system tools (mount,
// umount, cryptsetup, ssh-keygen, systemctl, chpasswd, findmnt, the
// container engine) behind a single interface taking structured arguments.
// This is the seam substituted by a fake Runner in unit tests, per the
// "shell-out surface" design note. Callers pass structured arguments; the one
// place that builds a shell command string is internal/build's initrd
// repack, which runs a find/cpio pipeline through "sh -c".
package runtool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/sealbox/sealbox/internal/logging"
)

// Options configures a single invocation.
type Options struct {
	// Sudo prefixes the command with sudo.
	Sudo bool
	// Dir sets the working directory, if non-empty.
	Dir string
	// Env appends KEY=VALUE entries to the child's environment.
	Env []string
	// Stdin, if non-nil, is fed to the child's standard input.
	Stdin []byte
	// InterruptFn, if set, is called with the running command; invoking it
	// should terminate the process (used for build cancellation).
	InterruptFn func(cmd *exec.Cmd)
}

// Result is the outcome of a single invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a named tool with structured arguments.
type Runner interface {
	Run(ctx context.Context, name string, args []string, opts Options) (Result, error)
}

// System is the default Runner, executing real processes via os/exec.
type System struct{}

var _ Runner = System{}

// Default is the Runner used outside of tests.
var Default Runner = System{}

var log = logging.Logger()

// Run executes name(args...), optionally under sudo, capturing stdout and
// stderr separately. A non-zero exit is returned as an error wrapping
// the captured stderr, matching the teacher's ExecCmd contract.
func (System) Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	full := name
	fullArgs := args
	if opts.Sudo {
		fullArgs = append([]string{name}, args...)
		full = "sudo"
	}

	cmd := exec.CommandContext(ctx, full, fullArgs...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if opts.Stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}

	log.Debugf("exec: %s %v", full, fullArgs)
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start %s: %w", name, err)
	}
	if opts.InterruptFn != nil {
		go func() {
			<-ctx.Done()
			opts.InterruptFn(cmd)
		}()
	}
	err := cmd.Wait()
	res := Result{Stdout: outBuf.String(), Stderr: errBuf.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		return res, fmt.Errorf("%s failed: %s: %w", name, res.Stderr, err)
	}
	return res, nil
}

// Run is a package-level convenience calling Default.Run.
func Run(ctx context.Context, name string, args []string, opts Options) (Result, error) {
	return Default.Run(ctx, name, args, opts)
}
