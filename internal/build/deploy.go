package build

import (
	"context"
	"fmt"

	"github.com/sealbox/sealbox/internal/runtool"
)

// DeployISO writes a finished ISO's EFI and live trees onto freshly
// mounted dummy/EFI/live partitions, the step that turns a built image
// into a provisionable device: dummy carries the ISO's non-boot content
// (everything outside EFI/live), EFI carries its EFI System Partition
// tree, live carries the squashed live filesystem and its chunk-verified
// siblings under live/.
func DeployISO(ctx context.Context, runner runtool.Runner, isoPath, dummyMP, efiMP, liveMP string) error {
	if runner == nil {
		runner = runtool.Default
	}
	extractions := []struct {
		subtree string
		dest    string
	}{
		{"EFI", efiMP},
		{"live", liveMP},
	}
	for _, e := range extractions {
		if _, err := runner.Run(ctx, "7z", []string{"x", "-o" + e.dest, isoPath, e.subtree}, runtool.Options{}); err != nil {
			return fmt.Errorf("build: deploy iso: extract %s: %w", e.subtree, err)
		}
	}
	if _, err := runner.Run(ctx, "7z", []string{"x", "-o" + dummyMP, isoPath, "-x!EFI", "-x!live"}, runtool.Options{}); err != nil {
		return fmt.Errorf("build: deploy iso: extract dummy content: %w", err)
	}
	return nil
}
