package build

import (
	"fmt"
	"os"
	"path/filepath"
)

// PrintBuildSummary logs every artifact left in outputDir after a build,
// with a human-scannable size next to each — the operator-facing "what did
// this run actually produce" readout for a sealbox-build invocation.
func PrintBuildSummary(outputDir, buildID string) {
	log.Infof("checking for build artifacts in %s", outputDir)

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		log.Warnf("unable to read output directory %s: %v", outputDir, err)
		return
	}

	var artifacts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		artifacts = append(artifacts, e.Name())
	}

	if len(artifacts) == 0 {
		log.Warn("no artifacts found in output directory")
		return
	}

	log.Infof("build %s complete", buildID)
	for _, name := range artifacts {
		full := filepath.Join(outputDir, name)
		info, err := os.Stat(full)
		size := "unknown"
		if err == nil {
			size = humanSize(info.Size())
		}
		log.Infof("  %s (%s)", name, size)
	}
}

func humanSize(bytes int64) string {
	const mb = 1024 * 1024
	mbSize := float64(bytes) / mb
	if mbSize > 1024 {
		return fmt.Sprintf("%.2f GB", mbSize/1024)
	}
	return fmt.Sprintf("%.2f MB", mbSize)
}
