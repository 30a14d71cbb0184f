package unlock

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/sealbox/sealbox/internal/sealerr"
)

// processLock is a named, advisory inter-process lock taken on a file under
// the run directory. It replaces the source's language-level singleton: the
// exclusivity it needs to enforce (at most one unlock in flight against a
// given device) has to hold across process boundaries, not just within one
// Go process, so a flock on a well-known path is the right primitive rather
// than a package-level instance pointer.
type processLock struct {
	file *os.File
}

// acquireProcessLock takes an exclusive, non-blocking flock on
// <runDir>/unlock.lock. A second acquisition while the first is held fails
// with sealerr.KindDeviceBusy rather than blocking, since a queued second
// unlock attempt would only race on the same mounts.
func acquireProcessLock(runDir string) (*processLock, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("unlock: create run dir: %w", err)
	}
	path := filepath.Join(runDir, "unlock.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unlock: open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, sealerr.New(sealerr.KindDeviceBusy, fmt.Errorf("unlock: another unlock is already in progress: %w", err))
	}
	return &processLock{file: f}, nil
}

func (l *processLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	if err != nil {
		return err
	}
	return closeErr
}
