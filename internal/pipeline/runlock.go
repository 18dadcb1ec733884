package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/spigell/jobpipe/internal/domain"
)

const runLockName = "pipeline.lock"

// ErrAlreadyRunning is returned when another process holds the run lock.
var ErrAlreadyRunning = fmt.Errorf("%w: another jobpipe process is running", domain.ErrConflict)

// AcquireRunLock takes the process-wide lock in dataDir without waiting.
// The returned func releases it.
func AcquireRunLock(dataDir string) (func() error, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %q: %w", dataDir, err)
	}

	fl := flock.New(filepath.Join(dataDir, runLockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", fl.Path(), err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock file %s)", ErrAlreadyRunning, fl.Path())
	}
	return fl.Unlock, nil
}
