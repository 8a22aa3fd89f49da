package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LockFile is created in the activation directory while a batch runs. The
// leading dot keeps it out of the link table.
const LockFile = ".paddisense.lock"

// ErrLocked is returned when another process holds the batch lock.
var ErrLocked = errors.New("activation directory is locked by another batch")

// Lock is an exclusive cross-process batch lock.
type Lock struct {
	path string
}

// AcquireLock creates the lock file in dir and fails fast if it exists.
// The file records the holder's pid and batch id for operators.
func AcquireLock(dir, batchID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create activation dir: %w", err)
	}
	path := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			holder, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, strings.TrimSpace(string(holder)))
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	_, werr := fmt.Fprintf(f, "pid=%d batch=%s since=%s\n", os.Getpid(), batchID, time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	return &Lock{path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. Releasing twice is harmless.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
