package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// IndexLock is an advisory lock file next to the index directory. It is
// created with O_EXCL so only one holder can exist per path.
type IndexLock struct {
	path string
}

func LockPath(indexPath string) string {
	return filepath.Clean(indexPath) + ".lock"
}

// AcquireIndexLock fails with ErrIngestionLocked if the lock file exists and
// its holder is still running. A lock left behind by a dead process on this
// host is removed and taken over.
func AcquireIndexLock(indexPath string) (*IndexLock, error) {
	path := LockPath(indexPath)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock, holder, err := createLock(path)
	if holder != "" && staleLock(holder) {
		// only remove what we inspected; another run may have taken over
		if current, _ := os.ReadFile(path); string(current) == holder {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove stale lock: %w", err)
			}
		}
		lock, holder, err = createLock(path)
	}
	if holder != "" {
		return nil, fmt.Errorf("%w: %s (%s)", ErrIngestionLocked, path, holder)
	}
	return lock, err
}

// createLock returns the current holder's stamp when the file already exists.
func createLock(path string) (*IndexLock, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(path)
		if len(holder) == 0 {
			holder = []byte("unknown holder")
		}
		return nil, string(holder), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("create lock: %w", err)
	}

	stamp := "pid " + strconv.Itoa(os.Getpid()) + " since " + time.Now().UTC().Format(time.RFC3339)
	_, werr := f.WriteString(stamp)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, "", fmt.Errorf("write lock: %w", errors.Join(werr, cerr))
	}

	return &IndexLock{path: path}, "", nil
}

// staleLock reports whether the stamp names a process that no longer runs.
// Unparseable stamps are never stale.
func staleLock(holder string) bool {
	fields := strings.Fields(holder)
	if len(fields) < 2 || fields[0] != "pid" {
		return false
	}
	pid, err := strconv.Atoi(fields[1])
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}
	return !processAlive(pid)
}

func (l *IndexLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
