package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// acquireDirLock takes an exclusive advisory lock on the chain directory.
// The in-process append mutex only serializes one Store; this keeps a
// second process (e.g. a CLI append while the server runs) from reading
// the same tail and forking the chain. Released when the file is closed.
func acquireDirLock(dir string) (*os.File, error) {
	path := filepath.Join(dir, "chain.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening chain lock %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("chain directory %s is locked by another writer: %w", dir, err)
	}
	return f, nil
}

// releaseLock drops the writer lock, if held.
func (s *Store) releaseLock() {
	if s.lock != nil {
		s.lock.Close()
		s.lock = nil
	}
}
