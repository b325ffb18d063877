package ptex

import (
	"log"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockFile implements the writer lock protocol of spec.md section 6: an
// advisory, process-exclusive write lock on "<output>.lock" guarding the
// temp-spool-then-rename sequence in writer.go, so two writer processes
// targeting the same output path serialize instead of corrupting each
// other's `.new` file.
type lockFile struct {
	path string
	f    *os.File
}

// lockRetryInterval is how often acquireLock logs a diagnostic and
// re-enters the blocking wait while contended, mirroring the original's
// 60-second SIGALRM-driven retry loop (spec.md section 6): the lock
// itself is never abandoned, only the wait is periodically interrupted
// so a caller's process doesn't look hung.
const lockRetryInterval = 60 * time.Second

// acquireLock creates-or-opens path and blocks until an exclusive
// fcntl(F_SETLKW) lock is acquired, re-verifying the file's identity
// (device + inode; ctime is not compared) immediately after acquisition
// to detect a racing unlink+recreate by another process that finished
// first.
func acquireLock(path string) (*lockFile, error) {
	for {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, wrapError(KindWriterLockFailed, path, err, "open lock file")
		}
		if err := lockBlocking(f, path); err != nil {
			f.Close()
			return nil, err
		}
		stillSame, err := sameFile(f, path)
		if err != nil {
			f.Close()
			return nil, wrapError(KindWriterLockFailed, path, err, "stat lock file")
		}
		if stillSame {
			return &lockFile{path: path, f: f}, nil
		}
		// Another writer unlinked-and-recreated this path between our
		// open and our lock acquisition; start over against the new file.
		f.Close()
	}
}

// lockBlocking waits for an exclusive lock, periodically logging a
// diagnostic and re-entering the wait rather than giving up, matching
// "Lost locks after timeout simply re-try with a diagnostic message."
func lockBlocking(f *os.File, path string) error {
	done := make(chan error, 1)
	go func() { done <- unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &unix.Flock_t{Type: unix.F_WRLCK, Whence: 0, Start: 0, Len: 0}) }()
	for {
		select {
		case err := <-done:
			if err != nil {
				return wrapError(KindWriterLockFailed, path, err, "fcntl F_SETLKW")
			}
			return nil
		case <-time.After(lockRetryInterval):
			log.Printf("ptex: still waiting on lock %s after %s, retrying", path, lockRetryInterval)
			// loop back around and keep waiting on the same in-flight
			// F_SETLKW rather than starting a second one.
		}
	}
}

// sameFile reports whether f (already opened) still refers to the file
// currently named path, by comparing device+inode to a fresh Stat of the
// path. ctime is neither recorded nor compared, so an in-place rewrite
// of the same inode is not detected; device+inode covers the
// unlink+recreate race.
func sameFile(f *os.File, path string) (bool, error) {
	fi1, err := f.Stat()
	if err != nil {
		return false, err
	}
	fi2, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return os.SameFile(fi1, fi2), nil
}

// release unlocks the file, then attempts a non-blocking re-acquire: if
// that succeeds, no other process is waiting and the lock file is
// unlinked; otherwise it is left in place for the next waiter.
func (l *lockFile) release() error {
	defer l.f.Close()
	unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &unix.Flock_t{Type: unix.F_UNLCK})
	err := unix.FcntlFlock(l.f.Fd(), unix.F_SETLK, &unix.Flock_t{Type: unix.F_WRLCK})
	if err == nil {
		os.Remove(l.path)
		return nil
	}
	return nil // contended: leave the lock file for the next waiter
}
