package cmdlogbuf

import (
	"fmt"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// fileSlot holds one open log file. fd == -1 means the slot is empty.
// fsyncOngoing is set while SyncFile works on the descriptor outside the
// flush lock; whoever retires the slot during that window leaves the close
// to the fsync completion path.
type fileSlot struct {
	fd           int
	path         string
	fsyncOngoing bool
	size         uint64
}

func (s *fileSlot) set(fd int, path string) {
	s.fd = fd
	s.path = path
	s.fsyncOngoing = false
	s.size = 0
}

func (s *fileSlot) clear() {
	s.set(-1, "")
}

// logFile is the current/next file pair. next is populated only while a
// dual-write window is open. Guarded by the flush lock.
type logFile struct {
	curr fileSlot
	next fileSlot
}

func (f *logFile) init() {
	f.curr.clear()
	f.next.clear()
}

// final fsyncs and closes the current file at teardown. Rotation must not be
// in progress.
func (f *logFile) final() {
	if f.next.fd != -1 {
		fatalf("command log teardown with rotation in progress (next fd %d)", f.next.fd)
	}
	if f.curr.fd != -1 {
		_ = diskFsync(f.curr.fd)
		_ = diskClose(f.curr.fd)
		f.curr.fd = -1
	}
}

// writeBatch appends one contiguous run to the current file, and to the next
// file as well when dualWrite is set. Any failure to land the full run is
// fatal: the flush watermark is about to claim these bytes.
func (l *CmdLog) writeBatch(p []byte, dualWrite bool) {
	f := &l.file
	if f.curr.fd == -1 {
		fatalf("command log write with no current log file")
	}

	n, err := diskWrite(f.curr.fd, p)
	if n != len(p) {
		fatalf("command log file(%s) write failed: %d != %d bytes (%v)", f.curr.path, n, len(p), err)
	}
	f.curr.size += uint64(n)

	if dualWrite && f.next.fd != -1 {
		// next fd stays valid here: the flush lock is held.
		n, err = diskWrite(f.next.fd, p)
		if n != len(p) {
			fatalf("command log file(%s) write failed: %d != %d bytes (%v)", f.next.path, n, len(p), err)
		}
		f.next.size += uint64(n)
	}
}

// PrepareFile opens (creating if needed) a log file. The first call installs
// the current file; while a current file exists, the new file becomes the
// next file and opens a dual-write window for the checkpoint in progress.
func (l *CmdLog) PrepareFile(path string) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	fd, err := diskOpen(path, unix.O_CREAT|unix.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("failed to open command log file %s: %w", path, err)
	}
	if l.file.curr.fd == -1 {
		l.file.curr.set(fd, path)
	} else {
		l.file.next.set(fd, path)
	}
	return nil
}

// CompleteDualWrite closes the dual-write window. On success the next file
// becomes current, the write watermark moves to the new file, and the old
// descriptor is retired. On failure the next file is retired and the flush
// queue's dual-write flags are cleared so the flusher never touches it.
// A no-op when no rotation is in progress.
func (l *CmdLog) CompleteDualWrite(success bool) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	if l.file.next.fd == -1 {
		// First file created by checkpoint; nothing to swap or retire.
		return
	}

	var prev fileSlot
	if success {
		l.writeMu.Lock()
		if l.buf.fque[l.buf.fend].nflush > 0 {
			l.buf.sealSlot()
		}
		if l.buf.dwEnd != -1 {
			fatalf("dual-write completion with a window already pending (dw_end=%d)", l.buf.dwEnd)
		}
		l.buf.dwEnd = l.buf.fend

		l.nxtWriteLSN.FileNum++
		l.nxtWriteLSN.Offset = 0
		l.writeMu.Unlock()

		prev = l.file.curr
		l.file.curr = l.file.next
		l.file.next.clear()
		l.stats.Rotations.Add(1)
		klog.V(1).Infof("command log rotated to %s", l.file.curr.path)
	} else {
		l.writeMu.Lock()
		idx := l.buf.fbgn
		for l.buf.fque[idx].nflush > 0 {
			l.buf.fque[idx].dualWrite = false
			idx++
			if idx == len(l.buf.fque) {
				idx = 0
			}
		}
		l.writeMu.Unlock()

		prev = l.file.next
		l.file.next.clear()
		klog.V(1).Infof("command log rotation aborted, retiring %s", prev.path)
	}

	if prev.fd != -1 && !prev.fsyncOngoing {
		l.retireFile(prev.fd, prev.path)
	}
	// else: SyncFile still owns the descriptor and closes it on completion.
}

// retireFile closes a descriptor that left the file pair for good and
// notifies the retired-file channel, if configured. Never blocks.
func (l *CmdLog) retireFile(fd int, path string) {
	_ = diskClose(fd)
	if l.cfg.RetiredFiles == nil || path == "" {
		return
	}
	select {
	case l.cfg.RetiredFiles <- path:
	default:
		klog.Warningf("retired-file channel full, dropping %s", path)
	}
}

// FileSize returns the current log file's written size, or 0 while a
// dual-write window is still draining; the checkpoint controller treats 0 as
// "sizes are in flux, ask again".
func (l *CmdLog) FileSize() uint64 {
	l.flushMu.Lock()
	l.writeMu.Lock()
	var size uint64
	if l.buf.dwEnd == -1 {
		size = l.file.curr.size
	}
	l.writeMu.Unlock()
	l.flushMu.Unlock()
	return size
}

// SyncFile fsyncs the current file (and the next file during a dual-write
// window) and advances the durability watermark to the flush watermark
// captured before the fsync. The fsync itself runs without the flush lock so
// producers and the flusher keep moving; if a rotation retires a descriptor
// while its fsync is in flight, the close happens here afterwards.
func (l *CmdLog) SyncFile() {
	l.flushMu.Lock()
	nowFlushLSN := l.FlushLSN()
	fd := l.file.curr.fd
	fdPath := l.file.curr.path
	nextFd := l.file.next.fd
	nextPath := l.file.next.path
	l.file.curr.fsyncOngoing = true
	if nextFd != -1 {
		l.file.next.fsyncOngoing = true
	}
	l.flushMu.Unlock()

	if fd == -1 {
		fatalf("command log fsync with no current log file")
	}

	l.syncFd(fd)
	if nextFd != -1 {
		l.syncFd(nextFd)
	}

	l.fsyncLSNMu.Lock()
	l.nxtFsyncLSN = nowFlushLSN
	l.fsyncLSNMu.Unlock()

	l.flushMu.Lock()
	if fd == l.file.curr.fd {
		l.file.curr.fsyncOngoing = false
	} else {
		// Rotated away mid-fsync; the descriptor is ours to close now.
		l.retireFile(fd, fdPath)
	}
	if nextFd != -1 {
		if nextFd == l.file.curr.fd {
			// The swap promoted next to current while we were syncing.
			l.file.curr.fsyncOngoing = false
		} else if nextFd == l.file.next.fd {
			l.file.next.fsyncOngoing = false
		} else {
			l.retireFile(nextFd, nextPath)
		}
	}
	l.flushMu.Unlock()

	l.stats.Fsyncs.Add(1)
}

func (l *CmdLog) syncFd(fd int) {
	if err := diskFsync(fd); err != nil {
		fatalf("command log fsync failed: %v", err)
	}
}
