package cmdlogbuf

// flushStep drains at most one flush-request slot to disk and returns the
// number of bytes written. The flush lock must be held. With flushAll set,
// the open (unsealed) slot is sealed and drained too when the queue is
// otherwise empty.
func (l *CmdLog) flushStep(flushAll bool) int {
	buf := l.buf
	nflush := 0
	dualWrite := false
	bumpFileNum := false
	cleanup := false

	l.writeMu.Lock()
	if buf.fbgn == buf.dwEnd {
		// The dual-write tail is fully drained; the flush stream moves to
		// the new file from here on, starting with the slot drained below.
		buf.dwEnd = -1
		bumpFileNum = true
	}
	if buf.dwEnd != -1 {
		cleanup = true
	}
	if buf.fbgn != buf.fend {
		nflush = int(buf.fque[buf.fbgn].nflush)
		dualWrite = buf.fque[buf.fbgn].dualWrite
		if nflush == 0 {
			fatalf("sealed flush slot %d is empty", buf.fbgn)
		}
	} else if flushAll && buf.fque[buf.fend].nflush > 0 {
		nflush = int(buf.fque[buf.fend].nflush)
		dualWrite = buf.fque[buf.fend].dualWrite
		buf.sealSlot()
	}
	if nflush > 0 {
		buf.unwrapIfDrained()
	}
	l.writeMu.Unlock()

	if bumpFileNum {
		l.flushLSNMu.Lock()
		l.nxtFlushLSN.FileNum++
		l.nxtFlushLSN.Offset = 0
		l.flushLSNMu.Unlock()
	}

	if nflush > 0 {
		run := buf.data[buf.head : buf.head+nflush]
		if cleanup {
			// The window has closed and the file pair already swapped.
			// Dual-tagged bytes belong in the new file (now current); bytes
			// tagged for the retired file alone are obsolete past the
			// checkpoint and are skipped.
			if dualWrite {
				l.writeBatch(run, false)
			}
		} else {
			l.writeBatch(run, dualWrite)
		}

		l.flushLSNMu.Lock()
		l.nxtFlushLSN.Offset += uint64(nflush)
		l.flushLSNMu.Unlock()

		l.writeMu.Lock()
		buf.head += nflush
		buf.unwrapIfDrained()
		buf.clearDrained()
		l.writeMu.Unlock()

		l.stats.BytesFlushed.Add(int64(nflush))
		l.stats.Flushes.Add(1)
	}
	return nflush
}

// FlushBuffer drains the buffer until every byte at or below upto has been
// handed to the kernel. Safe to call concurrently with producers and the
// background flusher.
func (l *CmdLog) FlushBuffer(upto LogSN) {
	for {
		nflush := 0
		l.flushMu.Lock()
		if l.FlushLSN().LessEq(upto) {
			nflush = l.flushStep(true)
			if l.FlushLSN().Greater(upto) {
				nflush = 0
			}
		}
		l.flushMu.Unlock()
		if nflush == 0 {
			return
		}
	}
}
