package cmdlogbuf

import (
	"github.com/neeharmavuduru/cmdlog/record"
)

// Waiter carries the LSN assigned to a record back to the producer, so it can
// later wait on the flush or fsync watermark passing that position.
type Waiter struct {
	LSN LogSN
}

// WriteRecord copies the encoded record into the log buffer and registers it
// with the flush queue. It never fails: when the ring is out of space the
// producer drives drain steps itself until the record fits. The record's
// position is stamped into waiter (if non-nil) before any other producer can
// slip in. dualWrite tags the record for the open rotation window.
func (l *CmdLog) WriteRecord(rec *record.Record, waiter *Waiter, dualWrite bool) {
	buf := l.buf
	total := rec.TotalSize()
	if total >= buf.size {
		fatalf("command log record of %d bytes cannot fit the %d byte buffer", total, buf.size)
	}

	l.writeMu.Lock()

	if waiter != nil {
		waiter.LSN = l.nxtWriteLSN
	}

	// Find the position to write. head == tail means empty; the ring has no
	// full state, so this loop always terminates once enough data drains.
	for {
		if buf.head <= buf.tail {
			if total < buf.size-buf.tail {
				break
			}
			if buf.head > 0 {
				// Wrap. Seal the open flush slot first so every queued run
				// stays physically contiguous.
				buf.last = buf.tail
				buf.tail = 0
				if buf.fque[buf.fend].nflush > 0 {
					buf.sealSlot()
				}
				if total < buf.head {
					break
				}
			}
		} else { // wrapped: head > tail
			if total < buf.head-buf.tail {
				break
			}
		}
		// Out of space: drop the write lock and drive one drain step.
		l.stats.ProducerStalls.Add(1)
		l.writeMu.Unlock()
		l.flushMu.Lock()
		l.flushStep(false)
		l.flushMu.Unlock()
		l.writeMu.Lock()
	}

	rec.WriteToBuffer(buf.data[buf.tail : buf.tail+total])
	buf.tail += total

	l.nxtWriteLSN.Offset += uint64(total)

	// Register the bytes with the flush queue. A slot never mixes records
	// with different dual-write tags, and seals at the auto-flush size, so a
	// big record may span several slots.
	if buf.fque[buf.fend].nflush > 0 && buf.fque[buf.fend].dualWrite != dualWrite {
		buf.sealSlot()
	}
	remaining := total
	for remaining > 0 {
		spare := flushAutoSize - int(buf.fque[buf.fend].nflush)
		if spare > remaining {
			spare = remaining
		}
		buf.fque[buf.fend].nflush += uint16(spare)
		buf.fque[buf.fend].dualWrite = dualWrite
		if int(buf.fque[buf.fend].nflush) == flushAutoSize {
			buf.sealSlot()
		}
		remaining -= spare
	}

	pending := buf.fbgn != buf.fend
	l.writeMu.Unlock()

	l.stats.RecordsWritten.Add(1)
	l.stats.BytesBuffered.Add(int64(total))

	if pending && l.flusher.sleeping.Load() {
		l.flusher.wakeup()
		l.stats.FlusherWakeups.Add(1)
	}
}
