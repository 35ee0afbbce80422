package cmdlogbuf

const (
	// DefaultBufferSize is the default size of the in-memory log buffer.
	DefaultBufferSize = 100 * 1024 * 1024

	// flushAutoSize is the fill level at which an open flush-request slot is
	// sealed and handed to the flusher. Must fit in flushReq.nflush.
	flushAutoSize = 32 * 1024

	// recordMinSize sizes the flush-request queue: worst case is one slot per
	// record, so size/recordMinSize slots can never fill up.
	recordMinSize = 16
)

// flushReq describes one physically contiguous run of buffered bytes to be
// written out in a single call.
type flushReq struct {
	nflush    uint16
	dualWrite bool
}

// logBuffer is the byte ring plus the parallel ring of flush-request slots.
// All cursors are guarded by the module's write lock.
//
// Ring layout: when last == -1 the live bytes are [head, tail). After a wrap,
// last marks the end of the older segment and the live bytes are
// [head, last) followed by [0, tail), with head > tail. A record never spans
// the wrap point. head == tail with last == -1 means empty; the ring has no
// full state because producers drain it before overrunning head.
type logBuffer struct {
	data []byte
	size int
	head int
	tail int
	last int

	fque  []flushReq
	fbgn  int // next slot the flusher drains
	fend  int // open slot accumulating appends
	dwEnd int // slot ending the dual-write window, -1 when inactive
}

func newLogBuffer(size int) *logBuffer {
	return &logBuffer{
		data:  make([]byte, size),
		size:  size,
		last:  -1,
		fque:  make([]flushReq, size/recordMinSize),
		dwEnd: -1,
	}
}

// sealSlot closes the open flush-request slot by advancing fend.
func (b *logBuffer) sealSlot() {
	b.fend++
	if b.fend == len(b.fque) {
		b.fend = 0
	}
}

// clearDrained resets the drained slot at fbgn and advances the cursor.
func (b *logBuffer) clearDrained() {
	b.fque[b.fbgn] = flushReq{}
	b.fbgn++
	if b.fbgn == len(b.fque) {
		b.fbgn = 0
	}
}

// unwrapIfDrained folds the ring back to the non-wrapped form once the whole
// older segment has been flushed.
func (b *logBuffer) unwrapIfDrained() {
	if b.head == b.last {
		b.last = -1
		b.head = 0
	}
}
