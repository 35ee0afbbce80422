package cmdlogbuf

import "sync/atomic"

// Statistics holds operational counters for the log buffer
type Statistics struct {
	RecordsWritten atomic.Int64 // Records accepted into the buffer
	BytesBuffered  atomic.Int64 // Encoded bytes copied into the ring
	BytesFlushed   atomic.Int64 // Bytes drained from the ring, including runs skipped during post-rotation cleanup
	Flushes        atomic.Int64 // Drain steps that drained at least one byte
	Fsyncs         atomic.Int64 // SyncFile calls completed
	Rotations      atomic.Int64 // Dual-write windows committed
	ProducerStalls atomic.Int64 // Space-search retries forced by a full ring
	FlusherWakeups atomic.Int64 // Producer wakeup signals sent to a sleeping flusher (extras are dropped)
}

// StatsSnapshot is a point-in-time copy of Statistics
type StatsSnapshot struct {
	RecordsWritten int64
	BytesBuffered  int64
	BytesFlushed   int64
	Flushes        int64
	Fsyncs         int64
	Rotations      int64
	ProducerStalls int64
	FlusherWakeups int64
}

// GetStatsSnapshot returns current statistics values
func (l *CmdLog) GetStatsSnapshot() StatsSnapshot {
	return StatsSnapshot{
		RecordsWritten: l.stats.RecordsWritten.Load(),
		BytesBuffered:  l.stats.BytesBuffered.Load(),
		BytesFlushed:   l.stats.BytesFlushed.Load(),
		Flushes:        l.stats.Flushes.Load(),
		Fsyncs:         l.stats.Fsyncs.Load(),
		Rotations:      l.stats.Rotations.Load(),
		ProducerStalls: l.stats.ProducerStalls.Load(),
		FlusherWakeups: l.stats.FlusherWakeups.Load(),
	}
}
