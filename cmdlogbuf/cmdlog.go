// Package cmdlogbuf implements the in-memory staging buffer between
// transactional producers and the durable command log file.
//
// Producers append encoded records to a lock-partitioned byte ring at memory
// speed; a dedicated flusher goroutine drains the ring to the current log
// file in contiguous batches; SyncFile advances the durability watermark.
// During checkpoint-driven rotation the module runs a dual-write window in
// which records land in both the current and the next log file until the
// checkpoint commits and the files are swapped atomically.
package cmdlogbuf

import (
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"
)

// fatalf aborts the process. Write and fsync failures are unrecoverable for a
// write-ahead log: the watermarks already promised durability for bytes the
// kernel now refuses, so no error return can restore the contract.
var fatalf = klog.Fatalf

// CmdLog is the command log buffer module. One instance owns the ring, the
// flush-request queue, the current/next file pair and the three watermarks.
type CmdLog struct {
	cfg Config

	// Lock order: flushMu before writeMu. The LSN locks are leaves and may
	// be taken while holding either.
	writeMu    sync.Mutex // ring cursors, flush queue, nxtWriteLSN
	flushMu    sync.Mutex // drain steps and file-pair mutation
	flushLSNMu sync.Mutex
	fsyncLSNMu sync.Mutex

	buf  *logBuffer
	file logFile

	nxtWriteLSN LogSN
	nxtFlushLSN LogSN
	nxtFsyncLSN LogSN

	flusher flusher

	stats Statistics

	initialized atomic.Bool
}

// New allocates the log buffer and flush queue and initializes the module.
// No files are open until PrepareFile is called.
func New(cfg Config) (*CmdLog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &CmdLog{
		cfg: cfg,
		buf: newLogBuffer(cfg.BufferSize),
	}
	start := LogSN{FileNum: 1, Offset: 0}
	l.nxtWriteLSN = start
	l.nxtFlushLSN = start
	l.nxtFsyncLSN = start
	l.file.init()
	l.flusher.init()

	l.initialized.Store(true)
	klog.V(1).Infof("command log buffer initialized (buffer=%d bytes, fque=%d slots)",
		cfg.BufferSize, len(l.buf.fque))
	return l, nil
}

// Close tears the module down. The flusher must already be stopped and no
// rotation may be in progress; any bytes still buffered are discarded, so
// callers flush first.
func (l *CmdLog) Close() {
	if !l.initialized.CompareAndSwap(true, false) {
		return
	}
	l.file.final()
	l.buf = nil
	klog.V(1).Info("command log buffer destroyed")
}

// FlushLSN returns the flush watermark: every byte below it has been handed
// to the kernel.
func (l *CmdLog) FlushLSN() LogSN {
	l.flushLSNMu.Lock()
	lsn := l.nxtFlushLSN
	l.flushLSNMu.Unlock()
	return lsn
}

// FsyncLSN returns the durability watermark: every byte below it has been
// fsynced to the medium.
func (l *CmdLog) FsyncLSN() LogSN {
	l.fsyncLSNMu.Lock()
	lsn := l.nxtFsyncLSN
	l.fsyncLSNMu.Unlock()
	return lsn
}

// WriteLSN returns the position the next record will occupy.
func (l *CmdLog) WriteLSN() LogSN {
	l.writeMu.Lock()
	lsn := l.nxtWriteLSN
	l.writeMu.Unlock()
	return lsn
}
