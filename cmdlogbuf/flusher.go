package cmdlogbuf

import (
	"errors"
	"sync/atomic"
	"time"

	"k8s.io/klog/v2"
)

const (
	flusherUnstarted int32 = iota
	flusherStarted
	flusherStopped
)

// startStopPollInterval paces the start/stop handshakes with the flusher
// goroutine.
const startStopPollInterval = 5 * time.Millisecond

// flusher is the background drain goroutine's shared state. Producers signal
// it through the buffered wake channel; the sleeping flag keeps the signal
// path quiet while the flusher is busy draining anyway.
type flusher struct {
	wake     chan struct{}
	sleeping atomic.Bool
	running  atomic.Int32
	reqStop  atomic.Bool
}

func (f *flusher) init() {
	f.wake = make(chan struct{}, 1)
}

// wakeup nudges the flusher without ever blocking; a pending signal is
// enough, extras are dropped.
func (f *flusher) wakeup() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// StartFlushThread launches the background flusher and waits until it runs.
func (l *CmdLog) StartFlushThread() error {
	if !l.initialized.Load() {
		return errors.New("command log buffer not initialized")
	}
	f := &l.flusher
	f.running.Store(flusherUnstarted)
	f.reqStop.Store(false)
	go l.flushThreadMain()

	for f.running.Load() == flusherUnstarted {
		time.Sleep(startStopPollInterval)
	}
	klog.V(1).Info("command log flush thread started")
	return nil
}

// StopFlushThread asks the flusher to exit and waits until it has.
func (l *CmdLog) StopFlushThread() {
	f := &l.flusher
	if f.running.Load() == flusherUnstarted {
		return
	}
	for f.running.Load() == flusherStarted {
		f.reqStop.Store(true)
		f.wakeup()
		time.Sleep(startStopPollInterval)
	}
	klog.V(1).Info("command log flush thread stopped")
}

func (l *CmdLog) flushThreadMain() {
	f := &l.flusher
	f.running.Store(flusherStarted)
	for {
		if f.reqStop.Load() {
			klog.V(2).Info("command log flush thread recognized stop request")
			break
		}

		l.flushMu.Lock()
		nflush := l.flushStep(false)
		l.flushMu.Unlock()

		if nflush == 0 {
			// Nothing to drain; sleep until a producer signals or the idle
			// timeout fires.
			f.sleeping.Store(true)
			timer := time.NewTimer(l.cfg.FlushIdleTimeout)
			select {
			case <-f.wake:
				timer.Stop()
			case <-timer.C:
			}
			f.sleeping.Store(false)
		}
	}
	f.running.Store(flusherStopped)
}
