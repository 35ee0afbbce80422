package cmdlogbuf

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/neeharmavuduru/cmdlog/record"
)

// ApplyFile replays the current log file from the start, redoing every
// complete record through redoer. A torn trailing record (incomplete header
// or body) is not an error: the file is logically truncated to the last
// complete record and the descriptor is positioned so the next write
// overwrites the torn tail. Hard errors (short read inside a complete
// region, oversize body, out-of-memory from the redoer) close the
// descriptor and are returned.
//
// The record handed to redoer reuses an internal buffer; implementations
// must copy anything they keep.
func (l *CmdLog) ApplyFile(redoer record.Redoer) error {
	f := &l.file
	if f.curr.fd == -1 {
		return fmt.Errorf("no command log file prepared")
	}

	klog.V(1).Infof("recovery: applying command log file %s", f.curr.path)

	size, err := diskFileSize(f.curr.fd)
	if err != nil {
		return fmt.Errorf("failed to stat command log file %s: %w", f.curr.path, err)
	}
	f.curr.size = uint64(size)
	if size == 0 {
		klog.V(1).Info("recovery: command log file is empty")
		return nil
	}

	var hdrBuf [record.HeaderSize]byte
	bodyBuf := make([]byte, record.MaxSize-record.HeaderSize)
	var seekOffset int64
	var applyErr error

	for l.initialized.Load() && seekOffset < size {
		if size-seekOffset < record.HeaderSize {
			klog.V(1).Infof("recovery: header of last command was not completely written (%d trailing bytes)",
				size-seekOffset)
			break
		}

		n, err := diskRead(f.curr.fd, hdrBuf[:])
		if n != record.HeaderSize {
			applyErr = fmt.Errorf("failed to read record header: %d != %d bytes (%v)",
				n, record.HeaderSize, err)
			break
		}
		seekOffset += int64(n)
		hdr := record.DecodeHeader(hdrBuf[:])

		if size-seekOffset < int64(hdr.BodyLength) {
			klog.V(1).Infof("recovery: body of last command was not completely written (body_length=%d)",
				hdr.BodyLength)
			// Step back over the header so the next append overwrites it.
			off, err := diskSeek(f.curr.fd, -int64(n), unix.SEEK_CUR)
			if err != nil {
				applyErr = fmt.Errorf("failed to seek back over torn record: %w", err)
				break
			}
			seekOffset = off
			break
		}

		if hdr.BodyLength > 0 {
			if int(hdr.BodyLength) > len(bodyBuf) {
				applyErr = fmt.Errorf("record body length %d exceeds maximum %d",
					hdr.BodyLength, len(bodyBuf))
				break
			}
			body := bodyBuf[:hdr.BodyLength]
			n, err = diskRead(f.curr.fd, body)
			if n != int(hdr.BodyLength) {
				applyErr = fmt.Errorf("failed to read record body: %d != %d bytes (%v)",
					n, hdr.BodyLength, err)
				break
			}
			seekOffset += int64(n)

			rec := &record.Record{Header: hdr, Body: body}
			if err := redoer.Redo(rec); err != nil {
				klog.Warningf("recovery: record redo failed: %v", err)
				if errors.Is(err, record.ErrNoMemory) {
					applyErr = fmt.Errorf("record redo: %w", err)
					break
				}
			}
		}
	}

	if applyErr != nil {
		_ = diskClose(f.curr.fd)
		f.curr.fd = -1
		return applyErr
	}
	f.curr.size = uint64(seekOffset)
	klog.V(1).Infof("recovery: command log applied, %d bytes", seekOffset)
	return nil
}
