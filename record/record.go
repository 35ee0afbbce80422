// Package record defines the on-disk command log record format shared by the
// log buffer and recovery.
//
// A record is an 8-byte header followed by an opaque body. The buffer core
// only reads Header.BodyLength; everything else belongs to the log producers
// and the redo machinery.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed encoded size of a record header.
	HeaderSize = 8

	// MinSize is the smallest legal encoded record (8-byte header + 8-byte body).
	MinSize = 16

	// MaxSize is the largest legal encoded record.
	MaxSize = 1 * 1024 * 1024
)

// ErrNoMemory is returned by a Redoer when it cannot allocate the state a
// record requires. Recovery treats it as unrecoverable.
var ErrNoMemory = errors.New("record: out of memory")

// ErrTooLarge is returned when a record's encoded size exceeds MaxSize.
var ErrTooLarge = errors.New("record: body length exceeds maximum record size")

// Header is the leading 8 bytes of every record.
// Layout: body length (4 bytes, little-endian), log type, update type,
// 2 reserved bytes.
type Header struct {
	BodyLength uint32
	LogType    uint8
	UpdType    uint8
}

// Record is a decoded command log record.
type Record struct {
	Header Header
	Body   []byte
}

// TotalSize returns the encoded size of the record: header plus body.
func (r *Record) TotalSize() int {
	return HeaderSize + int(r.Header.BodyLength)
}

// WriteToBuffer encodes the record into dst, which must hold TotalSize bytes.
func (r *Record) WriteToBuffer(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], r.Header.BodyLength)
	dst[4] = r.Header.LogType
	dst[5] = r.Header.UpdType
	dst[6] = 0
	dst[7] = 0
	copy(dst[HeaderSize:HeaderSize+int(r.Header.BodyLength)], r.Body)
}

// DecodeHeader decodes a header from the first HeaderSize bytes of b.
func DecodeHeader(b []byte) Header {
	return Header{
		BodyLength: binary.LittleEndian.Uint32(b[0:4]),
		LogType:    b[4],
		UpdType:    b[5],
	}
}

// New builds a record around body. The body is referenced, not copied.
func New(logType, updType uint8, body []byte) (*Record, error) {
	if HeaderSize+len(body) > MaxSize {
		return nil, fmt.Errorf("%w: body %d bytes", ErrTooLarge, len(body))
	}
	return &Record{
		Header: Header{
			BodyLength: uint32(len(body)),
			LogType:    logType,
			UpdType:    updType,
		},
		Body: body,
	}, nil
}

// Redoer applies a record's effect during recovery replay.
type Redoer interface {
	Redo(rec *Record) error
}

// RedoFunc adapts a function to the Redoer interface.
type RedoFunc func(rec *Record) error

// Redo calls f.
func (f RedoFunc) Redo(rec *Record) error { return f(rec) }
