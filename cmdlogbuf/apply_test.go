package cmdlogbuf

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neeharmavuduru/cmdlog/record"
)

type redone struct {
	LogType uint8
	Body    string
}

// collectRedoer copies every replayed record; the record body is only valid
// during the Redo call.
func collectRedoer(out *[]redone) record.Redoer {
	return record.RedoFunc(func(rec *record.Record) error {
		*out = append(*out, redone{
			LogType: rec.Header.LogType,
			Body:    string(rec.Body),
		})
		return nil
	})
}

// writeLogFile produces a log file through the module itself, then tears the
// module down so a fresh one can replay it.
func writeLogFile(t *testing.T, path string, bodies []string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BufferSize = 64 * 1024
	l, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, l.PrepareFile(path))
	for i, body := range bodies {
		rec, err := record.New(uint8(i%7), 0, []byte(body))
		require.NoError(t, err)
		l.WriteRecord(rec, nil, false)
	}
	l.FlushBuffer(l.WriteLSN())
	l.SyncFile()
	l.Close()
}

func TestApplyFileReplaysAllRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	bodies := []string{"update:a", "update:bb", "delete:c", "update:dddd"}
	writeLogFile(t, path, bodies)

	l, _ := newApplyLog(t, path)

	var got []redone
	require.NoError(t, l.ApplyFile(collectRedoer(&got)))

	want := make([]redone, len(bodies))
	var size uint64
	for i, b := range bodies {
		want[i] = redone{LogType: uint8(i % 7), Body: b}
		size += uint64(record.HeaderSize + len(b))
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("replayed records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, size, l.FileSize())
}

// newApplyLog builds a module and prepares an existing file for replay.
func newApplyLog(t *testing.T, path string) (*CmdLog, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BufferSize = 64 * 1024
	l, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, l.PrepareFile(path))
	t.Cleanup(l.Close)
	return l, path
}

func TestApplyFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	require.NoError(t, os.WriteFile(path, nil, 0o640))

	l, _ := newApplyLog(t, path)
	var got []redone
	require.NoError(t, l.ApplyFile(collectRedoer(&got)))
	assert.Empty(t, got)
}

func TestApplyFileTornHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	bodies := []string{"first-record", "second-record"}
	writeLogFile(t, path, bodies)

	// A crash left 3 bytes of a header behind.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xde, 0xad, 0xbe})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, _ := newApplyLog(t, path)
	var got []redone
	require.NoError(t, l.ApplyFile(collectRedoer(&got)))

	require.Len(t, got, 2)
	var size uint64
	for _, b := range bodies {
		size += uint64(record.HeaderSize + len(b))
	}
	assert.Equal(t, size, l.FileSize(), "size must exclude the torn tail")
}

func TestApplyFileTornBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	bodies := []string{"complete-record"}
	writeLogFile(t, path, bodies)

	// A full header promising 100 body bytes, but only 10 made it to disk.
	var hdr [record.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 100)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(hdr[:])
	require.NoError(t, err)
	_, err = f.Write(make([]byte, 10))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, _ := newApplyLog(t, path)
	var got []redone
	require.NoError(t, l.ApplyFile(collectRedoer(&got)))

	require.Len(t, got, 1)
	assert.Equal(t, "complete-record", got[0].Body)
	assert.Equal(t, uint64(record.HeaderSize+len(bodies[0])), l.FileSize())
}

func TestApplyFileOversizeBody(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")

	// A header claiming a body past the record size limit, with enough bytes
	// on disk that it cannot be mistaken for a torn tail.
	bogus := uint32(record.MaxSize - record.HeaderSize + 1)
	var hdr [record.HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], bogus)
	data := append(hdr[:], make([]byte, bogus)...)
	require.NoError(t, os.WriteFile(path, data, 0o640))

	cfg := DefaultConfig()
	cfg.BufferSize = 64 * 1024
	l, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	require.NoError(t, l.PrepareFile(path))

	var got []redone
	err = l.ApplyFile(collectRedoer(&got))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
	assert.Equal(t, -1, l.file.curr.fd, "descriptor must be closed on a hard error")
}

func TestApplyFileRedoOutOfMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	writeLogFile(t, path, []string{"a-record", "b-record"})

	l, _ := newApplyLog(t, path)
	err := l.ApplyFile(record.RedoFunc(func(rec *record.Record) error {
		return record.ErrNoMemory
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrNoMemory)
}

func TestApplyFileRedoErrorIsTolerated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	bodies := []string{"ok-record", "bad-record", "ok-record2"}
	writeLogFile(t, path, bodies)

	l, _ := newApplyLog(t, path)
	calls := 0
	err := l.ApplyFile(record.RedoFunc(func(rec *record.Record) error {
		calls++
		if string(rec.Body) == "bad-record" {
			return errors.New("constraint violated")
		}
		return nil
	}))
	require.NoError(t, err, "a non-fatal redo failure must not stop replay")
	assert.Equal(t, 3, calls)
}

func TestApplyThenAppendOverwritesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cmdlog")
	writeLogFile(t, path, []string{"keep-mee"})

	// Torn header at the tail.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l, _ := newApplyLog(t, path)
	var got []redone
	require.NoError(t, l.ApplyFile(collectRedoer(&got)))
	require.Len(t, got, 1)

	// New records append at the logical end; replaying again must see the
	// old record followed by the new one, with the torn bytes gone.
	rec, err := record.New(9, 0, []byte("after-recovery"))
	require.NoError(t, err)
	l.WriteRecord(rec, nil, false)
	l.FlushBuffer(l.WriteLSN())
	l.SyncFile()
	l.StopFlushThread()
	l.Close()

	l2, _ := newApplyLog(t, path)
	var got2 []redone
	require.NoError(t, l2.ApplyFile(collectRedoer(&got2)))
	want := []redone{
		{LogType: 0, Body: "keep-mee"},
		{LogType: 9, Body: "after-recovery"},
	}
	if diff := cmp.Diff(want, got2); diff != "" {
		t.Fatalf("replay after append mismatch (-want +got):\n%s", diff)
	}
}
