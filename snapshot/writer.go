package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Writer is the snapshot writer (component C10): sequential, append-only
// output of composed pages to one snapshot's file. Every page is written
// once, length-prefixed, and never rewritten in place - grounded on the
// pack's own binary-export idiom (a bufio.Writer over a length-prefixed
// record stream, see okian-lfdb's db.ExportBinary) generalized from
// key/value pairs to opaque page payloads.
type Writer struct {
	mu         sync.Mutex
	f          *os.File
	buf        *bufio.Writer
	snapshotID uint32
	offset     int64
}

func snapshotFileName(dir string, snapshotID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot_%d.dat", snapshotID))
}

// NewWriter creates (or truncates) the snapshot file for snapshotID in dir.
func NewWriter(dir string, snapshotID uint32) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(snapshotFileName(dir, snapshotID))
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, buf: bufio.NewWriter(f), snapshotID: snapshotID}, nil
}

// WritePage appends payload as a new page, returning the pointer at which
// it can later be read back (by this writer's FileSet, or a later run's).
func (w *Writer) WritePage(payload []byte) (PagePointer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ptr := PagePointer{SnapshotID: w.snapshotID, Offset: w.offset}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	n1, err := w.buf.Write(lenBuf[:])
	if err != nil {
		return PagePointer{}, err
	}
	n2, err := w.buf.Write(payload)
	if err != nil {
		return PagePointer{}, err
	}
	w.offset += int64(n1 + n2)
	return ptr, nil
}

// Flush pushes buffered writes to the underlying file without closing it.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the snapshot file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// readPageAt does a random-access read of one length-prefixed page from
// an already-open file, independent of the Writer's own append cursor -
// this is what backs FileSet's cross-run reads of a prior snapshot.
func readPageAt(f *os.File, offset int64) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := f.ReadAt(lenBuf[:], offset); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, size)
	if _, err := f.ReadAt(payload, offset+4); err != nil && err != io.EOF {
		return nil, err
	}
	return payload, nil
}
