package snapshot

import (
	"fmt"
	"os"
	"sync"
)

// FileSet is the SnapshotFileSet (component C10 counterpart to Writer):
// random-access reads of already-completed snapshot files, keeping one
// open *os.File handle per snapshot id it has been asked to read from.
type FileSet struct {
	mu    sync.Mutex
	dir   string
	files map[uint32]*os.File
}

// NewFileSet constructs a FileSet rooted at dir. No files are opened
// until ReadPage first references a snapshot id.
func NewFileSet(dir string) *FileSet {
	return &FileSet{dir: dir, files: make(map[uint32]*os.File)}
}

// ReadPage reads the page at ptr, opening (and caching) its snapshot
// file's handle on first use.
func (fs *FileSet) ReadPage(ptr PagePointer) ([]byte, error) {
	if ptr.IsNull() {
		return nil, fmt.Errorf("snapshot: read of null page pointer")
	}
	f, err := fs.open(ptr.SnapshotID)
	if err != nil {
		return nil, err
	}
	return readPageAt(f, ptr.Offset)
}

func (fs *FileSet) open(snapshotID uint32) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f, ok := fs.files[snapshotID]; ok {
		return f, nil
	}
	f, err := os.Open(snapshotFileName(fs.dir, snapshotID))
	if err != nil {
		return nil, err
	}
	fs.files[snapshotID] = f
	return f, nil
}

// Close closes every file handle this set has opened.
func (fs *FileSet) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var firstErr error
	for id, f := range fs.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.files, id)
	}
	return firstErr
}
