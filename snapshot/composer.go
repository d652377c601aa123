package snapshot

import (
	"encoding/binary"

	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/storage"
	"github.com/sirupsen/logrus"
)

// LogRecord is one log entry handed to Compose: the raw record payload
// plus the epoch it committed in, already grouped by storage and
// partition by the mapper stage. Records are not sorted by key.
type LogRecord struct {
	CommitEpoch epoch.Epoch
	Payload     []byte
}

// RootInfo is compose()'s output for one storage/partition: the ordered
// list of page pointers a later construct_root() call folds into that
// storage's new root page.
type RootInfo struct {
	StorageID storage.StorageID
	Pages     []PagePointer
}

// DropResult is drop_volatiles()'s return value: the highest commit
// epoch observed among the records inspected (never lower than
// ValidUntilEpoch, which it stays at when nothing newer was found), and
// whether every one of
// them was safely captured by the snapshot (i.e. nothing newer than
// ValidUntilEpoch was found).
type DropResult struct {
	MaxObserved epoch.Epoch
	DroppedAll  bool
}

func newDropResult(validUntil epoch.Epoch) DropResult {
	return DropResult{MaxObserved: validUntil, DroppedAll: true}
}

func (d *DropResult) observe(e epoch.Epoch, validUntil epoch.Epoch) {
	if e.IsValid() && e.After(validUntil) {
		d.DroppedAll = false
		if e.After(d.MaxObserved) {
			d.MaxObserved = e
		}
	}
}

// Combine merges another partition's DropResult into d, as the gleaner
// does across every composer that ran drop_volatiles for one storage.
func (d *DropResult) Combine(other DropResult) {
	d.DroppedAll = d.DroppedAll && other.DroppedAll
	if other.MaxObserved.After(d.MaxObserved) {
		d.MaxObserved = other.MaxObserved
	}
}

// Composer merges a storage's previous snapshot with a run of log records
// into a new generation of pages (component C9), grounded on
// foedus::storage::Composer: one Composer instance is responsible for
// exactly one (storage, partition, snapshot) triple.
//
// The original's compose()/construct_root() operate on a multi-level
// page tree per storage type; this rewrite composes each storage's
// records into a flat run of fixed-size pages (one WritePage call per
// batch of records), which is enough to exercise the writer/file-set
// round trip and the root-info aggregation step without reimplementing
// every storage type's internal page layout - see DESIGN.md.
type Composer struct {
	storageID storage.StorageID
	pageSize  int
	log       *logrus.Entry

	// prevFiles, when set, lets Compose read back the previous
	// generation's pages and fold them into the new one, so a storage's
	// full content survives across gleaning rounds rather than only
	// whatever happened to still be sitting in a log buffer.
	prevFiles *FileSet
}

// NewComposer constructs a Composer for one storage. pageSize bounds how
// many bytes of record payloads are batched into a single WritePage call.
func NewComposer(id storage.StorageID, pageSize int, log *logrus.Entry) *Composer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if pageSize <= 0 {
		pageSize = 64 << 10
	}
	return &Composer{storageID: id, pageSize: pageSize, log: log.WithField("storage", id)}
}

// SetPreviousSnapshot points Compose at the prior snapshot generation's
// file set, so a later Compose call can merge its pages forward. Passing
// nil (the default) means there is no previous generation yet - the
// first gleaning round for a storage.
func (c *Composer) SetPreviousSnapshot(files *FileSet) {
	c.prevFiles = files
}

// Compose writes records, in the order it receives them, into new pages
// via writer, batching consecutive records up to pageSize bytes per page,
// and returns the resulting RootInfo. Neither Compose nor the
// mapper/reducer stage sorts records by key.
//
// prevPages, if non-empty, names the previous snapshot generation's page
// pointers for this storage; Compose reads them back through the
// Composer's prevFiles and merges their bytes ahead of the new log
// stream, so this generation's pages carry the storage's entire content
// forward rather than just the delta since the last snapshot.
func (c *Composer) Compose(writer *Writer, records []LogRecord, prevPages []PagePointer) (RootInfo, error) {
	info := RootInfo{StorageID: c.storageID}

	var batch []byte
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ptr, err := writer.WritePage(batch)
		if err != nil {
			return err
		}
		info.Pages = append(info.Pages, ptr)
		batch = nil
		return nil
	}

	appendPayload := func(payload []byte) error {
		if len(batch)+len(payload) > c.pageSize && len(batch) > 0 {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, payload...)
		return nil
	}

	if c.prevFiles != nil {
		for _, ptr := range prevPages {
			prevPage, err := c.prevFiles.ReadPage(ptr)
			if err != nil {
				return RootInfo{}, err
			}
			if err := appendPayload(prevPage); err != nil {
				return RootInfo{}, err
			}
		}
	}
	for _, r := range records {
		if err := appendPayload(r.Payload); err != nil {
			return RootInfo{}, err
		}
	}
	if err := flush(); err != nil {
		return RootInfo{}, err
	}

	c.log.WithField("pages", len(info.Pages)).Debug("composed storage")
	return info, nil
}

// ConstructRoot merges every partition's RootInfo for this storage (the
// outputs of Compose, run once per partition) into a single root page:
// a flat, length-prefixed list of all page pointers in partition order.
// The gleaner invokes this once per storage after every reducer for it
// has finished.
func (c *Composer) ConstructRoot(writer *Writer, infos []RootInfo) (PagePointer, error) {
	var buf []byte
	var total int
	for _, info := range infos {
		total += len(info.Pages)
	}
	buf = make([]byte, 4, 4+total*12)
	binary.LittleEndian.PutUint32(buf, uint32(total))
	for _, info := range infos {
		for _, p := range info.Pages {
			var entry [12]byte
			binary.LittleEndian.PutUint32(entry[0:4], p.SnapshotID)
			binary.LittleEndian.PutUint64(entry[4:12], uint64(p.Offset))
			buf = append(buf, entry[:]...)
		}
	}
	return writer.WritePage(buf)
}

// DecodeRootPointers reads back a root page written by ConstructRoot.
func DecodeRootPointers(payload []byte) []PagePointer {
	if len(payload) < 4 {
		return nil
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	pointers := make([]PagePointer, 0, count)
	off := 4
	for i := uint32(0); i < count && off+12 <= len(payload); i++ {
		snap := binary.LittleEndian.Uint32(payload[off : off+4])
		offset := binary.LittleEndian.Uint64(payload[off+4 : off+12])
		pointers = append(pointers, PagePointer{SnapshotID: snap, Offset: int64(offset)})
		off += 12
	}
	return pointers
}

// DropVolatiles inspects every record's committed owner epoch and
// reports how much of the storage this snapshot round safely captured.
// It does not free anything itself (this rewrite's storage layer has no
// separate volatile/snapshot page split to drop from - see DESIGN.md);
// it exists so the gleaner can decide whether a storage's volatile
// footprint could be reduced next round.
func (c *Composer) DropVolatiles(validUntil epoch.Epoch, records []*storage.Record) DropResult {
	result := newDropResult(validUntil)
	for _, r := range records {
		result.observe(r.Owner.ID().Epoch(), validUntil)
	}
	return result
}
