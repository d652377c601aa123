package snapshot

import (
	"strconv"
	"sync"

	"github.com/foedus-go/foedus/config"
	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/mapreduce"
	"github.com/foedus-go/foedus/partition"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/walog"
	"github.com/sirupsen/logrus"
)

// Gleaner is the log gleaner (component C7): it drives one partitioned
// mapper/reducer round over a set of log buffers, invoking a Composer
// per storage per partition, then merges the per-partition root infos
// into final root pages - grounded on foedus::snapshot::LogGleaner, which
// owns exactly this orchestration (spawn mappers and reducers, wait for
// every epoch to be processed, then construct_root for every storage).
type Gleaner struct {
	cfg   config.SnapshotOptions
	parts *partition.Partitioner
	log   *logrus.Entry
}

// NewGleaner constructs a Gleaner that will fan work out across
// parts.Count() reducer partitions.
func NewGleaner(cfg config.SnapshotOptions, parts *partition.Partitioner, log *logrus.Entry) *Gleaner {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gleaner{cfg: cfg, parts: parts, log: log}
}

// mapperHandler is the map-side Handler: it decodes one log buffer's
// durable records and routes each into the partition-bucketed queue
// shared with the reducers. Every mapper handles exactly one epoch - the
// whole run - since buffers are already fully durable when RunOnce is
// called.
type mapperHandler struct {
	name       string
	buf        *walog.Buffer
	buckets    *bucketSet
	validUntil epoch.Epoch
}

func (m *mapperHandler) Name() string          { return m.name }
func (m *mapperHandler) NumaNode() int         { return 0 }
func (m *mapperHandler) HandleInitialize() error { return nil }
func (m *mapperHandler) HandleUninitialize() error { return nil }
func (m *mapperHandler) HandleEpoch(e epoch.Epoch) error {
	walog.Records(m.buf.DurableBytes(), func(h walog.RecordHeader, payload []byte) bool {
		recordEpoch := h.XctID.Epoch()
		if recordEpoch.After(m.validUntil) {
			// Written after this gleaning round's cutoff (e.g. the epoch
			// advancer moved the buffer forward while RunOnce was already
			// under way) - it belongs to a later snapshot generation, not
			// this one.
			return true
		}
		sid := storage.StorageID(h.StorageID)
		part := m.buckets.parts.PartitionOf(sid, payload)
		m.buckets.add(sid, part, LogRecord{CommitEpoch: recordEpoch, Payload: append([]byte(nil), payload...)})
		return true
	})
	return nil
}

// reducerHandler is the reduce-side Handler: for its one partition, it
// composes every storage's bucketed records into pages via that
// storage's Composer, recording the resulting RootInfo.
type reducerHandler struct {
	name      string
	partition uint16
	buckets   *bucketSet
	writer    *Writer
	composers map[storage.StorageID]*Composer
	results   *rootInfoCollector
	// prevPages carries the previous snapshot generation's page pointers,
	// keyed by storage - only set on the one reducer responsible for
	// merging them forward (partition 0), so a storage's prior content
	// isn't folded into every partition's output.
	prevPages map[storage.StorageID][]PagePointer
}

func (r *reducerHandler) Name() string            { return r.name }
func (r *reducerHandler) NumaNode() int           { return int(r.partition) % 8 }
func (r *reducerHandler) HandleInitialize() error { return nil }
func (r *reducerHandler) HandleUninitialize() error { return nil }
func (r *reducerHandler) HandleEpoch(e epoch.Epoch) error {
	bucketed := r.buckets.take(r.partition)
	sids := make(map[storage.StorageID]struct{}, len(bucketed)+len(r.prevPages))
	for sid := range bucketed {
		sids[sid] = struct{}{}
	}
	for sid := range r.prevPages {
		sids[sid] = struct{}{}
	}
	for sid := range sids {
		c, ok := r.composers[sid]
		if !ok {
			continue
		}
		info, err := c.Compose(r.writer, bucketed[sid], r.prevPages[sid])
		if err != nil {
			return err
		}
		r.results.add(info)
	}
	return nil
}

// bucketSet is the shared, lock-guarded routing table between mappers
// and reducers: (storageID, partition) -> accumulated records.
type bucketSet struct {
	mu    sync.Mutex
	parts *partition.Partitioner
	data  map[uint16]map[storage.StorageID][]LogRecord
}

func newBucketSet(parts *partition.Partitioner) *bucketSet {
	data := make(map[uint16]map[storage.StorageID][]LogRecord, parts.Count())
	for p := uint16(0); p < parts.Count(); p++ {
		data[p] = make(map[storage.StorageID][]LogRecord)
	}
	return &bucketSet{parts: parts, data: data}
}

func (b *bucketSet) add(sid storage.StorageID, part uint16, rec LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[part][sid] = append(b.data[part][sid], rec)
}

func (b *bucketSet) take(part uint16) map[storage.StorageID][]LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data[part]
}

// rootInfoCollector accumulates every reducer's RootInfo, grouped by
// storage, for the final construct_root pass.
type rootInfoCollector struct {
	mu   sync.Mutex
	byID map[storage.StorageID][]RootInfo
}

func newRootInfoCollector() *rootInfoCollector {
	return &rootInfoCollector{byID: make(map[storage.StorageID][]RootInfo)}
}

func (r *rootInfoCollector) add(info RootInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[info.StorageID] = append(r.byID[info.StorageID], info)
}

// RunOnce runs one complete gleaning round: maps every buffer's durable
// records, reduces them per partition through each storage's Composer
// (merging forward any previous generation named by prevFiles/prevRoots),
// and constructs a root page per storage. It returns the completed
// Snapshot and, per storage, the root page pointer that should be
// installed as that storage's new root.
//
// prevFiles and prevRoots together name the previous snapshot generation:
// prevRoots holds that generation's per-storage root pointer, and
// prevFiles reads its pages back. Pass nil/nil for the first generation,
// when there is nothing yet to merge.
func (g *Gleaner) RunOnce(
	dir string,
	snapshotID uint32,
	validUntil epoch.Epoch,
	buffers []*walog.Buffer,
	storages []storage.Storage,
	pageSize int,
	prevFiles *FileSet,
	prevRoots map[storage.StorageID]PagePointer,
	clock *epoch.Clock,
) (Snapshot, map[storage.StorageID]PagePointer, error) {
	writer, err := NewWriter(dir, snapshotID)
	if err != nil {
		return Snapshot{}, nil, err
	}
	defer writer.Close()

	buckets := newBucketSet(g.parts)
	composers := make(map[storage.StorageID]*Composer, len(storages))
	prevPages := make(map[storage.StorageID][]PagePointer, len(storages))
	for _, s := range storages {
		c := NewComposer(s.ID(), pageSize, g.log)
		if prevFiles != nil {
			if root, ok := prevRoots[s.ID()]; ok {
				pages, err := readRootPageList(prevFiles, root)
				if err != nil {
					return Snapshot{}, nil, err
				}
				c.SetPreviousSnapshot(prevFiles)
				prevPages[s.ID()] = pages
			}
		}
		composers[s.ID()] = c
	}
	results := newRootInfoCollector()

	coordinator := mapreduce.NewCoordinator(len(buffers)+int(g.parts.Count()), validUntil)

	var mappers, reducers []*mapreduce.Base
	for i, buf := range buffers {
		h := &mapperHandler{name: mapperName(i), buf: buf, buckets: buckets, validUntil: validUntil}
		mappers = append(mappers, mapreduce.NewBase(h, coordinator, nil, g.log))
	}
	for p := uint16(0); p < g.parts.Count(); p++ {
		h := &reducerHandler{
			name:      reducerName(p),
			partition: p,
			buckets:   buckets,
			writer:    writer,
			composers: composers,
			results:   results,
		}
		if p == 0 {
			h.prevPages = prevPages
		}
		reducers = append(reducers, mapreduce.NewBase(h, coordinator, nil, g.log))
	}

	for _, m := range mappers {
		m.Start()
	}
	coordinator.AdvanceTo(validUntil)
	for _, m := range mappers {
		m.Wait()
	}
	// Reducers start only once every mapper has filled its buckets.
	for _, r := range reducers {
		r.Start()
	}
	for _, r := range reducers {
		r.Wait()
	}

	if coordinator.ErrorCount() > 0 {
		return Snapshot{}, nil, ErrGleanFailed
	}

	roots := make(map[storage.StorageID]PagePointer, len(storages))
	for sid, infos := range results.byID {
		c := composers[sid]
		ptr, err := c.ConstructRoot(writer, infos)
		if err != nil {
			return Snapshot{}, nil, err
		}
		roots[sid] = ptr
	}

	g.dropVolatiles(clock, storages, composers, validUntil)

	return Snapshot{ID: snapshotID, ValidUntilEpoch: validUntil}, roots, nil
}

// dropVolatiles runs point 3 of a gleaning round: after every storage's
// pages for this generation have been handed to the writer (which RunOnce
// flushes and closes only when it returns), check how much of each
// storage's live record set the snapshot actually covered. The check
// itself is deferred via clock.BumpWith so it only runs once no
// in-flight transaction (protected via Worker.BeginXct's
// ProtectAndDrain/Unprotect pair) can still be mid-commit against an
// epoch this snapshot predates - the same pause barrier precommit_xct
// already participates in for reclamation triggers. Passing a nil clock
// (e.g. from a unit test composing a bare Gleaner) skips the pass.
func (g *Gleaner) dropVolatiles(clock *epoch.Clock, storages []storage.Storage, composers map[storage.StorageID]*Composer, validUntil epoch.Epoch) {
	if clock == nil {
		return
	}
	clock.BumpWith(func() {
		for _, s := range storages {
			c, ok := composers[s.ID()]
			if !ok {
				continue
			}
			result := c.DropVolatiles(validUntil, s.Records())
			if !result.DroppedAll {
				g.log.WithField("storage", s.ID()).
					WithField("max_observed", result.MaxObserved).
					Warn("drop_volatiles: storage still holds records committed after valid_until_epoch")
			}
		}
	})
}

func mapperName(i int) string      { return "Mapper-" + strconv.Itoa(i) }
func reducerName(p uint16) string  { return "Reducer-" + strconv.Itoa(int(p)) }

// readRootPageList reads a previous generation's root page and decodes
// the flat page-pointer list ConstructRoot wrote into it.
func readRootPageList(files *FileSet, root PagePointer) ([]PagePointer, error) {
	payload, err := files.ReadPage(root)
	if err != nil {
		return nil, err
	}
	return DecodeRootPointers(payload), nil
}
