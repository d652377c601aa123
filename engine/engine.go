// Package engine ties every component into one running database: it owns
// the epoch clock, one worker per application thread, the write-ahead log
// buffers and epoch advancer, the storage layer's tables, and the
// snapshotting pipeline, and drives their startup and shutdown in the
// dependency order the rest of the packages assume.
//
// This mirrors foedus::Engine's role as the top-level object every other
// module is initialized and uninitialized through, adapted to this
// rewrite's package boundaries instead of the original's Initializable
// component graph.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/foedus-go/foedus/affinity"
	"github.com/foedus-go/foedus/config"
	"github.com/foedus-go/foedus/epoch"
	"github.com/foedus-go/foedus/metrics"
	"github.com/foedus-go/foedus/partition"
	"github.com/foedus-go/foedus/snapshot"
	"github.com/foedus-go/foedus/storage"
	"github.com/foedus-go/foedus/walog"
	"github.com/foedus-go/foedus/xct"
	"github.com/foedus-go/foedus/xctmgr"
	"github.com/sirupsen/logrus"
)

// Engine owns every long-lived subsystem and the storages registered on
// it. It is not itself concurrency-safe to Start/Stop from multiple
// goroutines, but the workers and storages it hands out are.
type Engine struct {
	options config.EngineOptions
	log     *logrus.Entry
	metrics *metrics.Set
	pinner  affinity.Pinner

	clock    *epoch.Clock
	advancer *walog.Advancer
	parts    *partition.Partitioner

	mu       sync.Mutex
	storages map[storage.StorageID]storage.Storage
	workers  []*xctmgr.Worker
	buffers  []*walog.Buffer

	started bool

	// prevSnapshotDir/prevRoots/prevFiles name the most recent completed
	// snapshot generation, so the next RunSnapshot call merges it forward
	// instead of starting over from an empty storage every round.
	prevSnapshotDir string
	prevRoots       map[storage.StorageID]snapshot.PagePointer
	prevFiles       *snapshot.FileSet
}

// New constructs an Engine from options but does not start any background
// goroutines yet; call Start to bring it up.
func New(options config.EngineOptions, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	nodeCount := options.NumaNodeCount
	if nodeCount <= 0 {
		nodeCount = 1
	}
	return &Engine{
		options:  options,
		log:      log.WithField("component", "engine"),
		metrics:  metrics.NewSet("engine"),
		pinner:   affinity.NewPinner(),
		clock:    epoch.NewClock(),
		parts:    partition.New(uint16(nodeCount)),
		storages: make(map[storage.StorageID]storage.Storage),
	}
}

// Start brings up the epoch advancer. It must be called before any worker
// issues a transaction, and before RunSnapshot is called.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine: already started")
	}
	interval := time.Duration(e.options.Log.EpochAdvanceIntervalMilliseconds) * time.Millisecond
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	e.advancer = walog.NewAdvancer(e.clock, interval, e.log)
	go e.advancer.Run()
	e.started = true
	e.log.Info("engine started")
	return nil
}

// Stop drains the epoch advancer and releases every worker's epoch handle.
// Safe to call once, after which the Engine cannot be restarted.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return fmt.Errorf("engine: not started")
	}
	e.advancer.Stop()
	for _, w := range e.workers {
		w.Close()
	}
	if e.prevFiles != nil {
		e.prevFiles.Close()
		e.prevFiles = nil
	}
	e.started = false
	e.log.Info("engine stopped")
	return nil
}

// RegisterStorage adds a storage (array, hash, masstree or sequential) to
// the engine's catalog, keyed by its own ID. Registering under an ID that
// is already in use replaces the previous entry.
func (e *Engine) RegisterStorage(s storage.Storage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.storages[s.ID()] = s
}

// Storage looks up a previously registered storage by id.
func (e *Engine) Storage(id storage.StorageID) (storage.Storage, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.storages[id]
	return s, ok
}

// Storages returns a snapshot of every currently registered storage, in no
// particular order.
func (e *Engine) Storages() []storage.Storage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]storage.Storage, 0, len(e.storages))
	for _, s := range e.storages {
		out = append(out, s)
	}
	return out
}

// NewWorker creates a transaction-manager worker for a new application
// thread: it allocates a write-ahead log buffer, registers it with the
// epoch advancer, and returns a *xctmgr.Worker ready to begin transactions.
// The Engine retains ownership of the worker for Stop's cleanup pass.
func (e *Engine) NewWorker(threadID int) *xctmgr.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()

	capacityBytes := e.options.Log.BufferInitialSizeKB * 1024
	buf := walog.NewBufferWithCapacity(threadID, capacityBytes)
	w := xctmgr.NewWorker(threadID, e.clock, buf, e.log, e.metrics)
	e.workers = append(e.workers, w)
	e.buffers = append(e.buffers, buf)
	if e.advancer != nil {
		e.advancer.Register(buf)
	}
	return w
}

// Clock exposes the shared epoch clock, e.g. so callers can read the
// current or safe epoch without going through a worker.
func (e *Engine) Clock() *epoch.Clock { return e.clock }

// Partitioner exposes the NUMA/reducer partitioner the gleaner routes
// every storage's log records through during snapshot partitioning.
// Storages pick their own in-memory buckets without it.
func (e *Engine) Partitioner() *partition.Partitioner { return e.parts }

// RunSnapshot drains every registered worker's write-ahead log buffer
// through one gleaning round, producing a new snapshot generation on
// disk. validUntil bounds which log records are included; buffers whose
// DurableEpoch has not yet reached it will still contribute whatever
// prefix is durable. If a prior RunSnapshot has already completed, that
// generation's pages are merged forward into this one, so every storage's
// full content survives across rounds rather than only the delta.
func (e *Engine) RunSnapshot(dir string, snapshotID uint32, validUntil epoch.Epoch, pageSize int) (snapshot.Snapshot, map[storage.StorageID]snapshot.PagePointer, error) {
	storages := e.Storages()
	e.mu.Lock()
	buffers := append([]*walog.Buffer(nil), e.buffers...)
	prevFiles := e.prevFiles
	prevRoots := e.prevRoots
	e.mu.Unlock()

	gleaner := snapshot.NewGleaner(e.options.Snapshot, e.parts, e.log)
	snap, roots, err := gleaner.RunOnce(dir, snapshotID, validUntil, buffers, storages, pageSize, prevFiles, prevRoots, e.clock)
	if err != nil {
		return snap, roots, err
	}

	e.mu.Lock()
	if e.prevFiles != nil {
		e.prevFiles.Close()
	}
	e.prevSnapshotDir = dir
	e.prevRoots = roots
	e.prevFiles = snapshot.NewFileSet(dir)
	e.mu.Unlock()

	return snap, roots, nil
}

// IssueXct is a convenience wrapper running fn inside a begin/precommit
// pair on w, retrying automatically on validation failure up to maxRetries
// times. It is the shape most call sites want; workers that need finer
// control over abort/retry policy should drive BeginXct/PrecommitXct
// directly instead.
func IssueXct(w *xctmgr.Worker, level xct.IsolationLevel, maxRetries int, fn func(x *xct.Xct) error) (epoch.Epoch, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := w.BeginXct(level); err != nil {
			return epoch.Invalid, err
		}
		if err := fn(w.Xct()); err != nil {
			w.AbortXct()
			return epoch.Invalid, err
		}
		commitEpoch, err := w.PrecommitXct()
		if err == nil {
			return commitEpoch, nil
		}
		lastErr = err
	}
	return epoch.Invalid, lastErr
}
