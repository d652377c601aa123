package mapreduce

import (
	"runtime"

	"github.com/foedus-go/foedus/affinity"
	"github.com/foedus-go/foedus/epoch"
	"github.com/sirupsen/logrus"
)

// Handler is implemented by a mapper or a reducer: the storage-specific
// work a Base drives through its per-epoch lifecycle.
type Handler interface {
	// Name identifies this worker for logging, e.g. "Mapper-2" or
	// "Reducer-0".
	Name() string
	// NumaNode is the node this worker's goroutine should be pinned to.
	NumaNode() int
	// HandleInitialize runs once before the first epoch is processed.
	HandleInitialize() error
	// HandleEpoch processes one epoch's worth of log records.
	HandleEpoch(e epoch.Epoch) error
	// HandleUninitialize runs once after the loop exits, successfully or not.
	HandleUninitialize() error
}

// Base drives one Handler through MapReduceBase's lifecycle: pin to its
// NUMA node, initialize, then repeatedly wait for the coordinator to
// advance the processing epoch and handle it, until the coordinator's
// ValidUntilEpoch is passed or a stop is requested.
type Base struct {
	h       Handler
	c       *Coordinator
	pinner  affinity.Pinner
	log     *logrus.Entry
	done    chan struct{}
}

// NewBase constructs a Base for h, synchronized against c. If pinner is
// nil, affinity.NewPinner() is used.
func NewBase(h Handler, c *Coordinator, pinner affinity.Pinner, log *logrus.Entry) *Base {
	if pinner == nil {
		pinner = affinity.NewPinner()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Base{h: h, c: c, pinner: pinner, log: log.WithField("worker", h.Name()), done: make(chan struct{})}
}

// Start runs the worker's full lifecycle on a new goroutine.
func (b *Base) Start() {
	go b.run()
}

// Wait blocks until the worker's goroutine has returned.
func (b *Base) Wait() { <-b.done }

func (b *Base) run() {
	defer close(b.done)
	defer b.c.IncrementExitCount()

	b.log.WithField("numa_node", b.h.NumaNode()).Info("worker started")

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := b.pinner.PinCurrentThread(affinity.CoreID(b.h.NumaNode())); err != nil {
		b.log.WithError(err).Warn("failed to pin worker thread, continuing unpinned")
	}

	if err := b.h.HandleInitialize(); err != nil {
		b.log.WithError(err).Error("failed to initialize")
		b.c.IncrementErrorCount()
		b.c.RequestStop()
	} else {
		b.loop()
	}

	if err := b.h.HandleUninitialize(); err != nil {
		b.log.WithError(err).Error("failed to uninitialize")
		b.c.IncrementErrorCount()
	}
	b.log.Info("worker stopped")
}

// loop is MapReduceBase::handle's main body: wait for the first
// processing epoch, then repeatedly handle it and wait for the next one,
// until the gleaner passes ValidUntilEpoch or requests a stop.
func (b *Base) loop() {
	var last epoch.Epoch // Invalid: no epoch processed yet

	next, ok := b.c.WaitForEpochPast(last)
	for ok {
		b.log.WithField("epoch", next).Debug("processing epoch")
		if err := b.h.HandleEpoch(next); err != nil {
			b.log.WithError(err).Error("error while processing epoch")
			b.c.IncrementErrorCount()
			b.c.RequestStop()
			return
		}
		b.log.WithField("epoch", next).Debug("processed epoch")
		last = next
		b.c.IncrementCompletedCount()

		if v := b.c.ValidUntilEpoch(); v.IsValid() && !last.Before(v) {
			return
		}

		next, ok = b.c.WaitForEpochPast(last)
	}
}
