package walog

import (
	"sync"
	"time"

	"github.com/foedus-go/foedus/epoch"
	"github.com/sirupsen/logrus"
)

// Advancer periodically bumps the global epoch by one and then marks every
// registered buffer's current contents durable at the new epoch. It does
// not read any per-buffer marker to choose the next epoch, and it writes
// nothing to disk: "durable" here means the bytes are published to the
// buffer's in-memory durable range.
type Advancer struct {
	clock    *epoch.Clock
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	buffers []*Buffer

	stop chan struct{}
	done chan struct{}
}

// NewAdvancer constructs an Advancer driving clock, polling every
// interval.
func NewAdvancer(clock *epoch.Clock, interval time.Duration, log *logrus.Entry) *Advancer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Advancer{
		clock:    clock,
		interval: interval,
		log:      log.WithField("component", "epoch_advancer"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Register adds a thread's buffer to the set the advancer tracks. Safe to
// call concurrently with Run.
func (a *Advancer) Register(b *Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffers = append(a.buffers, b)
}

// Run drives the advancer loop until Stop is called. Intended to run in
// its own goroutine.
func (a *Advancer) Run() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.tick()
		}
	}
}

// Stop signals Run to exit and waits for it to do so.
func (a *Advancer) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Advancer) tick() {
	next := a.clock.Bump()

	a.mu.Lock()
	buffers := a.buffers
	a.mu.Unlock()

	for _, b := range buffers {
		b.MarkDurable(next)
	}
	a.log.WithField("epoch", next).Debug("advanced global epoch")
}
