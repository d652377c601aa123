// Package mapreduce implements the NUMA-pinned mapper/reducer worker base
// (component C8) and its coordinator, grounded on
// foedus::snapshot::MapReduceBase (mapreduce_base_impl.cpp): a per-epoch
// barrier where every mapper/reducer processes one epoch, reports done,
// and sleeps until the gleaner (Coordinator here) advances to the next
// one or requests a stop.
package mapreduce

import (
	"sync"
	"sync/atomic"

	"github.com/foedus-go/foedus/epoch"
)

// Coordinator is the gleaner-side barrier every Base worker synchronizes
// against: it tracks which epoch is being processed, how many workers
// have finished it, and when to ask them all to stop.
type Coordinator struct {
	mu   sync.Mutex
	cond *sync.Cond

	allCount        int
	completedCount  int
	processingEpoch epoch.Epoch
	validUntilEpoch epoch.Epoch

	stopRequested int32
	errorCount    int32
	exitCount     int32
}

// NewCoordinator constructs a Coordinator for allCount workers, snapshotting
// up to and including validUntil.
func NewCoordinator(allCount int, validUntil epoch.Epoch) *Coordinator {
	c := &Coordinator{allCount: allCount, validUntilEpoch: validUntil}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AllCount returns the number of workers this coordinator waits on.
func (c *Coordinator) AllCount() int { return c.allCount }

// ValidUntilEpoch returns the last epoch this snapshot round covers.
func (c *Coordinator) ValidUntilEpoch() epoch.Epoch { return c.validUntilEpoch }

// ProcessingEpoch returns the epoch workers should currently be handling.
func (c *Coordinator) ProcessingEpoch() epoch.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processingEpoch
}

// AdvanceTo sets the epoch workers should process next and wakes anyone
// waiting on it, resetting the completed-worker count for the new round.
func (c *Coordinator) AdvanceTo(e epoch.Epoch) {
	c.mu.Lock()
	c.processingEpoch = e
	c.completedCount = 0
	c.mu.Unlock()
	c.cond.Broadcast()
}

// IsAllCompleted reports whether every worker has finished the current
// processing epoch.
func (c *Coordinator) IsAllCompleted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedCount >= c.allCount
}

// IncrementCompletedCount marks one worker done with the current epoch
// and returns the new count. The caller that observes the count reach
// AllCount is responsible for advancing the gleaner's own state.
func (c *Coordinator) IncrementCompletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedCount++
	return c.completedCount
}

// WaitForEpochPast blocks until the coordinator's processing epoch is no
// longer last (i.e. AdvanceTo has moved it on) or a stop is requested,
// returning the new processing epoch and false if the wait ended because
// of a stop request rather than an advance.
func (c *Coordinator) WaitForEpochPast(last epoch.Epoch) (epoch.Epoch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.processingEpoch == last && atomic.LoadInt32(&c.stopRequested) == 0 {
		c.cond.Wait()
	}
	return c.processingEpoch, atomic.LoadInt32(&c.stopRequested) == 0
}

// RequestStop asks every worker to exit at its next wait point.
func (c *Coordinator) RequestStop() {
	atomic.StoreInt32(&c.stopRequested, 1)
	c.cond.Broadcast()
}

// IsStopRequested reports whether RequestStop has been called.
func (c *Coordinator) IsStopRequested() bool {
	return atomic.LoadInt32(&c.stopRequested) != 0
}

// IncrementErrorCount records that one worker hit an unrecoverable error.
func (c *Coordinator) IncrementErrorCount() { atomic.AddInt32(&c.errorCount, 1) }

// ErrorCount returns how many workers have reported an error.
func (c *Coordinator) ErrorCount() int32 { return atomic.LoadInt32(&c.errorCount) }

// IncrementExitCount records that one worker's goroutine has returned.
func (c *Coordinator) IncrementExitCount() { atomic.AddInt32(&c.exitCount, 1) }

// ExitCount returns how many worker goroutines have returned.
func (c *Coordinator) ExitCount() int32 { return atomic.LoadInt32(&c.exitCount) }
