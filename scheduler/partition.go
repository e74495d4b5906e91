// Package scheduler implements the per-partition cooperative scheduler
// (C2, the Partition Loop) and the fixed worker-thread pool that drives
// it (C3, the Worker Pool). Grounded on FeatureBase's task.Pool
// (condition-variable wakeup, blocked/unblocked accounting) generalized
// from "N goroutines servicing a step function" into "N goroutines each
// servicing a static set of per-partition run queues."
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/openloop"
)

// PartitionLoop is a single partition's FIFO+active run queue, owned
// exclusively by one Worker.
type PartitionLoop struct {
	partitionID int
	workerID    int
	log         logger.Logger
	stats       Stats

	// pendLock guards queued and pendingPurges, the only state any
	// thread other than the owning worker may touch.
	pendLock      sync.Mutex
	queued        []openloop.Loop
	pendingPurges []string

	// active is touched only by the owning worker's goroutine, inside
	// Run, plus Teardown (the scheduler's "destructor" exception called
	// when the partition itself is reassigned away).
	active []openloop.Loop

	worker *Worker // non-owning; set by Worker.addPartition when the loop is assigned

	size int32 // atomic, approximate queued+active count for metrics
}

// NewPartitionLoop constructs an empty PartitionLoop. Pool is
// responsible for statically assigning it to a Worker.
func NewPartitionLoop(partitionID, workerID int, log logger.Logger, stats Stats) *PartitionLoop {
	if stats == nil {
		stats = nopStats{}
	}
	return &PartitionLoop{
		partitionID: partitionID,
		workerID:    workerID,
		log:         log,
		stats:       stats,
	}
}

// ID implements openloop.Partition.
func (p *PartitionLoop) ID() int { return p.partitionID }

// WorkerID reports the worker this partition is statically bound to.
func (p *PartitionLoop) WorkerID() int { return p.workerID }

// Size returns an approximate count of loops currently queued+active,
// for monitoring.
func (p *PartitionLoop) Size() int { return int(atomic.LoadInt32(&p.size)) }

// QueueCell submits w to this partition. Callable from any thread
// (HTTP intake, a Shuttle completion callback, another partition's
// loop).
func (p *PartitionLoop) QueueCell(w openloop.Loop) {
	w.SetAssignedPartition(p)
	p.pendLock.Lock()
	p.queued = append(p.queued, w)
	atomic.AddInt32(&p.size, 1)
	p.pendLock.Unlock()

	// Wake is deliberately outside the lock: the submitter may be the
	// HTTP intake or a Shuttle callback and must not wait for the
	// partition's own timer to notice the new work.
	if w := p.worker; w != nil {
		w.wake()
	}
}

// PurgeByTable removes every Open-Loop owned by table from both queued
// and active. The removed loops are NOT given PartitionRemoved (the
// partition itself survives) -- they are given Abandoned, which the
// loop implementations use to deliver a route_error to any attached
// Shuttle so it does not hang forever waiting for a response that will
// never arrive.
//
// The actual removal from `active` happens on the owning worker's own
// goroutine, at the start of its next tick (see Run below), to preserve
// the invariant that active is mutated by one thread only. PurgeByTable
// itself only records the request and wakes the worker.
func (p *PartitionLoop) PurgeByTable(table string) {
	p.pendLock.Lock()
	p.pendingPurges = append(p.pendingPurges, table)
	p.pendLock.Unlock()
	if w := p.worker; w != nil {
		w.wake()
	}
}

// Run executes one scheduler tick. It reports whether any loop's Run
// returned true (runCount > 0), which tells the Worker whether to loop
// again immediately rather than sleep. nextRun is updated to the
// earliest future RunAt among loops still running, whether or not they
// ran this tick, if any is earlier than its current value (the zero
// Time means "unset", mirroring the source's -1 sentinel).
func (p *PartitionLoop) Run(nextRun *time.Time) bool {
	// 1. Admit: move all queued to the tail of active atomically.
	p.pendLock.Lock()
	if len(p.queued) > 0 {
		p.active = append(p.active, p.queued...)
		p.queued = nil
	}
	purges := p.pendingPurges
	p.pendingPurges = nil
	p.pendLock.Unlock()

	for _, table := range purges {
		p.purgeActive(table)
	}

	// 2. Idle fast path.
	if len(p.active) == 0 {
		atomic.StoreInt32(&p.size, 0)
		return false
	}

	rerun := p.active[:0:0]
	runCount := 0

	// 3. Consider every loop admitted at the start of this tick exactly
	// once; children queued during this tick are not in `active` yet
	// and so are not considered until the next tick.
	for _, w := range p.active {
		now := time.Now()
		if w.CheckCondition() && w.CheckTimer(now) && w.State() == openloop.LoopRunning {
			if !w.Prepared() {
				p.prepare(w)
				w.SetPrepared(true)
				if w.State() == openloop.LoopDone {
					continue
				}
			}
			if p.runOnce(w) {
				runCount++
			}
		}
		if w.State() == openloop.LoopRunning && w.RunAt().After(now) {
			if nextRun.IsZero() || w.RunAt().Before(*nextRun) {
				*nextRun = w.RunAt()
			}
		}
		if w.State() != openloop.LoopDone {
			rerun = append(rerun, w)
		}
	}

	// 4. Replace active with the survivors.
	p.active = rerun
	atomic.StoreInt32(&p.size, int32(len(p.active)))
	p.stats.PartitionSize(p.partitionID, len(p.active))

	// 5.
	return runCount > 0
}

// prepare calls w.Prepare exactly once, marking the loop Done on either
// an error return or a panic so a single broken loop cannot take its
// Worker down with it.
func (p *PartitionLoop) prepare(w openloop.Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("partition %d: open-loop panicked in Prepare: %v", p.partitionID, r)
			p.stats.LoopPanic("prepare")
			w.SetState(openloop.LoopDone)
		}
	}()
	if err := w.Prepare(); err != nil {
		p.log.Errorf("partition %d: open-loop Prepare failed: %v", p.partitionID, err)
		w.SetState(openloop.LoopDone)
	}
}

// runOnce calls w.Run, recovering from a panic the same way prepare
// does -- a panicking loop must not take its Worker down with it.
func (p *PartitionLoop) runOnce(w openloop.Loop) (rerun bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("partition %d: open-loop panicked in Run: %v", p.partitionID, r)
			p.stats.LoopPanic("run")
			w.SetState(openloop.LoopDone)
			rerun = false
		}
	}()
	return w.Run(context.Background())
}

// purgeActive removes every active (and, since admission already ran
// this tick, formerly-queued) loop owned by table, calling Abandoned on
// each. Only ever called from the owning worker's goroutine.
func (p *PartitionLoop) purgeActive(table string) {
	kept := p.active[:0:0]
	for _, w := range p.active {
		if w.OwningTable() == table {
			p.abandon(w)
			continue
		}
		kept = append(kept, w)
	}
	p.active = kept
}

func (p *PartitionLoop) abandon(w openloop.Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("partition %d: open-loop panicked in Abandoned: %v", p.partitionID, r)
			p.stats.LoopPanic("abandoned")
		}
	}()
	w.Abandoned()
}

// Teardown is the scheduler's "destructor" exception to active's
// single-writer rule: it is called by the Pool when the partition
// itself is being removed (reassigned away from this node), from
// whichever goroutine observed the reassignment. Every remaining loop,
// queued or active, is given its terminal PartitionRemoved notification.
func (p *PartitionLoop) Teardown() {
	p.pendLock.Lock()
	all := append(p.queued, p.active...)
	p.queued, p.active, p.pendingPurges = nil, nil, nil
	p.pendLock.Unlock()
	atomic.StoreInt32(&p.size, 0)

	for _, w := range all {
		p.notifyRemoved(w)
	}
}

func (p *PartitionLoop) notifyRemoved(w openloop.Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("partition %d: open-loop panicked in PartitionRemoved: %v", p.partitionID, r)
			p.stats.LoopPanic("partition_removed")
		}
	}()
	w.PartitionRemoved()
	w.SetState(openloop.LoopDone)
}
