package scheduler

import (
	"fmt"
	"sync"

	"github.com/perple-io/openset/logger"
)

// Pool is the Worker Pool (C3): a fixed set of goroutines, each owning
// a disjoint set of Partition Loops assigned by partition_id mod
// worker_count, woken on work rather than polling. Grounded on
// FeatureBase's task.Pool sizing model, generalized from "run a step
// function" to "drive a static set of per-partition run queues."
type Pool struct {
	log   logger.Logger
	stats Stats

	workers []*Worker

	mu         sync.Mutex
	partitions map[int]*PartitionLoop
}

// NewPool creates a Pool with workerCount workers. workerCount is
// typically the logical CPU count. A nil stats disables metrics
// reporting.
func NewPool(workerCount int, log logger.Logger, stats Stats) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if stats == nil {
		stats = nopStats{}
	}
	p := &Pool{
		log:        log,
		stats:      stats,
		partitions: make(map[int]*PartitionLoop),
	}
	for i := 0; i < workerCount; i++ {
		p.workers = append(p.workers, NewWorker(i, log.WithPrefix(fmt.Sprintf("worker[%d] ", i))))
	}
	return p
}

// WorkerCount returns the fixed number of workers in this pool.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// Start launches every worker's Run loop.
func (p *Pool) Start() {
	for _, w := range p.workers {
		go w.Run()
	}
}

// Stop requests every worker to exit and waits for all of them to do so.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	for _, w := range p.workers {
		w.WaitStopped()
	}
}

// Partition returns the PartitionLoop for partitionID, creating and
// statically assigning it to worker (partitionID mod WorkerCount) on
// first use.
func (p *Pool) Partition(partitionID int) *PartitionLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.partitions[partitionID]; ok {
		return pl
	}
	workerID := partitionID % len(p.workers)
	pl := NewPartitionLoop(partitionID, workerID, p.log, p.stats)
	p.workers[workerID].addPartition(pl)
	p.partitions[partitionID] = pl
	return pl
}

// WorkerIDFor reports which worker a partition is statically bound to,
// without creating it, so callers (the Coordinator's per-worker
// ResultSet allocation) can size things correctly even for partitions
// that have not yet received any work.
func (p *Pool) WorkerIDFor(partitionID int) int {
	return partitionID % len(p.workers)
}

// RemovePartition tears down partitionID's loop -- used when the
// Cluster Mapper reports this node has lost ownership of it. It is a
// no-op if the partition was never instantiated here.
func (p *Pool) RemovePartition(partitionID int) {
	p.mu.Lock()
	pl, ok := p.partitions[partitionID]
	if ok {
		delete(p.partitions, partitionID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.workers[pl.WorkerID()].removePartition(pl)
}

// PurgeByTable fans out to every instantiated partition, purging
// Open-Loops owned by table from each.
func (p *Pool) PurgeByTable(table string) {
	p.mu.Lock()
	targets := make([]*PartitionLoop, 0, len(p.partitions))
	for _, pl := range p.partitions {
		targets = append(targets, pl)
	}
	p.mu.Unlock()
	for _, pl := range targets {
		pl.PurgeByTable(table)
	}
}
