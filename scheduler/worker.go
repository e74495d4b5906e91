package scheduler

import (
	"sync"
	"time"

	"github.com/perple-io/openset/logger"
)

// DefaultInterval is the maximum time a Worker sleeps between ticks
// when no partition reports an earlier RunAt.
const DefaultInterval = 100 * time.Millisecond

// Worker is one OS-thread-equivalent goroutine driving a static set of
// Partition Loops (C3). All Open-Loops on a Worker's partitions run on
// this single goroutine; they never preempt each other.
type Worker struct {
	id  int
	log logger.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	partitions []*PartitionLoop
	triggered  bool

	defaultInterval time.Duration

	stopCh  chan struct{}
	stopped chan struct{}
}

// NewWorker constructs a Worker with no partitions assigned yet.
func NewWorker(id int, log logger.Logger) *Worker {
	w := &Worker{
		id:              id,
		log:             log,
		defaultInterval: DefaultInterval,
		stopCh:          make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// ID returns this worker's index (partitions are assigned by
// partition_id mod worker_count).
func (w *Worker) ID() int { return w.id }

// addPartition statically assigns p to this worker. Copy-on-write so
// Run's unlocked iteration over a snapshot slice never races a
// concurrent assignment.
func (w *Worker) addPartition(p *PartitionLoop) {
	w.mu.Lock()
	p.worker = w
	next := make([]*PartitionLoop, len(w.partitions), len(w.partitions)+1)
	copy(next, w.partitions)
	w.partitions = append(next, p)
	w.mu.Unlock()
}

// removePartition detaches p from this worker and tears it down.
func (w *Worker) removePartition(p *PartitionLoop) {
	w.mu.Lock()
	next := make([]*PartitionLoop, 0, len(w.partitions))
	for _, q := range w.partitions {
		if q != p {
			next = append(next, q)
		}
	}
	w.partitions = next
	w.mu.Unlock()
	p.Teardown()
}

func (w *Worker) snapshot() []*PartitionLoop {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.partitions
}

// wake sets the triggered flag and notifies the condition variable.
// Called from QueueCell/PurgeByTable on any submitting thread: the
// submitter must not wait for this worker's own 100ms timer.
func (w *Worker) wake() {
	w.mu.Lock()
	w.triggered = true
	w.cond.Signal()
	w.mu.Unlock()
}

// Run is the worker's main loop. For each owned Partition Loop it calls
// Run, collecting the earliest next_run across all partitions. If any
// partition reported activity it loops again immediately; otherwise it
// sleeps on its condvar until triggered or min(next_run,
// defaultInterval) elapses.
func (w *Worker) Run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		var nextRun time.Time
		active := false
		for _, p := range w.snapshot() {
			if p.Run(&nextRun) {
				active = true
			}
		}
		if active {
			continue
		}
		w.sleep(nextRun)
	}
}

// sleep blocks until woken, or until the earlier of nextRun and
// defaultInterval elapses.
func (w *Worker) sleep(nextRun time.Time) {
	deadline := w.defaultInterval
	if !nextRun.IsZero() {
		if d := time.Until(nextRun); d < deadline {
			if d < 0 {
				d = 0
			}
			deadline = d
		}
	}

	timer := time.AfterFunc(deadline, w.wake)
	defer timer.Stop()

	w.mu.Lock()
	for !w.triggered {
		w.cond.Wait()
	}
	w.triggered = false
	w.mu.Unlock()
}

// Stop requests the worker's Run loop to exit after its current or next
// tick. It does not wait; call WaitStopped for that. Calling Stop more
// than once is safe.
func (w *Worker) Stop() {
	w.mu.Lock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()
	w.wake()
}

// WaitStopped blocks until Run has returned.
func (w *Worker) WaitStopped() { <-w.stopped }
