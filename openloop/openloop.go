// Package openloop defines the Open-Loop contract (C1): a single
// stateful work unit bound to one partition that cooperatively yields
// control back to its Partition Loop instead of blocking a thread.
package openloop

import (
	"context"
	"time"
)

// LoopState tracks an Open-Loop's lifecycle. It is monotone
// non-decreasing: once Done, a loop never returns to Running.
type LoopState int32

const (
	LoopRunning LoopState = iota
	LoopDone
)

func (s LoopState) String() string {
	if s == LoopDone {
		return "done"
	}
	return "running"
}

// Partition is the minimal surface an Open-Loop needs of its owning
// Partition Loop. It exists so this package does not import the
// scheduler package that implements it (scheduler imports openloop,
// not the reverse).
type Partition interface {
	ID() int
}

// Loop is the contract every unit of partition-resident work must
// satisfy.
type Loop interface {
	// Prepare runs exactly once, after the scheduler has assigned this
	// loop to a partition and before its first Run. It may transition
	// the loop to Done (e.g. if setup discovers there is nothing to do).
	Prepare() error

	// Run performs one cooperative slice of work. Returning true asks
	// the Worker to re-enter the partition's tick immediately; false
	// yields until RunAt or CheckCondition say otherwise.
	Run(ctx context.Context) (rerun bool)

	// CheckCondition gates whether Run should even be attempted this
	// tick (e.g. waiting on an external completion).
	CheckCondition() bool

	// CheckTimer reports whether RunAt has arrived.
	CheckTimer(now time.Time) bool

	// PartitionRemoved is the terminal notification fired when the
	// partition itself is torn down (reassigned away from this node).
	// Implementations must release external obligations (e.g. report an
	// error to an attached Shuttle) without scheduling further work.
	PartitionRemoved()

	// Abandoned is fired when this loop is purged by table drop rather
	// than by partition teardown. Unlike PartitionRemoved, the
	// partition itself survives; only this loop's table went away.
	Abandoned()

	State() LoopState
	SetState(LoopState)

	RunAt() time.Time
	SetRunAt(time.Time)

	Prepared() bool
	SetPrepared(bool)

	OwningTable() string

	AssignedPartition() Partition
	SetAssignedPartition(Partition)
}

// BaseLoop supplies the bookkeeping every Loop implementation needs
// (state, run_at, the prepared latch, the owning table, and the
// non-owning back-reference to the assigned partition) so concrete
// loops only need to implement Run and whichever of the optional hooks
// they actually use.
type BaseLoop struct {
	state       LoopState
	runAt       time.Time
	prepared    bool
	owningTable string
	assigned    Partition
}

// NewBaseLoop constructs a BaseLoop bound to owningTable, starting in
// the running state with prepared=false.
func NewBaseLoop(owningTable string) BaseLoop {
	return BaseLoop{owningTable: owningTable}
}

func (b *BaseLoop) State() LoopState      { return b.state }
func (b *BaseLoop) SetState(s LoopState) {
	if b.state == LoopDone {
		return
	}
	b.state = s
}

func (b *BaseLoop) RunAt() time.Time      { return b.runAt }
func (b *BaseLoop) SetRunAt(t time.Time)  { b.runAt = t }
func (b *BaseLoop) Prepared() bool        { return b.prepared }
func (b *BaseLoop) SetPrepared(p bool)    { b.prepared = p }
func (b *BaseLoop) OwningTable() string   { return b.owningTable }

func (b *BaseLoop) AssignedPartition() Partition        { return b.assigned }
func (b *BaseLoop) SetAssignedPartition(p Partition)    { b.assigned = p }

// CheckCondition defaults to always-ready; loops that wait on an
// external event (e.g. a segment refresh) override this.
func (b *BaseLoop) CheckCondition() bool { return true }

// CheckTimer defaults to "RunAt not yet set, or it has arrived."
func (b *BaseLoop) CheckTimer(now time.Time) bool {
	return b.runAt.IsZero() || !now.Before(b.runAt)
}

// Prepare defaults to a no-op; most loops have no setup beyond what
// their constructor already did.
func (b *BaseLoop) Prepare() error { return nil }

// PartitionRemoved and Abandoned default to no-ops; loops that report
// to a Shuttle override these to deliver a terminal error.
func (b *BaseLoop) PartitionRemoved() {}
func (b *BaseLoop) Abandoned()        {}
