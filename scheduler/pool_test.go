package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_PartitionAssignmentIsStableAndModded(t *testing.T) {
	p := NewPool(4, testLog(), nil)
	require.Equal(t, 4, p.WorkerCount())

	pl := p.Partition(9)
	assert.Equal(t, 9%4, pl.WorkerID())

	again := p.Partition(9)
	assert.Same(t, pl, again)
}

func TestPool_WorkerIDForDoesNotInstantiate(t *testing.T) {
	p := NewPool(3, testLog(), nil)
	assert.Equal(t, 2, p.WorkerIDFor(5))
	assert.Empty(t, p.partitions)
}

func TestPool_RemovePartitionIsNoopWhenUnknown(t *testing.T) {
	p := NewPool(2, testLog(), nil)
	assert.NotPanics(t, func() { p.RemovePartition(42) })
}

func TestPool_RemovePartitionTearsDownAndForgets(t *testing.T) {
	p := NewPool(2, testLog(), nil)
	pl := p.Partition(0)
	l := newFakeLoop("events")
	pl.QueueCell(l)

	p.RemovePartition(0)
	assert.True(t, l.removed)

	// A fresh Partition call re-creates an empty loop rather than
	// resurrecting the torn-down one.
	fresh := p.Partition(0)
	assert.NotSame(t, pl, fresh)
	assert.Equal(t, 0, fresh.Size())
}

func TestPool_PurgeByTableFansOutToEveryPartition(t *testing.T) {
	p := NewPool(2, testLog(), nil)
	pl0 := p.Partition(0)
	pl1 := p.Partition(1)

	l0 := newFakeLoop("events")
	l1 := newFakeLoop("events")
	pl0.QueueCell(l0)
	pl1.QueueCell(l1)

	var next time.Time
	pl0.Run(&next)
	pl1.Run(&next)

	p.PurgeByTable("events")
	pl0.Run(&next)
	pl1.Run(&next)

	assert.True(t, l0.abandoned)
	assert.True(t, l1.abandoned)
}

func TestPool_StartAndStopDrivesQueuedWork(t *testing.T) {
	p := NewPool(2, testLog(), nil)
	pl := p.Partition(0)
	l := newFakeLoop("events")
	pl.QueueCell(l)

	p.Start()
	require.Eventually(t, func() bool { return l.runCount() > 0 }, time.Second, time.Millisecond)
	p.Stop()
}
