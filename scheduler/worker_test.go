package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_RunDrivesAssignedPartitions(t *testing.T) {
	w := NewWorker(0, testLog())
	w.defaultInterval = 10 * time.Millisecond

	pl := NewPartitionLoop(0, 0, testLog(), nil)
	w.addPartition(pl)
	l := newFakeLoop("events")
	pl.QueueCell(l)

	go w.Run()
	require.Eventually(t, func() bool { return l.runCount() > 0 }, time.Second, time.Millisecond)

	w.Stop()
	w.WaitStopped()
}

func TestWorker_WakeShortCircuitsSleep(t *testing.T) {
	w := NewWorker(0, testLog())
	w.defaultInterval = time.Hour // would never fire on its own

	go w.Run()
	defer func() {
		w.Stop()
		w.WaitStopped()
	}()

	pl := NewPartitionLoop(0, 0, testLog(), nil)
	w.addPartition(pl)
	l := newFakeLoop("events")

	// QueueCell calls wake() internally; the worker must notice well
	// before defaultInterval elapses.
	pl.QueueCell(l)
	require.Eventually(t, func() bool { return l.runCount() > 0 }, 200*time.Millisecond, time.Millisecond)
}

func TestWorker_RemovePartitionTearsDown(t *testing.T) {
	w := NewWorker(0, testLog())
	pl := NewPartitionLoop(0, 0, testLog(), nil)
	w.addPartition(pl)
	l := newFakeLoop("events")
	pl.QueueCell(l)

	w.removePartition(pl)
	assert.True(t, l.removed)
}

func TestWorker_StopIsIdempotentSafeToWaitTwice(t *testing.T) {
	w := NewWorker(0, testLog())
	go w.Run()
	w.Stop()
	w.WaitStopped()
	assert.NotPanics(t, func() { w.Stop() })
	assert.NotPanics(t, func() { w.WaitStopped() })
}
