package micro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func semCount(t *testing.T, k *Kernel, id SemID) uint32 {
	t.Helper()
	st, err := k.SemStatus(id)
	require.NoError(t, err)
	return st.Count
}

func TestTimer_OneShotWakesWaiter(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	require.NoError(t, k.DefineTimers(2))
	sem, err := k.DefineSemaphore("tick", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	id, err := task.TimerAlloc()
	require.NoError(t, err)
	require.NoError(t, task.TimerStart(id, 5, 0, sem))

	res := async(func() error { return task.SemTake(sem, Forever) })
	waitState(t, k, task.ID(), StateSemWait)

	advance(t, k, 4)
	pending(t, res)
	left, err := k.TimerRemaining(id)
	require.NoError(t, err)
	assert.Equal(t, Ticks(1), left)

	advance(t, k, 1)
	require.NoError(t, result(t, res))

	st, err := k.TimerStatus(id)
	require.NoError(t, err)
	assert.True(t, st.Allocated)
	assert.False(t, st.Active)
	assert.Equal(t, task.ID(), st.Owner)

	// Stopping an expired one-shot is a no-op.
	require.NoError(t, task.TimerStop(id))
}

func TestTimer_Periodic(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	require.NoError(t, k.DefineTimers(1))
	sem, err := k.DefineSemaphore("tick", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	id, err := task.TimerAlloc()
	require.NoError(t, err)
	require.NoError(t, task.TimerStart(id, 2, 3, sem))

	advance(t, k, 2)
	assert.Equal(t, uint32(1), semCount(t, k, sem))
	advance(t, k, 3)
	assert.Equal(t, uint32(2), semCount(t, k, sem))
	advance(t, k, 3)
	assert.Equal(t, uint32(3), semCount(t, k, sem))

	st, err := k.TimerStatus(id)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, Ticks(3), st.Period)

	require.NoError(t, task.TimerStop(id))
	advance(t, k, 10)
	assert.Equal(t, uint32(3), semCount(t, k, sem))
}

func TestTimer_RestartKeepsSemaphore(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	require.NoError(t, k.DefineTimers(1))
	sem, err := k.DefineSemaphore("tick", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	id, err := task.TimerAlloc()
	require.NoError(t, err)
	require.NoError(t, task.TimerStart(id, 10, 0, sem))
	advance(t, k, 3)

	require.NoError(t, task.TimerRestart(id, 2, 0))
	left, err := k.TimerRemaining(id)
	require.NoError(t, err)
	assert.Equal(t, Ticks(2), left)

	advance(t, k, 2)
	assert.Equal(t, uint32(1), semCount(t, k, sem))
}

func TestTimer_PoolExhaustionAndFree(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	require.NoError(t, k.DefineTimers(2))
	sem, err := k.DefineSemaphore("tick", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	a, err := task.TimerAlloc()
	require.NoError(t, err)
	b, err := task.TimerAlloc()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = task.TimerAlloc()
	assert.True(t, errors.Is(err, ErrFail))

	require.NoError(t, task.TimerStart(a, 3, 0, sem))
	require.NoError(t, task.TimerFree(a))
	advance(t, k, 3)
	assert.Zero(t, semCount(t, k, sem))

	assert.True(t, errors.Is(task.TimerStart(a, 3, 0, sem), ErrInvalidState))

	again, err := task.TimerAlloc()
	require.NoError(t, err)
	assert.Equal(t, a, again)

	assert.True(t, errors.Is(task.TimerStart(again, 0, 0, sem), ErrFail))
	assert.True(t, errors.Is(task.TimerStart(again, 1, 0, SemID(42)), ErrFail))
	_, err = k.TimerStatus(TimerID(9))
	assert.True(t, errors.Is(err, ErrFail))
}
