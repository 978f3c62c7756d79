package micro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_UnlockByNonOwnerRejected(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	owner := externalTask(t, k, "owner", 10)
	other := externalTask(t, k, "other", 10)
	startKernel(t, k)

	for _, depth := range []int{1, 2, 3} {
		for i := 0; i < depth; i++ {
			require.NoError(t, owner.MutexLock(m, NoWait))
		}

		err := other.MutexUnlock(m)
		assert.True(t, errors.Is(err, ErrPermission), "depth %d", depth)
		assert.Equal(t, ErrCodePermission, Code(err))

		st, err := k.MutexStatus(m)
		require.NoError(t, err)
		assert.Equal(t, owner.ID(), st.Owner)
		assert.Equal(t, uint32(depth), st.Count)

		for i := 0; i < depth; i++ {
			require.NoError(t, owner.MutexUnlock(m))
		}
	}
}

func TestMutex_RecursiveLock(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	const n = 4
	for i := 0; i < n; i++ {
		require.NoError(t, task.MutexLock(m, NoWait))
	}
	for i := 0; i < n; i++ {
		require.NoError(t, task.MutexUnlock(m))
	}

	st, err := k.MutexStatus(m)
	require.NoError(t, err)
	assert.Equal(t, AnyTask, st.Owner)
	assert.Equal(t, uint32(0), st.Count)

	err = task.MutexUnlock(m)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestMutex_ResetWhileHeld(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	require.NoError(t, task.MutexLock(m, NoWait))
	assert.True(t, errors.Is(task.MutexReset(m), ErrBusy))
	require.NoError(t, task.MutexUnlock(m))
	require.NoError(t, task.MutexReset(m))
}

func TestMutex_ContendedLockHandsOver(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	owner := externalTask(t, k, "owner", 10)
	waiter := externalTask(t, k, "waiter", 20)
	startKernel(t, k)

	require.NoError(t, owner.MutexLock(m, NoWait))
	assert.True(t, errors.Is(waiter.MutexLock(m, NoWait), ErrFail))

	res := async(func() error { return waiter.MutexLock(m, Forever) })
	waitState(t, k, waiter.ID(), StateMutexWait)

	require.NoError(t, owner.MutexUnlock(m))
	require.NoError(t, result(t, res))

	st, err := k.MutexStatus(m)
	require.NoError(t, err)
	assert.Equal(t, waiter.ID(), st.Owner)
	assert.Equal(t, uint32(1), st.Count)
}

func TestMutex_PriorityInheritance(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	low := externalTask(t, k, "low", 30)
	high := externalTask(t, k, "high", 5)
	startKernel(t, k)

	require.NoError(t, low.MutexLock(m, NoWait))
	res := async(func() error { return high.MutexLock(m, Forever) })
	waitState(t, k, high.ID(), StateMutexWait)

	st, err := k.TaskStatus(low.ID())
	require.NoError(t, err)
	assert.Equal(t, Priority(5), st.Priority)
	assert.Equal(t, Priority(30), st.BasePriority)
	assert.True(t, st.Current)

	require.NoError(t, low.MutexUnlock(m))
	require.NoError(t, result(t, res))

	st, err = k.TaskStatus(low.ID())
	require.NoError(t, err)
	assert.Equal(t, Priority(30), st.Priority)
}

func TestMutex_InheritanceUndoneOnTimeout(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	low := externalTask(t, k, "low", 30)
	high := externalTask(t, k, "high", 5)
	startKernel(t, k)

	require.NoError(t, low.MutexLock(m, NoWait))
	res := async(func() error { return high.MutexLock(m, 10) })
	waitState(t, k, high.ID(), StateMutexWait)

	advance(t, k, 10)
	assert.True(t, errors.Is(result(t, res), ErrTime))

	st, err := k.TaskStatus(low.ID())
	require.NoError(t, err)
	assert.Equal(t, Priority(30), st.Priority)
}

func TestMutex_ReleasedWhenOwnerAborted(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	m, err := k.DefineMutex("m")
	require.NoError(t, err)
	owner := externalTask(t, k, "owner", 10)
	waiter := externalTask(t, k, "waiter", 20)
	startKernel(t, k)

	require.NoError(t, owner.MutexLock(m, NoWait))
	res := async(func() error { return waiter.MutexLock(m, Forever) })
	waitState(t, k, waiter.ID(), StateMutexWait)

	require.NoError(t, k.AbortTask(owner.ID()))
	require.NoError(t, result(t, res))

	st, err := k.MutexStatus(m)
	require.NoError(t, err)
	assert.Equal(t, waiter.ID(), st.Owner)
}
