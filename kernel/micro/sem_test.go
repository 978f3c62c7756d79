package micro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphore_GiveTake(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	sem, err := k.DefineSemaphore("s", 2)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	require.NoError(t, task.SemTake(sem, NoWait))
	require.NoError(t, task.SemTake(sem, NoWait))

	err = task.SemTake(sem, NoWait)
	assert.True(t, errors.Is(err, ErrFail))
	assert.Equal(t, ErrCodeFail, Code(err))

	require.NoError(t, task.SemGive(sem))
	st, err := k.SemStatus(sem)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), st.Count)

	require.NoError(t, task.SemReset(sem))
	st, err = k.SemStatus(sem)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.Count)
}

func TestSemaphore_GiveHandsOffToWaiter(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	sem, err := k.DefineSemaphore("s", 0)
	require.NoError(t, err)
	waiter := externalTask(t, k, "waiter", 10)
	giver := externalTask(t, k, "giver", 20)
	startKernel(t, k)

	res := async(func() error { return waiter.SemTake(sem, Forever) })
	waitState(t, k, waiter.ID(), StateSemWait)

	require.NoError(t, giver.SemGive(sem))
	require.NoError(t, result(t, res))

	// The give satisfied the waiter instead of raising the count.
	st, err := k.SemStatus(sem)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), st.Count)
	assert.Equal(t, 0, st.Waiters)
}

func TestSemaphore_WaitersServedByPriority(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	sem, err := k.DefineSemaphore("s", 0)
	require.NoError(t, err)
	low := externalTask(t, k, "low", 30)
	high := externalTask(t, k, "high", 5)
	giver := externalTask(t, k, "giver", 40)
	startKernel(t, k)

	lowRes := async(func() error { return low.SemTake(sem, Forever) })
	waitState(t, k, low.ID(), StateSemWait)
	highRes := async(func() error { return high.SemTake(sem, Forever) })
	waitState(t, k, high.ID(), StateSemWait)

	require.NoError(t, giver.SemGive(sem))
	require.NoError(t, result(t, highRes))
	pending(t, lowRes)

	require.NoError(t, giver.SemGive(sem))
	require.NoError(t, result(t, lowRes))
}

// A task waiting 100 ticks on an empty semaphore times out on the 100th
// tick and leaves the waiter list.
func TestSemaphore_TakeTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	sem, err := k.DefineSemaphore("s", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "a", 10)
	startKernel(t, k)

	res := async(func() error { return task.SemTake(sem, 100) })
	waitState(t, k, task.ID(), StateSemWait)

	advance(t, k, 99)
	pending(t, res)
	st, err := k.SemStatus(sem)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Waiters)

	advance(t, k, 1)
	err = result(t, res)
	assert.True(t, errors.Is(err, ErrTime))
	assert.Equal(t, ErrCodeTime, Code(err))

	st, err = k.SemStatus(sem)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Waiters)

	ts, err := k.TaskStatus(task.ID())
	require.NoError(t, err)
	assert.Equal(t, TaskState(0), ts.State)
	assert.Equal(t, uint64(1), k.Stats().Timeouts)
}

func TestSemaphore_TakeAny(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	a, err := k.DefineSemaphore("a", 0)
	require.NoError(t, err)
	b, err := k.DefineSemaphore("b", 1)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	giver := externalTask(t, k, "giver", 20)
	startKernel(t, k)

	got, err := task.SemTakeAny([]SemID{a, b}, NoWait)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	// Blocked on both; a give on either wins and detaches from the other.
	var taken SemID
	res := async(func() error {
		var err error
		taken, err = task.SemTakeAny([]SemID{a, b}, Forever)
		return err
	})
	waitState(t, k, task.ID(), StateSemWait)

	require.NoError(t, giver.SemGive(a))
	require.NoError(t, result(t, res))
	assert.Equal(t, a, taken)

	stB, err := k.SemStatus(b)
	require.NoError(t, err)
	assert.Equal(t, 0, stB.Waiters)

	_, err = task.SemTakeAny(nil, NoWait)
	assert.True(t, errors.Is(err, ErrFail))
}

func TestSemaphore_UnknownID(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	err := task.SemGive(SemID(7))
	assert.True(t, errors.Is(err, ErrFail))
	_, err = k.SemStatus(SemID(7))
	assert.True(t, errors.Is(err, ErrFail))
}
