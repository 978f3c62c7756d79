package micro

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type groupResult struct {
	flags uint32
	err   error
}

func groupWait(task *Task, id GroupID, mask uint32, opts GroupOptions, timeout Ticks) <-chan groupResult {
	ch := make(chan groupResult, 1)
	go func() {
		flags, err := task.GroupWait(id, mask, opts, timeout)
		ch <- groupResult{flags, err}
	}()
	return ch
}

func groupOutcome(t *testing.T, ch <-chan groupResult) groupResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("group wait did not complete")
		return groupResult{}
	}
}

func TestGroup_AllVersusAny(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0)
	require.NoError(t, err)
	all := externalTask(t, k, "all", 10)
	anyT := externalTask(t, k, "any", 10)
	setter := externalTask(t, k, "setter", 20)
	startKernel(t, k)

	allRes := groupWait(all, g, 0b11, WaitAll, Forever)
	waitState(t, k, all.ID(), StateGroupWait)
	anyRes := groupWait(anyT, g, 0b11, WaitAny, Forever)
	waitState(t, k, anyT.ID(), StateGroupWait)

	require.NoError(t, setter.GroupSet(g, 0b01))
	r := groupOutcome(t, anyRes)
	require.NoError(t, r.err)
	assert.Equal(t, uint32(0b01), r.flags)

	n, err := k.GroupWaiters(g)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	select {
	case <-allRes:
		t.Fatal("wait-all woke on a partial match")
	default:
	}

	require.NoError(t, setter.GroupSet(g, 0b10))
	r = groupOutcome(t, allRes)
	require.NoError(t, r.err)
	assert.Equal(t, uint32(0b11), r.flags)
}

func TestGroup_ClearAfterScan(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0)
	require.NoError(t, err)
	clearing := externalTask(t, k, "clearing", 10)
	plain := externalTask(t, k, "plain", 10)
	setter := externalTask(t, k, "setter", 20)
	startKernel(t, k)

	// The clearing waiter queues first; its clear must not hide the flag
	// from the plain waiter behind it.
	c := groupWait(clearing, g, 0b01, WaitAny|WaitClear, Forever)
	waitState(t, k, clearing.ID(), StateGroupWait)
	p := groupWait(plain, g, 0b01, WaitAny, Forever)
	waitState(t, k, plain.ID(), StateGroupWait)

	require.NoError(t, setter.GroupSet(g, 0b101))

	rc, rp := groupOutcome(t, c), groupOutcome(t, p)
	require.NoError(t, rc.err)
	require.NoError(t, rp.err)
	assert.Equal(t, uint32(0b101), rc.flags)
	assert.Equal(t, uint32(0b101), rp.flags)

	flags, err := k.GroupGet(g)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b100), flags)
}

func TestGroup_ImmediateMatch(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0b11)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	flags, err := task.GroupWait(g, 0b01, WaitAny|WaitClear, NoWait)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b10), flags)

	flags, err = task.GroupWait(g, 0b10, WaitAll, NoWait)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b10), flags)
}

func TestGroup_NoWaitPeek(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0b1000)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	flags, err := task.GroupWait(g, 0b0011, WaitAll, NoWait)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b1000), flags)

	_, err = task.GroupWait(g, 0, WaitAny, NoWait)
	assert.True(t, errors.Is(err, ErrFail))
}

func TestGroup_WaitTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	res := groupWait(task, g, 0b1, WaitAny, 3)
	waitState(t, k, task.ID(), StateGroupWait)
	advance(t, k, 3)

	r := groupOutcome(t, res)
	assert.True(t, errors.Is(r.err, ErrTime))
	n, err := k.GroupWaiters(g)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestGroup_SetFromISRAndClear(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	g, err := k.DefineGroup("g", 0)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	require.NoError(t, k.ISR().GroupSet(g, 0xF0))
	require.NoError(t, k.ISR().GroupClear(g, 0x30))
	require.NoError(t, k.Sync())

	flags, err := k.GroupGet(g)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0), flags)

	require.NoError(t, task.GroupClear(g, 0xFF))
	flags, err = k.GroupGet(g)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), flags)
}
