package micro

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeResult struct {
	n   int
	err error
}

func pipeCall(fn func() (int, error)) <-chan pipeResult {
	ch := make(chan pipeResult, 1)
	go func() {
		n, err := fn()
		ch <- pipeResult{n, err}
	}()
	return ch
}

func pipeOutcome(t *testing.T, ch <-chan pipeResult) pipeResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("pipe call did not complete")
		return pipeResult{}
	}
}

func TestPipe_AllOrNothing(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	data := []byte("0123456789")
	put := pipeCall(func() (int, error) { return sender.PipePut(p, data, PipeAll, Forever) })
	waitState(t, k, sender.ID(), StatePipeSend)

	// A receiver with room for 4 units cannot take part of an all-or-nothing send.
	small := make([]byte, 4)
	n, err := receiver.PipeGet(p, small, PipeAtLeastOne, NoWait)
	assert.True(t, errors.Is(err, ErrFail))
	assert.Equal(t, 0, n)
	assert.Equal(t, make([]byte, 4), small)
	select {
	case r := <-put:
		t.Fatalf("send completed early: %+v", r)
	default:
	}

	st, err := k.PipeStatus(p)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingPuts)

	full := make([]byte, 10)
	n, err = receiver.PipeGet(p, full, PipeAll, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data, full)

	r := pipeOutcome(t, put)
	require.NoError(t, r.err)
	assert.Equal(t, 10, r.n)
}

func TestPipe_AllOrNothingTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	get := pipeCall(func() (int, error) { return receiver.PipeGet(p, make([]byte, 4), PipeAtLeastOne, Forever) })
	waitState(t, k, receiver.ID(), StatePipeRecv)

	put := pipeCall(func() (int, error) { return sender.PipePut(p, make([]byte, 10), PipeAll, 5) })
	waitState(t, k, sender.ID(), StatePipeSend)

	advance(t, k, 5)
	r := pipeOutcome(t, put)
	assert.True(t, errors.Is(r.err, ErrTime))
	assert.Equal(t, 0, r.n)
	select {
	case r := <-get:
		t.Fatalf("receiver completed: %+v", r)
	default:
	}
}

func TestPipe_PartialTransfer(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	buf := make([]byte, 8)
	get := pipeCall(func() (int, error) { return receiver.PipeGet(p, buf, PipeAtLeastOne, 20) })
	waitState(t, k, receiver.ID(), StatePipeRecv)

	n, err := sender.PipePut(p, []byte("abc"), PipeAll, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The receiver keeps its place with room for 5 more units.
	st, err := k.PipeStatus(p)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingGets)
	select {
	case r := <-get:
		t.Fatalf("receiver completed early: %+v", r)
	default:
	}

	n, err = sender.PipePut(p, []byte("de"), PipeAll, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	advance(t, k, 20)
	r := pipeOutcome(t, get)
	require.NoError(t, r.err)
	assert.Equal(t, 5, r.n)
	assert.Equal(t, "abcde", string(buf[:r.n]))
	assert.Equal(t, uint64(0), k.Stats().Timeouts)
}

func TestPipe_PendingReceiverCompletesWhenFull(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	buf := make([]byte, 4)
	get := pipeCall(func() (int, error) { return receiver.PipeGet(p, buf, PipeAtLeastOne, Forever) })
	waitState(t, k, receiver.ID(), StatePipeRecv)

	_, err = sender.PipePut(p, []byte("ab"), PipeAll, NoWait)
	require.NoError(t, err)
	_, err = sender.PipePut(p, []byte("cdef"), PipeAtLeastOne, NoWait)
	require.NoError(t, err)

	r := pipeOutcome(t, get)
	require.NoError(t, r.err)
	assert.Equal(t, 4, r.n)
	assert.Equal(t, "abcd", string(buf))
}

func TestPipe_EmptyAtLeastOneTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	get := pipeCall(func() (int, error) { return receiver.PipeGet(p, make([]byte, 4), PipeAtLeastOne, 3) })
	waitState(t, k, receiver.ID(), StatePipeRecv)

	advance(t, k, 3)
	r := pipeOutcome(t, get)
	assert.True(t, errors.Is(r.err, ErrTime))
	assert.Equal(t, 0, r.n)
}

func TestPipe_SenderContinuesAcrossReceivers(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 2)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	r1 := externalTask(t, k, "r1", 10)
	r2 := externalTask(t, k, "r2", 10)
	startKernel(t, k)

	b1, b2 := make([]byte, 4), make([]byte, 4)
	g1 := pipeCall(func() (int, error) { return r1.PipeGet(p, b1, PipeAll, Forever) })
	waitState(t, k, r1.ID(), StatePipeRecv)
	g2 := pipeCall(func() (int, error) { return r2.PipeGet(p, b2, PipeAtLeastOne, 10) })
	waitState(t, k, r2.ID(), StatePipeRecv)

	n, err := sender.PipePut(p, []byte("aabbcc"), PipeAtLeastOne, NoWait)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	o1 := pipeOutcome(t, g1)
	require.NoError(t, o1.err)
	assert.Equal(t, "aabb", string(b1[:o1.n]))

	advance(t, k, 10)
	o2 := pipeOutcome(t, g2)
	require.NoError(t, o2.err)
	assert.Equal(t, "cc", string(b2[:o2.n]))
}

func TestPipe_AnyNeverWaits(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 1)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	n, err := task.PipePut(p, []byte("xyz"), PipeAny, Forever)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	st, err := k.PipeStatus(p)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingPuts)
}

func TestPipe_SizeValidation(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	p, err := k.DefinePipe("p", 4)
	require.NoError(t, err)
	task := externalTask(t, k, "t", 10)
	startKernel(t, k)

	tests := []struct {
		name string
		size int
		code string
	}{
		{"zero", 0, ErrCodeFail},
		{"misaligned", 6, ErrCodeAlignment},
		{"short", 3, ErrCodeAlignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := task.PipePut(p, make([]byte, tt.size), PipeAll, NoWait)
			assert.Equal(t, tt.code, Code(err))
			_, err = task.PipeGet(p, make([]byte, tt.size), PipeAll, NoWait)
			assert.Equal(t, tt.code, Code(err))
		})
	}

	_, err = k.DefinePipe("late", 1)
	assert.Error(t, err)
}
