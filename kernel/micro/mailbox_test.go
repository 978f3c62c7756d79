package micro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_SyncExchange(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	mb, err := k.DefineMailbox("mb")
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	rx := &Message{Info: 7, Data: make([]byte, 3), TxTask: AnyTask}
	res := async(func() error { return receiver.MailboxGet(mb, rx, Forever) })
	waitState(t, k, receiver.ID(), StateMboxRecv)

	tx := &Message{Info: 42, Data: []byte("hello"), RxTask: AnyTask}
	require.NoError(t, sender.MailboxPut(mb, tx, NoWait))
	require.NoError(t, result(t, res))

	assert.Equal(t, "hel", string(rx.Data))
	assert.Equal(t, 3, rx.Size)
	assert.Equal(t, 3, tx.Size)
	assert.Equal(t, uint32(42), rx.Info)
	assert.Equal(t, uint32(7), tx.Info)
	assert.Equal(t, sender.ID(), rx.TxTask)
	assert.Equal(t, receiver.ID(), tx.RxTask)
}

func TestMailbox_FilterMismatch(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	mb, err := k.DefineMailbox("mb")
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	wanted := externalTask(t, k, "wanted", 10)
	other := externalTask(t, k, "other", 10)
	startKernel(t, k)

	tx := &Message{Data: []byte("x"), RxTask: wanted.ID()}
	res := async(func() error { return sender.MailboxPut(mb, tx, Forever) })
	waitState(t, k, sender.ID(), StateMboxSend)

	err = other.MailboxGet(mb, &Message{Data: make([]byte, 1), TxTask: AnyTask}, NoWait)
	assert.True(t, errors.Is(err, ErrFail))
	pending(t, res)

	// A receiver filtering on a different sender is not matched either.
	err = wanted.MailboxGet(mb, &Message{Data: make([]byte, 1), TxTask: other.ID()}, NoWait)
	assert.True(t, errors.Is(err, ErrFail))

	rx := &Message{Data: make([]byte, 1), TxTask: sender.ID()}
	require.NoError(t, wanted.MailboxGet(mb, rx, NoWait))
	require.NoError(t, result(t, res))
	assert.Equal(t, "x", string(rx.Data))
}

func TestMailbox_PutTimesOut(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	mb, err := k.DefineMailbox("mb")
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	startKernel(t, k)

	res := async(func() error { return sender.MailboxPut(mb, &Message{RxTask: AnyTask}, 4) })
	waitState(t, k, sender.ID(), StateMboxSend)
	advance(t, k, 4)
	assert.True(t, errors.Is(result(t, res), ErrTime))

	st, err := k.MailboxStatus(mb)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingPuts)
}

func TestMailbox_AsyncPutGivesSemaphore(t *testing.T) {
	k, _ := newTestKernel(t, nil)
	mb, err := k.DefineMailbox("mb")
	require.NoError(t, err)
	sem, err := k.DefineSemaphore("delivered", 0)
	require.NoError(t, err)
	sender := externalTask(t, k, "sender", 10)
	receiver := externalTask(t, k, "receiver", 10)
	startKernel(t, k)

	tx := &Message{Info: 1, Data: []byte("async"), RxTask: AnyTask}
	require.NoError(t, sender.MailboxPutAsync(mb, tx, sem))

	st, err := k.MailboxStatus(mb)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PendingPuts)
	assert.True(t, errors.Is(sender.SemTake(sem, NoWait), ErrFail))

	rx := &Message{Data: make([]byte, 8), TxTask: AnyTask}
	require.NoError(t, receiver.MailboxGet(mb, rx, NoWait))
	assert.Equal(t, "async", string(rx.Data[:rx.Size]))
	assert.Equal(t, sender.ID(), rx.TxTask)

	require.NoError(t, sender.SemTake(sem, NoWait))

	err = sender.MailboxPutAsync(mb, tx, SemID(99))
	assert.True(t, errors.Is(err, ErrFail))
}
