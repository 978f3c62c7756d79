package foundation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushPopOrder(t *testing.T) {
	q := NewQueue[int](4)

	for i := 1; i <= 4; i++ {
		seq, err := q.TryPush(i * 10)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}

	for i := 1; i <= 4; i++ {
		v, seq, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i*10, v)
		assert.Equal(t, uint64(i), seq)
	}

	_, _, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_FullAndWrap(t *testing.T) {
	q := NewQueue[int](2)

	_, err := q.TryPush(1)
	require.NoError(t, err)
	_, err = q.TryPush(2)
	require.NoError(t, err)

	_, err = q.TryPush(3)
	assert.ErrorIs(t, err, ErrQueueFull)

	v, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	// Slot 0 is reused after the wrap.
	_, err = q.TryPush(3)
	require.NoError(t, err)

	v, _, _ = q.Pop()
	assert.Equal(t, 2, v)
	v, _, _ = q.Pop()
	assert.Equal(t, 3, v)

	stats := q.Stats()
	assert.Equal(t, uint64(3), stats.Enqueued)
	assert.Equal(t, uint64(3), stats.Dequeued)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, uint32(2), stats.MaxDepth)
	assert.Equal(t, uint32(0), stats.Depth)
}

func TestQueue_NonPowerOfTwoPanics(t *testing.T) {
	assert.Panics(t, func() { NewQueue[int](3) })
	assert.Panics(t, func() { NewQueue[int](0) })
}

func TestQueue_PushWaitsForSpace(t *testing.T) {
	q := NewQueue[int](1)
	_, err := q.TryPush(1)
	require.NoError(t, err)

	pushed := make(chan error, 1)
	go func() {
		_, err := q.Push(context.Background(), 2)
		pushed <- err
	}()

	select {
	case <-pushed:
		t.Fatal("Push returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	v, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case err := <-pushed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Push did not resume after Pop")
	}

	v, _, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestQueue_PushHonoursContext(t *testing.T) {
	q := NewQueue[int](1)
	_, err := q.TryPush(1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = q.Push(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_CloseReleasesProducers(t *testing.T) {
	q := NewQueue[int](1)
	_, err := q.TryPush(1)
	require.NoError(t, err)

	pushed := make(chan error, 1)
	go func() {
		_, err := q.Push(context.Background(), 2)
		pushed <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-pushed:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Close did not release the waiting producer")
	}

	v, _, ok := q.Pop()
	require.True(t, ok, "queued entries survive Close")
	assert.Equal(t, 1, v)
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	const (
		producers = 4
		perProd   = 2000
	)
	q := NewQueue[int](64)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				_, err := q.Push(context.Background(), p*perProd+i)
				if err != nil {
					t.Errorf("Push: %v", err)
					return
				}
			}
		}(p)
	}

	seen := make([]bool, producers*perProd)
	lastPerProducer := make([]int, producers)
	for i := range lastPerProducer {
		lastPerProducer[i] = -1
	}
	for n := 0; n < producers*perProd; {
		v, _, ok := q.Pop()
		if !ok {
			<-q.Ready()
			continue
		}
		require.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
		p := v / perProd
		assert.Greater(t, v, lastPerProducer[p], "per-producer FIFO order violated")
		lastPerProducer[p] = v
		n++
	}
	wg.Wait()
}
