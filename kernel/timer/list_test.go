package timer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func values(entries []*Entry[string]) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out
}

func TestList_FiresInAscendingOrder(t *testing.T) {
	var l List[string]
	five := &Entry[string]{Value: "5"}
	one := &Entry[string]{Value: "1"}
	three := &Entry[string]{Value: "3"}

	l.Insert(five, 5)
	l.Insert(one, 1)
	l.Insert(three, 3)

	var fired []string
	for tick := 1; tick <= 6; tick++ {
		expired := l.Tick()
		for _, e := range expired {
			assert.False(t, e.Active(), "one-shot entries come back inactive")
		}
		if len(expired) > 0 {
			require.Len(t, expired, 1, "tick %d", tick)
		}
		fired = append(fired, values(expired)...)
	}

	assert.Equal(t, []string{"1", "3", "5"}, fired)
	assert.Equal(t, 0, l.Len())
}

func TestList_ExpiryTicksAreExact(t *testing.T) {
	var l List[string]
	a := &Entry[string]{Value: "a"}
	b := &Entry[string]{Value: "b"}
	l.Insert(a, 4)
	l.Insert(b, 2)

	assert.Equal(t, int64(4), l.Remaining(a))
	assert.Equal(t, int64(2), l.Remaining(b))

	assert.Empty(t, l.Tick())
	assert.Equal(t, []string{"b"}, values(l.Tick()))
	assert.Empty(t, l.Tick())
	assert.Equal(t, int64(1), l.Remaining(a))
	assert.Equal(t, []string{"a"}, values(l.Tick()))
}

func TestList_EqualDeadlinesKeepInsertionOrder(t *testing.T) {
	var l List[string]
	for _, v := range []string{"x", "y", "z"} {
		l.Insert(&Entry[string]{Value: v}, 2)
	}

	assert.Empty(t, l.Tick())
	assert.Equal(t, []string{"x", "y", "z"}, values(l.Tick()))
}

func TestList_RemoveFoldsDelta(t *testing.T) {
	var l List[string]
	a := &Entry[string]{Value: "a"}
	b := &Entry[string]{Value: "b"}
	c := &Entry[string]{Value: "c"}
	l.Insert(a, 2)
	l.Insert(b, 5)
	l.Insert(c, 7)

	assert.True(t, l.Remove(b))
	assert.False(t, b.Active())
	assert.Equal(t, int64(7), l.Remaining(c), "successor keeps its absolute deadline")

	// Stopping an inactive entry is a no-op.
	assert.False(t, l.Remove(b))

	fired := values(l.Announce(7))
	assert.Equal(t, []string{"a", "c"}, fired)
}

func TestList_PeriodicRearms(t *testing.T) {
	var l List[string]
	p := &Entry[string]{Value: "p", Period: 3}
	l.Insert(p, 2)

	var at []int
	for tick := 1; tick <= 11; tick++ {
		if len(l.Tick()) > 0 {
			at = append(at, tick)
		}
	}

	assert.Equal(t, []int{2, 5, 8, 11}, at)
	assert.True(t, p.Active())

	l.Remove(p)
	assert.Empty(t, l.Announce(10))
}

func TestList_ReinsertRearms(t *testing.T) {
	var l List[string]
	e := &Entry[string]{Value: "e"}
	l.Insert(e, 5)
	l.Insert(e, 1)

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, []string{"e"}, values(l.Tick()))
}

func TestList_ZeroTicksRoundsUp(t *testing.T) {
	var l List[string]
	e := &Entry[string]{Value: "now"}
	l.Insert(e, 0)

	assert.Equal(t, []string{"now"}, values(l.Tick()))
}
