// Package timer implements the kernel tick list: a delta-encoded list of
// pending timeouts kept in expiry order.
//
// Each entry stores the number of ticks it expires after its predecessor, so
// announcing a tick touches only the head of the list.
package timer

// Entry is one pending timeout. The zero value is an inactive entry.
type Entry[T any] struct {
	// Value is the payload handed back on expiry.
	Value T
	// Period re-arms the entry after it fires. Zero means one-shot.
	Period int64

	delta int64
	prev  *Entry[T]
	next  *Entry[T]
	list  *List[T]
}

// Active reports whether the entry is armed.
func (e *Entry[T]) Active() bool { return e.list != nil }

// List is the sorted tick list. It is not safe for concurrent use.
type List[T any] struct {
	head *Entry[T]
	n    int
}

// Len returns the number of armed entries.
func (l *List[T]) Len() int { return l.n }

// Insert arms e to expire after ticks ticks. Values below one are rounded up
// to one tick. An entry already armed on this list is re-armed.
func (l *List[T]) Insert(e *Entry[T], ticks int64) {
	if e.list == l {
		l.Remove(e)
	}
	if ticks < 1 {
		ticks = 1
	}

	var prev *Entry[T]
	cur := l.head
	for cur != nil && cur.delta <= ticks {
		ticks -= cur.delta
		prev = cur
		cur = cur.next
	}

	e.delta = ticks
	e.prev = prev
	e.next = cur
	e.list = l
	if prev == nil {
		l.head = e
	} else {
		prev.next = e
	}
	if cur != nil {
		cur.prev = e
		cur.delta -= ticks
	}
	l.n++
}

// Remove disarms e. It reports false when e was not armed on this list.
func (l *List[T]) Remove(e *Entry[T]) bool {
	if e.list != l {
		return false
	}
	if e.next != nil {
		e.next.delta += e.delta
		e.next.prev = e.prev
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	e.prev, e.next, e.list = nil, nil, nil
	e.delta = 0
	l.n--
	return true
}

// Remaining returns the ticks left before e fires, or zero when inactive.
func (l *List[T]) Remaining(e *Entry[T]) int64 {
	if e.list != l {
		return 0
	}
	var total int64
	for cur := l.head; cur != nil; cur = cur.next {
		total += cur.delta
		if cur == e {
			break
		}
	}
	return total
}

// Tick announces one elapsed tick and returns every entry that expired, in
// expiry order. Periodic entries are re-armed at their period before Tick
// returns; one-shot entries come back inactive.
func (l *List[T]) Tick() []*Entry[T] {
	if l.head == nil {
		return nil
	}
	l.head.delta--

	var expired []*Entry[T]
	for l.head != nil && l.head.delta <= 0 {
		e := l.head
		l.Remove(e)
		expired = append(expired, e)
	}

	for _, e := range expired {
		if e.Period > 0 {
			l.Insert(e, e.Period)
		}
	}
	return expired
}

// Announce advances the list by n ticks and returns everything that expired.
func (l *List[T]) Announce(n int64) []*Entry[T] {
	var expired []*Entry[T]
	for ; n > 0; n-- {
		expired = append(expired, l.Tick()...)
	}
	return expired
}
