package foundation

import "fmt"

// Priority is a scheduling priority. Lower values are more urgent.
type Priority uint8

const (
	// PriorityLevels is the number of distinct task priorities.
	PriorityLevels = 64

	PriorityHighest Priority = 0
	PriorityLowest  Priority = PriorityLevels - 1
)

// Valid reports whether p is within the supported range.
func (p Priority) Valid() bool { return int(p) < PriorityLevels }

// Higher reports whether p is strictly more urgent than other.
func (p Priority) Higher(other Priority) bool { return p < other }

func (p Priority) String() string { return fmt.Sprintf("P%d", uint8(p)) }

// NextPowerOfTwo rounds n up to a power of two (minimum 1).
func NextPowerOfTwo(n uint32) uint32 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
