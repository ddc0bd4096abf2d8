package phoenix

import (
	"unsafe"
)

// Splitter produces work units on demand. requested is the preferred number
// of records per unit; a splitter may return more to end on a record
// boundary. The second return value is false once the input is exhausted.
//
// The scheduler serializes calls to Split, so implementations need no
// locking of their own.
type Splitter[T any] interface {
	Split(requested int) (Unit[T], bool)
}

// SplitterFunc adapts a function to the Splitter interface.
type SplitterFunc[T any] func(requested int) (Unit[T], bool)

// Split calls f(requested).
func (f SplitterFunc[T]) Split(requested int) (Unit[T], bool) {
	return f(requested)
}

// ArraySplitter hands out consecutive chunks of a slice.
// Each chunk spans requested*unitSize elements. When a boundary function is
// set the chunk is extended forward until the element following it satisfies
// boundary, so record-oriented data (words, lines) is never cut mid-record.
type ArraySplitter[T any] struct {
	data     []T
	unitSize int
	boundary func(T) bool
	pos      int // index of the next element to hand out
}

// NewArraySplitter creates a splitter over data. unitSize is the number of
// elements in one logical record.
func NewArraySplitter[T any](data []T, unitSize int, boundary func(T) bool) *ArraySplitter[T] {
	if unitSize <= 0 {
		unitSize = 1
	}
	return &ArraySplitter[T]{
		data:     data,
		unitSize: unitSize,
		boundary: boundary,
	}
}

// Split returns the next chunk, or false when all data has been handed out.
func (a *ArraySplitter[T]) Split(requested int) (Unit[T], bool) {
	if a.pos >= len(a.data) {
		return Unit[T]{}, false
	}
	if requested <= 0 {
		requested = 1
	}

	end := min(a.pos+requested*a.unitSize, len(a.data))
	if a.boundary != nil {
		for end < len(a.data) && !a.boundary(a.data[end]) {
			end++
		}
	}

	unit := Unit[T]{Data: a.data[a.pos:end]}
	a.pos = end
	return unit, true
}

// Remaining returns the number of elements not yet handed out.
func (a *ArraySplitter[T]) Remaining() int {
	return len(a.data) - a.pos
}

// elemSize returns the in-memory size of one T in bytes (at least 1).
func elemSize[T any]() int {
	var zero T
	if s := int(unsafe.Sizeof(zero)); s > 0 {
		return s
	}
	return 1
}

// chunkRecords returns how many records fit in cacheSize bytes, at least one.
func chunkRecords(cacheSize, unitSize, elemBytes int) int {
	recordBytes := unitSize * elemBytes
	if recordBytes <= 0 {
		return 1
	}
	return max(cacheSize/recordBytes, 1)
}

// computeReduceTasks estimates how many partitions keep each reduce task's
// working set within cacheSize bytes, at least one.
func computeReduceTasks(keyMatchFactor float64, dataBytes, cacheSize int) int {
	if cacheSize <= 0 {
		return 1
	}
	return max(int(keyMatchFactor*float64(dataBytes)/float64(cacheSize)), 1)
}
