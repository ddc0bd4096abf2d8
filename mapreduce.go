package phoenix

import (
	"iter"
	"time"

	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

// Unit is a contiguous slice of the job input handed to one Map call.
type Unit[T any] struct {
	ID   int // map task number, assigned in the order units are claimed
	Data []T
}

// Len returns the number of input elements in the unit.
func (u Unit[T]) Len() int {
	return len(u.Data)
}

// KeyValue is a single result pair.
type KeyValue[K, V any] = sortedrun.Entry[K, V]

// ValueIterator iterates over every value emitted for one key.
// This is used during the Reduce phase. The values are only valid for the
// duration of the Reduce call that receives them.
type ValueIterator[V any] struct {
	values []V
}

// Iter iterates over all the values in the iterator.
func (v ValueIterator[V]) Iter() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, val := range v.values {
			if !yield(val) {
				return
			}
		}
	}
}

// Len returns the number of values.
func (v ValueIterator[V]) Len() int {
	return len(v.values)
}

// Values returns the values as a slice. Copy it to retain it past Reduce.
func (v ValueIterator[V]) Values() []V {
	return v.values
}

// NewValueIterator wraps values in a ValueIterator.
func NewValueIterator[V any](values []V) ValueIterator[V] {
	return ValueIterator[V]{
		values: values,
	}
}

// Mapper defines the interface for a Map task.
type Mapper[T, K, V any] interface {
	Map(unit Unit[T], emitter IntermediateEmitter[K, V]) error
}

// Reducer defines the interface for a Reduce task.
type Reducer[K, V any] interface {
	Reduce(key K, values ValueIterator[V], emitter Emitter[K, V]) error
}

// MapFunc adapts a function to the Mapper interface.
type MapFunc[T, K, V any] func(unit Unit[T], emitter IntermediateEmitter[K, V]) error

// Map calls f(unit, emitter).
func (f MapFunc[T, K, V]) Map(unit Unit[T], emitter IntermediateEmitter[K, V]) error {
	return f(unit, emitter)
}

// ReduceFunc adapts a function to the Reducer interface.
type ReduceFunc[K, V any] func(key K, values ValueIterator[V], emitter Emitter[K, V]) error

// Reduce calls f(key, values, emitter).
func (f ReduceFunc[K, V]) Reduce(key K, values ValueIterator[V], emitter Emitter[K, V]) error {
	return f(key, values, emitter)
}

// Stats counts the work done by one run.
type Stats struct {
	MapTasks         int   // units handed out by the splitter
	ReduceTasks      int   // partitions reduced
	MergeRounds      int   // merge rounds needed to reach a single run
	IntermediateKeys int64 // distinct keys summed over every intermediate run
	Emitted          int   // pairs in the final result
	BindFailures     int64 // workers left unpinned after a failed CPU bind

	MapTime    time.Duration
	ReduceTime time.Duration
	MergeTime  time.Duration
}

// Result is the output of a run: every emitted pair in ascending key order.
type Result[K, V any] struct {
	Pairs []KeyValue[K, V]
	Stats Stats
}
