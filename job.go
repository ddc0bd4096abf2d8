package phoenix

import (
	"errors"
	"fmt"

	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

// Errors returned by Run when a job is refused before any worker starts.
var (
	ErrNoMapper        = errors.New("job has no map function")
	ErrNoKeyCmp        = errors.New("job has no key comparator")
	ErrInvalidUnitSize = errors.New("unit size must be positive")
	ErrInvalidConfig   = errors.New("invalid scheduler configuration")
	ErrTooManyProcs    = errors.New("more processors requested than are available")
)

// Job describes a MapReduce computation. Map and KeyCmp are required.
type Job[T, K, V any] struct {
	Input []T // data handed out by the default splitter
	Map   Mapper[T, K, V]

	// Reduce aggregates the values of each key. When nil every value is
	// passed through unmerged under the key it was emitted with. Values of
	// one key keep their emit order within a map worker, but the order
	// across workers depends on scheduling unless one queue per map task
	// is configured.
	Reduce Reducer[K, V]

	// Splitter overrides the default ArraySplitter over Input.
	Splitter Splitter[T]

	// Partition routes keys to reduce tasks. Defaults to HashPartition.
	Partition PartitionFunc[K]

	// KeyCmp is the total order on keys used for grouping and output order.
	KeyCmp func(a, b K) int

	// UnitSize is the number of input elements in one logical record.
	UnitSize int

	// DataSize is the number of input elements to process. With the default
	// splitter it defaults to len(Input); with a custom splitter it must be
	// set, and zero means there is nothing to do.
	DataSize int

	// Boundary, when set, marks the elements at which the default splitter
	// may end a unit.
	Boundary func(T) bool
}

// NewJob creates a Job with the default splitter over input.
func NewJob[T, K, V any](input []T, mapper Mapper[T, K, V], reducer Reducer[K, V], keyCmp func(a, b K) int) *Job[T, K, V] {
	return &Job[T, K, V]{
		Input:    input,
		Map:      mapper,
		Reduce:   reducer,
		KeyCmp:   keyCmp,
		UnitSize: 1,
	}
}

func (j *Job[T, K, V]) validate() error {
	if j.Map == nil {
		return ErrNoMapper
	}
	if j.KeyCmp == nil {
		return ErrNoKeyCmp
	}
	if j.UnitSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidUnitSize, j.UnitSize)
	}
	if j.DataSize < 0 {
		return fmt.Errorf("%w: negative data size %d", ErrInvalidConfig, j.DataSize)
	}
	return nil
}

// dataSize returns the number of input elements the run will cover.
func (j *Job[T, K, V]) dataSize() int {
	if j.Splitter != nil || j.DataSize > 0 {
		return j.DataSize
	}
	return len(j.Input)
}

func (j *Job[T, K, V]) splitter() Splitter[T] {
	if j.Splitter != nil {
		return j.Splitter
	}
	input := j.Input
	if n := j.dataSize(); n < len(input) {
		input = input[:n]
	}
	return NewArraySplitter(input, j.UnitSize, j.Boundary)
}

func (j *Job[T, K, V]) partitionFunc() PartitionFunc[K] {
	if j.Partition != nil {
		return j.Partition
	}
	return HashPartition[K]
}

// runMapTask invokes the mapper on one unit, emitting into column.
func (j *Job[T, K, V]) runMapTask(unit Unit[T], emitter *mapperEmitter[K, V]) error {
	if err := j.Map.Map(unit, emitter); err != nil {
		return fmt.Errorf("map task %d: %w", unit.ID, err)
	}
	return nil
}

// runReduceTask k-way merges one row of the intermediate store. For each key,
// in ascending order, it gathers the key's values from every map column (in
// column order) and hands them to the reducer, or emits them one by one when
// the job has no reducer. It returns the number of distinct keys per column
// that were consumed.
func (j *Job[T, K, V]) runReduceTask(task int, row []*sortedrun.Grouped[K, V], emitter *reducerEmitter[K, V], vals []V) (int64, []V, error) {
	positions := make([]int, len(row))
	var consumed int64

	for {
		// Find the first column holding the smallest unconsumed key
		minCol := -1
		var minKey K
		for c, run := range row {
			if positions[c] >= run.Len() {
				continue
			}
			key := run.At(positions[c]).Key
			if minCol < 0 || j.KeyCmp(key, minKey) < 0 {
				minCol = c
				minKey = key
			}
		}
		if minCol < 0 {
			return consumed, vals, nil
		}

		// Each column holds a key at most once, so every column from minCol
		// on contributes at most one group
		vals = vals[:0]
		for c := minCol; c < len(row); c++ {
			run := row[c]
			if positions[c] >= run.Len() {
				continue
			}
			grp := run.At(positions[c])
			if j.KeyCmp(grp.Key, minKey) != 0 {
				continue
			}
			if j.Reduce == nil {
				for _, v := range grp.Values {
					emitter.Emit(grp.Key, v)
				}
			} else {
				vals = append(vals, grp.Values...)
			}
			positions[c]++
			consumed++
		}

		if j.Reduce != nil {
			if err := j.Reduce.Reduce(minKey, NewValueIterator(vals), emitter); err != nil {
				return consumed, vals, fmt.Errorf("reduce task %d: %w", task, err)
			}
		}
	}
}
