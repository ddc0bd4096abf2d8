package phoenix

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

// IntermediateEmitter enables mappers to yield key-value pairs.
// keySize is the number of key bytes the partition function should
// consider; for string and []byte keys it is normally len(key).
type IntermediateEmitter[K, V any] interface {
	EmitIntermediate(key K, value V, keySize int)
}

// Emitter enables reducers to yield final key-value pairs.
type Emitter[K, V any] interface {
	Emit(key K, value V)
}

// PartitionFunc routes a key to one of reduceTasks partitions. It must be a
// pure function of its arguments: every emission of a key has to reach the
// same reduce task for its values to be grouped.
type PartitionFunc[K any] func(key K, keySize int, reduceTasks int) int

// HashPartition is the default partition function: the djb2 string hash
// (hash*33 + byte) of the key's first keySize bytes, modulo reduceTasks.
func HashPartition[K any](key K, keySize int, reduceTasks int) int {
	hash := uint64(5381)
	for _, b := range keyBytes(key, keySize) {
		hash = hash*33 + uint64(b)
	}
	return int(hash % uint64(reduceTasks))
}

// XXH3Partition partitions by the XXH3 hash of the key's first keySize bytes.
// It spreads keys with long shared prefixes better than HashPartition.
func XXH3Partition[K any](key K, keySize int, reduceTasks int) int {
	return int(xxh3.Hash(keyBytes(key, keySize)) % uint64(reduceTasks))
}

// keyBytes returns the bytes of key that partitioners hash. Strings and
// byte slices are truncated to keySize when keySize is positive. Integers
// use their little-endian encoding. Anything else is rendered with fmt.
func keyBytes[K any](key K, keySize int) []byte {
	var b []byte
	switch k := any(key).(type) {
	case []byte:
		b = k
	case string:
		b = []byte(k)
	case int:
		b = binary.LittleEndian.AppendUint64(nil, uint64(k))
	case int64:
		b = binary.LittleEndian.AppendUint64(nil, uint64(k))
	case uint64:
		b = binary.LittleEndian.AppendUint64(nil, k)
	case int32:
		b = binary.LittleEndian.AppendUint32(nil, uint32(k))
	case uint32:
		b = binary.LittleEndian.AppendUint32(nil, k)
	case uint:
		b = binary.LittleEndian.AppendUint64(nil, uint64(k))
	default:
		return fmt.Append(nil, key)
	}
	if keySize > 0 && keySize < len(b) {
		b = b[:keySize]
	}
	return b
}

// intermediateStore is the grid of grouped runs written by the Map phase.
// columns[c][task] is written only by the map worker that owns column c and
// read only by the reduce worker that claims task.
type intermediateStore[K, V any] struct {
	reduceTasks int
	columns     [][]*sortedrun.Grouped[K, V]
}

func newIntermediateStore[K, V any](reduceTasks, columns int) *intermediateStore[K, V] {
	s := &intermediateStore[K, V]{
		reduceTasks: reduceTasks,
		columns:     make([][]*sortedrun.Grouped[K, V], 0, columns),
	}
	for i := 0; i < columns; i++ {
		s.addColumn()
	}
	return s
}

// addColumn appends an empty column and returns it. Callers that run
// concurrently with map workers must hold the splitter lock.
func (s *intermediateStore[K, V]) addColumn() []*sortedrun.Grouped[K, V] {
	col := make([]*sortedrun.Grouped[K, V], s.reduceTasks)
	s.columns = append(s.columns, col)
	return col
}

// row gathers every column's run for task. Nil entries are columns that
// never received a key for task.
func (s *intermediateStore[K, V]) row(task int) []*sortedrun.Grouped[K, V] {
	row := make([]*sortedrun.Grouped[K, V], len(s.columns))
	for c, col := range s.columns {
		row[c] = col[task]
	}
	return row
}

// release frees every run belonging to task.
func (s *intermediateStore[K, V]) release(task int) {
	for _, col := range s.columns {
		col[task].Release()
		col[task] = nil
	}
}

// mapperEmitter is an emitter that partitions keys written to it.
// It writes into the single column owned by one map worker (or one map task),
// so no locking is needed.
type mapperEmitter[K, V any] struct {
	column        []*sortedrun.Grouped[K, V] // one run per reduce task
	partitionFunc PartitionFunc[K]
	cmp           sortedrun.Compare[K]
	policy        sortedrun.Policy
	emitted       int
}

func newMapperEmitter[K, V any](column []*sortedrun.Grouped[K, V], partition PartitionFunc[K], cmp sortedrun.Compare[K], policy sortedrun.Policy) *mapperEmitter[K, V] {
	return &mapperEmitter[K, V]{
		column:        column,
		partitionFunc: partition,
		cmp:           cmp,
		policy:        policy,
	}
}

// EmitIntermediate inserts the pair into the run of the key's partition.
func (me *mapperEmitter[K, V]) EmitIntermediate(key K, value V, keySize int) {
	n := len(me.column)
	task := me.partitionFunc(key, keySize, n) % n
	if task < 0 {
		task += n
	}

	run := me.column[task]
	if run == nil {
		run = sortedrun.NewGrouped[K, V](me.cmp, me.policy)
		me.column[task] = run
	}
	run.Add(key, value)
	me.emitted++
}

// reducerEmitter writes final pairs into the run owned by one reduce task or
// reduce worker.
type reducerEmitter[K, V any] struct {
	run     *sortedrun.Run[K, V]
	emitted int
}

// Emit inserts the pair into the final run, keeping it sorted.
func (e *reducerEmitter[K, V]) Emit(key K, value V) {
	e.run.Insert(key, value)
	e.emitted++
}
