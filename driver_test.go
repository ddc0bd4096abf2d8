package phoenix

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isWordBoundary(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

type wordCount struct{}

func (wordCount) Map(unit Unit[byte], emitter IntermediateEmitter[string, int]) error {
	for _, word := range strings.Fields(string(unit.Data)) {
		emitter.EmitIntermediate(word, 1, len(word))
	}
	return nil
}

func (wordCount) Reduce(key string, values ValueIterator[int], emitter Emitter[string, int]) error {
	sum := 0
	for v := range values.Iter() {
		sum += v
	}
	emitter.Emit(key, sum)
	return nil
}

func newWordCountJob(text string) *Job[byte, string, int] {
	job := NewJob[byte, string, int]([]byte(text), wordCount{}, wordCount{}, strings.Compare)
	job.Boundary = isWordBoundary
	return job
}

func generateText(words, vocabulary int, seed int64) (string, map[string]int) {
	rng := rand.New(rand.NewSource(seed))
	counts := make(map[string]int)
	var sb strings.Builder
	for i := 0; i < words; i++ {
		word := fmt.Sprintf("w%03d", rng.Intn(vocabulary))
		counts[word]++
		sb.WriteString(word)
		if i%13 == 12 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}
	return sb.String(), counts
}

func assertStrictlyAscending[V any](t *testing.T, pairs []KeyValue[string, V]) {
	t.Helper()
	for i := 1; i < len(pairs); i++ {
		assert.True(t, pairs[i-1].Key < pairs[i].Key, "%q >= %q", pairs[i-1].Key, pairs[i].Key)
	}
}

func TestWordCountScenario(t *testing.T) {
	job := newWordCountJob("the quick brown fox the lazy dog the")
	driver := NewDriver(job,
		WithMapThreads(2),
		WithReduceThreads(2),
		WithReduceTasks(2),
		WithL1CacheSize(8),
	)

	result, err := driver.Run(context.Background())
	require.Nil(t, err)

	expected := []KeyValue[string, int]{
		{"brown", 1}, {"dog", 1}, {"fox", 1}, {"lazy", 1}, {"quick", 1}, {"the", 3},
	}
	assert.Equal(t, expected, result.Pairs)
	assert.Equal(t, 6, result.Stats.Emitted)
	assert.Equal(t, 2, result.Stats.ReduceTasks)
	assert.Equal(t, 1, result.Stats.MergeRounds)
	assert.True(t, result.Stats.MapTasks > 1)
}

func TestSequentialIntegerKeys(t *testing.T) {
	input := make([]int, 2000)
	for i := range input {
		input[i] = i
	}

	job := NewJob[int, int, int](input, MapFunc[int, int, int](func(unit Unit[int], emitter IntermediateEmitter[int, int]) error {
		for _, v := range unit.Data {
			emitter.EmitIntermediate(v, v*2, 8)
		}
		return nil
	}), nil, cmp.Compare[int])
	job.Partition = func(int, int, int) int { return 0 }

	driver := NewDriver(job,
		WithMapThreads(2),
		WithReduceThreads(2),
		WithReduceTasks(4),
		WithL1CacheSize(1000*elemSize[int]()),
	)
	result, err := driver.Run(context.Background())
	require.Nil(t, err)

	assert.Equal(t, 2, result.Stats.MapTasks)
	require.Len(t, result.Pairs, 2000)
	for i, kv := range result.Pairs {
		assert.Equal(t, i, kv.Key)
		assert.Equal(t, 2*i, kv.Value)
	}
}

func TestEmptyInput(t *testing.T) {
	mapCalls := 0
	job := NewJob[byte, string, int]([]byte{}, MapFunc[byte, string, int](func(Unit[byte], IntermediateEmitter[string, int]) error {
		mapCalls++
		return nil
	}), nil, strings.Compare)

	result, err := NewDriver(job).Run(context.Background())
	require.Nil(t, err)
	assert.Empty(t, result.Pairs)
	assert.NotNil(t, result.Pairs)
	assert.Equal(t, 0, result.Stats.MapTasks)
	assert.Equal(t, 0, result.Stats.ReduceTasks)
	assert.Equal(t, 0, mapCalls)
}

func TestIdentityRunReproducesInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const recordSize = 4
	input := make([]byte, recordSize*3000)
	for i := range input {
		input[i] = byte('a' + rng.Intn(4))
	}

	job := NewJob[byte, []byte, int](input, MapFunc[byte, []byte, int](func(unit Unit[byte], emitter IntermediateEmitter[[]byte, int]) error {
		for i := 0; i+recordSize <= unit.Len(); i += recordSize {
			emitter.EmitIntermediate(unit.Data[i:i+recordSize], unit.ID, recordSize)
		}
		return nil
	}), nil, bytes.Compare)
	job.UnitSize = recordSize

	result, err := NewDriver(job,
		WithMapThreads(4),
		WithReduceThreads(3),
		WithReduceTasks(16),
		WithMergeThreads(2),
		WithL1CacheSize(400),
	).Run(context.Background())
	require.Nil(t, err)

	expected := make([]string, 0, 3000)
	for i := 0; i < len(input); i += recordSize {
		expected = append(expected, string(input[i:i+recordSize]))
	}
	slices.Sort(expected)

	actual := make([]string, len(result.Pairs))
	for i, kv := range result.Pairs {
		actual[i] = string(kv.Key)
	}
	assert.Equal(t, expected, actual)
}

func TestGroupingCompletenessAcrossThreadCounts(t *testing.T) {
	text, counts := generateText(20000, 300, 1)

	for _, threads := range []int{1, 2, 3, 8} {
		job := newWordCountJob(text)
		result, err := NewDriver(job,
			WithMapThreads(threads),
			WithReduceThreads(threads),
			WithL1CacheSize(512),
			WithKeyMatchFactor(1),
		).Run(context.Background())
		require.Nil(t, err)

		assert.Len(t, result.Pairs, len(counts))
		assertStrictlyAscending(t, result.Pairs)
		for _, kv := range result.Pairs {
			assert.Equal(t, counts[kv.Key], kv.Value, kv.Key)
		}
		assert.Equal(t, len(counts), result.Stats.Emitted)
	}
}

func TestQueueLayouts(t *testing.T) {
	text, counts := generateText(5000, 120, 2)

	var layoutTests = []struct {
		perMapTask    bool
		perReduceTask bool
	}{
		{false, true},
		{true, true},
		{false, false},
		{true, false},
	}

	for _, test := range layoutTests {
		result, err := NewDriver(newWordCountJob(text),
			WithMapThreads(4),
			WithReduceThreads(3),
			WithReduceTasks(10),
			WithL1CacheSize(256),
			WithOneQueuePerMapTask(test.perMapTask),
			WithOneQueuePerReduceTask(test.perReduceTask),
		).Run(context.Background())
		require.Nil(t, err)

		assert.Len(t, result.Pairs, len(counts))
		assertStrictlyAscending(t, result.Pairs)
		for _, kv := range result.Pairs {
			assert.Equal(t, counts[kv.Key], kv.Value)
		}
	}
}

func TestDeterminism(t *testing.T) {
	text, _ := generateText(8000, 200, 3)

	var previous []KeyValue[string, int]
	for i := 0; i < 3; i++ {
		result, err := NewDriver(newWordCountJob(text),
			WithMapThreads(4),
			WithReduceThreads(4),
			WithReduceTasks(32),
			WithL1CacheSize(300),
		).Run(context.Background())
		require.Nil(t, err)
		if previous != nil {
			assert.Equal(t, previous, result.Pairs)
		}
		previous = result.Pairs
	}
}

func TestPerMapTaskQueuesAreOrderDeterministic(t *testing.T) {
	// Identity reduce keeps values in column order, which with one queue per
	// map task is the order units were split in
	input := []byte("a a a a a a a a a a a a a a a a a a a a")
	newJob := func() *Job[byte, string, int] {
		job := NewJob[byte, string, int](input, MapFunc[byte, string, int](func(unit Unit[byte], emitter IntermediateEmitter[string, int]) error {
			for _, word := range strings.Fields(string(unit.Data)) {
				emitter.EmitIntermediate(word, unit.ID, len(word))
			}
			return nil
		}), nil, strings.Compare)
		job.Boundary = isWordBoundary
		return job
	}

	for i := 0; i < 3; i++ {
		result, err := NewDriver(newJob(),
			WithMapThreads(4),
			WithReduceTasks(1),
			WithL1CacheSize(3),
			WithOneQueuePerMapTask(true),
		).Run(context.Background())
		require.Nil(t, err)

		require.Len(t, result.Pairs, 20)
		for j := 1; j < len(result.Pairs); j++ {
			assert.True(t, result.Pairs[j-1].Value <= result.Pairs[j].Value)
		}
	}
}

func TestReducerMayEmitOtherKeys(t *testing.T) {
	job := newWordCountJob("b a c a")
	job.Reduce = ReduceFunc[string, int](func(key string, values ValueIterator[int], emitter Emitter[string, int]) error {
		emitter.Emit("z-"+key, values.Len())
		emitter.Emit(key, values.Len())
		return nil
	})

	result, err := NewDriver(job, WithReduceTasks(1), WithMapThreads(1)).Run(context.Background())
	require.Nil(t, err)

	assert.Equal(t, []KeyValue[string, int]{
		{"a", 2}, {"b", 1}, {"c", 1}, {"z-a", 2}, {"z-b", 1}, {"z-c", 1},
	}, result.Pairs)
}

func TestRunRejectsInvalidJobs(t *testing.T) {
	job := newWordCountJob("a b c")
	job.Map = nil
	_, err := NewDriver(job).Run(context.Background())
	assert.Equal(t, ErrNoMapper, err)

	job = newWordCountJob("a b c")
	job.KeyCmp = nil
	_, err = NewDriver(job).Run(context.Background())
	assert.Equal(t, ErrNoKeyCmp, err)

	job = newWordCountJob("a b c")
	job.UnitSize = 0
	_, err = NewDriver(job).Run(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidUnitSize))

	_, err = NewDriver(newWordCountJob("a b c"), WithMapThreads(-1)).Run(context.Background())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewDriver(newWordCountJob("a b c"), WithNumProcs(1<<20)).Run(context.Background())
	assert.True(t, errors.Is(err, ErrTooManyProcs))
}

func TestMapErrorFailsRun(t *testing.T) {
	boom := errors.New("boom")
	job := NewJob[int, int, int](make([]int, 100), MapFunc[int, int, int](func(unit Unit[int], emitter IntermediateEmitter[int, int]) error {
		if unit.ID == 3 {
			return boom
		}
		emitter.EmitIntermediate(unit.ID, 1, 8)
		return nil
	}), nil, cmp.Compare[int])

	result, err := NewDriver(job, WithMapThreads(2), WithL1CacheSize(10*elemSize[int]())).Run(context.Background())
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "map task 3")
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewDriver(newWordCountJob("a b c d")).Run(ctx)
	assert.Nil(t, result)
	assert.Equal(t, context.Canceled, err)
}

func TestCPUBindingProducesCompleteResult(t *testing.T) {
	text, counts := generateText(2000, 50, 4)

	result, err := NewDriver(newWordCountJob(text),
		WithMapThreads(2),
		WithReduceThreads(2),
		WithCPUBinding(true),
		WithL1CacheSize(256),
	).Run(context.Background())
	require.Nil(t, err)
	assert.Len(t, result.Pairs, len(counts))
}

func failCPUBinding(t *testing.T, err error) {
	saved := bindToCPU
	bindToCPU = func(int) error { return err }
	t.Cleanup(func() { bindToCPU = saved })
}

func TestCPUBindingFallsBackToUnbound(t *testing.T) {
	failCPUBinding(t, errors.New("operation not permitted"))
	text, counts := generateText(2000, 50, 4)

	result, err := NewDriver(newWordCountJob(text),
		WithMapThreads(2),
		WithReduceThreads(2),
		WithReduceTasks(4),
		WithCPUBinding(true),
		WithL1CacheSize(256),
	).Run(context.Background())
	require.Nil(t, err)

	// 2 map, 2 reduce, then merge rounds of 2 and 1 outputs
	assert.Equal(t, int64(7), result.Stats.BindFailures)
	assert.Equal(t, 2, result.Stats.MergeRounds)
	require.Len(t, result.Pairs, len(counts))
	for _, kv := range result.Pairs {
		assert.Equal(t, counts[kv.Key], kv.Value, kv.Key)
	}
	assertStrictlyAscending(t, result.Pairs)
}

func TestStrictAffinityFailsRun(t *testing.T) {
	bindErr := errors.New("operation not permitted")
	failCPUBinding(t, bindErr)

	result, err := NewDriver(newWordCountJob("the quick brown fox"),
		WithCPUBinding(true),
		WithStrictAffinity(true),
	).Run(context.Background())
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, bindErr))
}

func TestUnboundRunSkipsBinding(t *testing.T) {
	failCPUBinding(t, errors.New("operation not permitted"))

	result, err := NewDriver(newWordCountJob("a b a"), WithStrictAffinity(true)).Run(context.Background())
	require.Nil(t, err)
	assert.Equal(t, int64(0), result.Stats.BindFailures)
	assert.Equal(t, []KeyValue[string, int]{{"a", 2}, {"b", 1}}, result.Pairs)
}

func TestConcurrentIndependentRuns(t *testing.T) {
	texts := []string{"a b c a", "x y x x", "m n o p m"}
	expected := [][]KeyValue[string, int]{
		{{"a", 2}, {"b", 1}, {"c", 1}},
		{{"x", 3}, {"y", 1}},
		{{"m", 2}, {"n", 1}, {"o", 1}, {"p", 1}},
	}

	results := make([][]KeyValue[string, int], len(texts))
	var wg sync.WaitGroup
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			result, err := NewDriver(newWordCountJob(text), WithMapThreads(2), WithL1CacheSize(2)).Run(context.Background())
			if assert.Nil(t, err) {
				results[i] = result.Pairs
			}
		}(i, text)
	}
	wg.Wait()

	assert.Equal(t, expected, results)
}

func TestGrowthPolicyOption(t *testing.T) {
	text, counts := generateText(3000, 500, 5)

	result, err := NewDriver(newWordCountJob(text), WithGrowthPolicy(1, 3), WithMapThreads(3)).Run(context.Background())
	require.Nil(t, err)
	assert.Len(t, result.Pairs, len(counts))
	assertStrictlyAscending(t, result.Pairs)
}
