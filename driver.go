package phoenix

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bcongdon/phoenix/internal/pkg/affinity"
	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

// Driver controls the execution of a MapReduce Job
type Driver[T, K, V any] struct {
	job    *Job[T, K, V]
	config *config
}

// config configures a Driver's execution of jobs
type config struct {
	NumProcs              int
	NumMapThreads         int
	NumReduceThreads      int
	NumMergeThreads       int
	L1CacheSize           int
	KeyMatchFactor        float64
	ReduceTasks           int
	OneQueuePerMapTask    bool
	OneQueuePerReduceTask bool
	BindCPUs              bool
	StrictAffinity        bool
	Growth                sortedrun.Policy
	Progress              bool
}

func newConfig() *config {
	loadConfig() // Load viper config from settings file(s) and environment
	return &config{
		NumProcs:              viper.GetInt("num_procs"),
		NumMapThreads:         viper.GetInt("num_map_threads"),
		NumReduceThreads:      viper.GetInt("num_reduce_threads"),
		NumMergeThreads:       viper.GetInt("num_merge_threads"),
		L1CacheSize:           viper.GetInt("l1_cache_size"),
		KeyMatchFactor:        viper.GetFloat64("key_match_factor"),
		ReduceTasks:           viper.GetInt("reduce_tasks"),
		OneQueuePerMapTask:    viper.GetBool("one_queue_per_map_task"),
		OneQueuePerReduceTask: viper.GetBool("one_queue_per_reduce_task"),
		BindCPUs:              viper.GetBool("bind_cpus"),
		StrictAffinity:        viper.GetBool("strict_affinity"),
		Growth: sortedrun.Policy{
			InitialCapacity: viper.GetInt("initial_capacity"),
			GrowthFactor:    viper.GetInt("growth_factor"),
		},
		Progress: viper.GetBool("progress"),
	}
}

// Option allows configuration of a Driver
type Option func(*config)

// NewDriver creates a new Driver with the provided job and optional configuration
func NewDriver[T, K, V any](job *Job[T, K, V], options ...Option) *Driver[T, K, V] {
	d := &Driver[T, K, V]{
		job: job,
	}

	c := newConfig()
	for _, f := range options {
		f(c)
	}
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	d.config = c
	log.Debugf("Loaded config: %#v", c)

	return d
}

// WithNumProcs limits the number of processors the Driver schedules onto
func WithNumProcs(n int) Option {
	return func(c *config) {
		c.NumProcs = n
	}
}

// WithMapThreads sets the number of Map phase workers
func WithMapThreads(n int) Option {
	return func(c *config) {
		c.NumMapThreads = n
	}
}

// WithReduceThreads sets the number of Reduce phase workers
func WithReduceThreads(n int) Option {
	return func(c *config) {
		c.NumReduceThreads = n
	}
}

// WithMergeThreads sets the maximum number of Merge phase workers
func WithMergeThreads(n int) Option {
	return func(c *config) {
		c.NumMergeThreads = n
	}
}

// WithL1CacheSize sets the cache size, in bytes, used to size map chunks and
// derive the reduce task count
func WithL1CacheSize(s int) Option {
	return func(c *config) {
		c.L1CacheSize = s
	}
}

// WithKeyMatchFactor sets the expected number of values per key
func WithKeyMatchFactor(f float64) Option {
	return func(c *config) {
		c.KeyMatchFactor = f
	}
}

// WithReduceTasks fixes the number of reduce tasks instead of deriving it
// from the cache size and key match factor
func WithReduceTasks(n int) Option {
	return func(c *config) {
		c.ReduceTasks = n
	}
}

// WithOneQueuePerMapTask gives every map task, rather than every map worker,
// its own column of intermediate runs
func WithOneQueuePerMapTask(enabled bool) Option {
	return func(c *config) {
		c.OneQueuePerMapTask = enabled
	}
}

// WithOneQueuePerReduceTask selects whether final runs are kept per reduce
// task (true) or per reduce worker (false)
func WithOneQueuePerReduceTask(enabled bool) Option {
	return func(c *config) {
		c.OneQueuePerReduceTask = enabled
	}
}

// WithCPUBinding pins every worker thread to a CPU
func WithCPUBinding(enabled bool) Option {
	return func(c *config) {
		c.BindCPUs = enabled
	}
}

// WithStrictAffinity makes a failed CPU bind fail the run
func WithStrictAffinity(enabled bool) Option {
	return func(c *config) {
		c.StrictAffinity = enabled
	}
}

// WithGrowthPolicy sets the initial capacity and growth factor of sorted runs
func WithGrowthPolicy(initialCapacity, growthFactor int) Option {
	return func(c *config) {
		c.Growth = sortedrun.Policy{
			InitialCapacity: initialCapacity,
			GrowthFactor:    growthFactor,
		}
	}
}

// WithProgress shows a progress bar for each phase
func WithProgress(enabled bool) Option {
	return func(c *config) {
		c.Progress = enabled
	}
}

// plan is the resolved sizing of a single run.
type plan struct {
	cpus          []int
	mapThreads    int
	reduceThreads int
	mergeThreads  int
	reduceTasks   int
	chunkRecords  int
	finalRuns     int
	columns       int
}

func (c *config) resolve(dataSize, unitSize, elemBytes int) (*plan, error) {
	if c.NumProcs < 0 || c.NumMapThreads < 0 || c.NumReduceThreads < 0 ||
		c.NumMergeThreads < 0 || c.ReduceTasks < 0 || c.L1CacheSize < 0 || c.KeyMatchFactor < 0 {
		return nil, fmt.Errorf("%w: negative count in %+v", ErrInvalidConfig, *c)
	}

	cpus, err := affinity.Available()
	if err != nil {
		return nil, err
	}
	if c.NumProcs > len(cpus) {
		return nil, fmt.Errorf("%w: %d requested, %d available", ErrTooManyProcs, c.NumProcs, len(cpus))
	}
	if c.NumProcs > 0 {
		cpus = cpus[:c.NumProcs]
	}
	procs := len(cpus)

	p := &plan{cpus: cpus}

	p.mapThreads = procs
	if c.NumMapThreads > 0 {
		p.mapThreads = c.NumMapThreads
	}
	p.reduceThreads = procs
	if c.NumReduceThreads > 0 {
		p.reduceThreads = c.NumReduceThreads
	}

	cacheSize := c.L1CacheSize
	if cacheSize == 0 {
		cacheSize = 64 * 1024
	}
	keyMatchFactor := c.KeyMatchFactor
	if keyMatchFactor == 0 {
		keyMatchFactor = 2
	}
	p.chunkRecords = chunkRecords(cacheSize, unitSize, elemBytes)
	p.reduceTasks = c.ReduceTasks
	if p.reduceTasks == 0 {
		p.reduceTasks = computeReduceTasks(keyMatchFactor, dataSize*elemBytes, cacheSize)
	}

	p.mergeThreads = max(p.reduceThreads/2, 1)
	if c.NumMergeThreads > 0 {
		p.mergeThreads = c.NumMergeThreads
	}
	if c.OneQueuePerReduceTask {
		p.finalRuns = p.reduceTasks
		p.mergeThreads = min(procs, max(p.reduceTasks/2, p.mergeThreads))
	} else {
		p.finalRuns = p.reduceThreads
	}

	if !c.OneQueuePerMapTask {
		p.columns = p.mapThreads
	}
	return p, nil
}

// runState is everything one invocation of Run shares between its workers.
type runState[T, K, V any] struct {
	job    *Job[T, K, V]
	config *config
	plan   *plan
	cmp    sortedrun.Compare[K]

	splitterLock sync.Mutex
	splitter     Splitter[T]
	mapTasks     int

	intermediate *intermediateStore[K, V]

	claimLock      sync.Mutex
	nextReduceTask int

	final []*sortedrun.Run[K, V]

	intermediateKeys atomic.Int64
	bindFailures     atomic.Int64
}

// Run executes the job and returns every emitted pair in ascending key
// order. Either all three phases complete or an error is returned; partial
// results are never returned.
func (d *Driver[T, K, V]) Run(ctx context.Context) (*Result[K, V], error) {
	if err := d.job.validate(); err != nil {
		return nil, err
	}

	dataSize := d.job.dataSize()
	elemBytes := elemSize[T]()
	p, err := d.config.resolve(dataSize, d.job.UnitSize, elemBytes)
	if err != nil {
		return nil, err
	}

	result := &Result[K, V]{Pairs: []KeyValue[K, V]{}}
	if dataSize == 0 {
		log.Debugf("No input data")
		return result, nil
	}

	log.Debugf("Input size: %s, chunk size: %d records, reduce tasks: %d",
		humanize.Bytes(uint64(dataSize*elemBytes)), p.chunkRecords, p.reduceTasks)

	s := &runState[T, K, V]{
		job:          d.job,
		config:       d.config,
		plan:         p,
		cmp:          sortedrun.Compare[K](d.job.KeyCmp),
		splitter:     d.job.splitter(),
		intermediate: newIntermediateStore[K, V](p.reduceTasks, p.columns),
		final:        make([]*sortedrun.Run[K, V], p.finalRuns),
	}
	for i := range s.final {
		s.final[i] = sortedrun.NewRun[K, V](s.cmp, d.config.Growth)
	}

	start := time.Now()
	if err := s.runPhase(ctx, MapPhase, p.mapThreads, 0, s.mapWorker); err != nil {
		return nil, err
	}
	result.Stats.MapTasks = s.mapTasks
	result.Stats.MapTime = time.Since(start)
	log.Debugf("Map phase done: %d tasks in %s", s.mapTasks, result.Stats.MapTime)

	start = time.Now()
	if err := s.runPhase(ctx, ReducePhase, p.reduceThreads, p.reduceTasks, s.reduceWorker); err != nil {
		return nil, err
	}
	s.intermediate = nil
	result.Stats.ReduceTasks = p.reduceTasks
	result.Stats.ReduceTime = time.Since(start)
	log.Debugf("Reduce phase done: %d tasks in %s", p.reduceTasks, result.Stats.ReduceTime)

	start = time.Now()
	merged, rounds, err := s.mergeRuns(ctx, s.final)
	if err != nil {
		return nil, err
	}
	s.final = nil
	result.Stats.MergeRounds = rounds
	result.Stats.MergeTime = time.Since(start)
	log.Debugf("Merge phase done: %d rounds in %s", rounds, result.Stats.MergeTime)

	result.Pairs = merged.Entries()
	if result.Pairs == nil {
		result.Pairs = []KeyValue[K, V]{}
	}
	result.Stats.Emitted = len(result.Pairs)
	result.Stats.IntermediateKeys = s.intermediateKeys.Load()
	result.Stats.BindFailures = s.bindFailures.Load()
	return result, nil
}

// nextUnit claims the next work unit. With one queue per map task it also
// allocates the unit's intermediate column, under the same lock.
func (s *runState[T, K, V]) nextUnit(requested int) (Unit[T], []*sortedrun.Grouped[K, V], bool) {
	s.splitterLock.Lock()
	defer s.splitterLock.Unlock()

	unit, ok := s.splitter.Split(requested)
	if !ok {
		return Unit[T]{}, nil, false
	}
	unit.ID = s.mapTasks
	s.mapTasks++

	var column []*sortedrun.Grouped[K, V]
	if s.config.OneQueuePerMapTask {
		column = s.intermediate.addColumn()
	}
	return unit, column, true
}

func (s *runState[T, K, V]) mapWorker(ctx context.Context, worker int, progress func()) error {
	var emitter *mapperEmitter[K, V]
	if !s.config.OneQueuePerMapTask {
		emitter = newMapperEmitter(s.intermediate.columns[worker], s.job.partitionFunc(), s.cmp, s.config.Growth)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		unit, column, ok := s.nextUnit(s.plan.chunkRecords)
		if !ok {
			return nil
		}
		if column != nil {
			emitter = newMapperEmitter(column, s.job.partitionFunc(), s.cmp, s.config.Growth)
		}

		if err := s.job.runMapTask(unit, emitter); err != nil {
			return err
		}
		progress()
	}
}

// claimReduceTask hands out reduce task ids in increasing order. It returns
// false once every task has been claimed.
func (s *runState[T, K, V]) claimReduceTask() (int, bool) {
	s.claimLock.Lock()
	defer s.claimLock.Unlock()

	if s.nextReduceTask >= s.plan.reduceTasks {
		return 0, false
	}
	task := s.nextReduceTask
	s.nextReduceTask++
	return task, true
}

func (s *runState[T, K, V]) reduceWorker(ctx context.Context, worker int, progress func()) error {
	var vals []V
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, ok := s.claimReduceTask()
		if !ok {
			return nil
		}

		out := worker
		if s.config.OneQueuePerReduceTask {
			out = task
		}
		emitter := &reducerEmitter[K, V]{run: s.final[out]}

		consumed, buf, err := s.job.runReduceTask(task, s.intermediate.row(task), emitter, vals)
		vals = buf
		s.intermediateKeys.Add(consumed)
		s.intermediate.release(task)
		if err != nil {
			return err
		}
		progress()
	}
}
