package phoenix

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/bcongdon/phoenix/internal/pkg/sortedrun"
)

// mergeGroup is a contiguous range [start, end) of the runs combined into one
// output by a single merge worker.
type mergeGroup struct {
	start int
	end   int
}

// mergeFanIn is the number of runs combined into one output per round, so
// every round halves the run count.
const mergeFanIn = 2

// planMergeRound partitions numRuns runs into ceil(numRuns/fanIn) contiguous
// groups of near-equal size. A lone leftover run forms its own group.
// Earlier groups take the remainder.
func planMergeRound(numRuns, fanIn int) []mergeGroup {
	if numRuns <= 0 {
		return []mergeGroup{}
	}
	fanIn = max(fanIn, 2)

	outputs := (numRuns + fanIn - 1) / fanIn
	perGroup := numRuns / outputs
	extra := numRuns % outputs

	groups := make([]mergeGroup, 0, outputs)
	start := 0
	for i := 0; i < outputs; i++ {
		size := perGroup
		if i < extra {
			size++
		}
		groups = append(groups, mergeGroup{start: start, end: start + size})
		start += size
	}
	return groups
}

// kWayMerge combines sorted runs into one sorted run by repeatedly taking the
// smallest head. Ties go to the lower-indexed run, so the merge is stable.
// The input runs are released.
func kWayMerge[K, V any](runs []*sortedrun.Run[K, V], cmp sortedrun.Compare[K], policy sortedrun.Policy) *sortedrun.Run[K, V] {
	total := 0
	for _, r := range runs {
		total += r.Len()
	}
	out := sortedrun.NewRunWithCapacity[K, V](cmp, policy, total)

	positions := make([]int, len(runs))
	for n := 0; n < total; n++ {
		minIdx := -1
		for i, r := range runs {
			if positions[i] >= r.Len() {
				continue
			}
			if minIdx < 0 || cmp(r.At(positions[i]).Key, runs[minIdx].At(positions[minIdx]).Key) < 0 {
				minIdx = i
			}
		}
		out.Append(runs[minIdx].At(positions[minIdx]))
		positions[minIdx]++
	}

	for _, r := range runs {
		r.Release()
	}
	return out
}

// mergeRuns halves the number of runs round by round until one is left.
// Each round is a full barrier. Every output of a round gets its own worker,
// but at most mergeThreads of them build at once.
func (s *runState[T, K, V]) mergeRuns(ctx context.Context, runs []*sortedrun.Run[K, V]) (*sortedrun.Run[K, V], int, error) {
	sem := semaphore.NewWeighted(int64(s.plan.mergeThreads))
	rounds := 0

	for len(runs) > 1 {
		groups := planMergeRound(len(runs), mergeFanIn)
		outputs := make([]*sortedrun.Run[K, V], len(groups))
		log.Debugf("Merge round %d: %d runs into %d", rounds, len(runs), len(groups))

		input := runs
		err := s.runPhase(ctx, MergePhase, len(groups), len(groups), func(ctx context.Context, worker int, progress func()) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			grp := groups[worker]
			outputs[worker] = kWayMerge(input[grp.start:grp.end], s.cmp, s.config.Growth)
			progress()
			return nil
		})
		if err != nil {
			return nil, rounds, err
		}

		runs = outputs
		rounds++
	}

	if len(runs) == 0 {
		return sortedrun.NewRun[K, V](s.cmp, s.config.Growth), rounds, nil
	}
	return runs[0], rounds, nil
}
