package phoenix

import (
	"context"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/bcongdon/phoenix/internal/pkg/affinity"
)

// bindToCPU pins the calling goroutine's OS thread to a CPU.
var bindToCPU = affinity.BindToCPU

// workerFunc is the loop run by one worker of a phase. progress must be
// called once per completed task.
type workerFunc func(ctx context.Context, worker int, progress func()) error

// runPhase starts workers goroutines running work, optionally pins each to a
// CPU, and waits for all of them. The first error cancels the context passed
// to the remaining workers and is returned once every worker has exited.
// total is the number of tasks expected, used only for the progress bar.
func (s *runState[T, K, V]) runPhase(ctx context.Context, phase Phase, workers, total int, work workerFunc) error {
	progress := func() {}
	if s.config.Progress {
		bar := pb.New(total).Prefix(phase.String()).Start()
		defer bar.Finish()
		progress = func() { bar.Increment() }
	}

	placement := affinity.Distribute(workers, s.plan.cpus)
	log.Debugf("Starting %d %s workers on %d processors", workers, phase, len(s.plan.cpus))

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			if s.config.BindCPUs {
				if err := s.bind(phase, worker, placement[worker]); err != nil {
					return err
				}
			}
			return work(gctx, worker, progress)
		})
	}
	return g.Wait()
}

// bind pins the calling worker to cpu. Failures are logged and counted
// unless strict affinity is configured.
func (s *runState[T, K, V]) bind(phase Phase, worker, cpu int) error {
	err := bindToCPU(cpu)
	if err == nil {
		return nil
	}
	if s.config.StrictAffinity {
		return err
	}
	s.bindFailures.Add(1)
	log.Warnf("%s worker %d running unbound: %s", phase, worker, err)
	return nil
}
