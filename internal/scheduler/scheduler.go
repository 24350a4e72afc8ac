package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/logging"
	"github.com/G-Research/capstan/internal/scheduler/configuration"
	"github.com/G-Research/capstan/internal/scheduler/metrics"
)

// Scheduler is the single consumer of the task queue. It takes the highest priority task, asks the admission
// controller to place it and puts it back on the queue if it could not be placed yet.
type Scheduler struct {
	queue     *TaskQueue
	admission *AdmissionController
	clock     clock.Clock
	metrics   *metrics.SchedulerMetrics
	// Maximum time to block waiting for a task.
	dequeueTimeout time.Duration
	// Delay after a task is requeued because it did not fit.
	retryInterval time.Duration
	// Delay after an attempt fails unexpectedly.
	errorBackoff time.Duration

	// Guards the worker lifecycle below.
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(
	queue *TaskQueue,
	admission *AdmissionController,
	clock clock.Clock,
	config configuration.SchedulingConfig,
	metrics *metrics.SchedulerMetrics,
) *Scheduler {
	return &Scheduler{
		queue:          queue,
		admission:      admission,
		clock:          clock,
		metrics:        metrics,
		dequeueTimeout: config.DequeueTimeout,
		retryInterval:  config.RetryInterval,
		errorBackoff:   config.ErrorBackoff,
	}
}

// Start launches the scheduling worker in the background. Calling Start while a worker is running has no effect.
// Returns true if a new worker was started.
func (s *Scheduler) Start(ctx *capstancontext.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return false
	}
	ctx, cancel := capstancontext.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.WithStacktrace(ctx.Log, err).Error("Scheduler stopped unexpectedly")
		}
	}()
	return true
}

// Stop signals the worker started by Start to exit and waits until it has. Calling Stop when no worker is
// running has no effect.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run processes tasks until ctx is cancelled. A failure or panic while handling one task never stops the loop.
func (s *Scheduler) Run(ctx *capstancontext.Context) error {
	ctx.Log.Infof("Starting scheduler with dequeue timeout %s, retry interval %s", s.dequeueTimeout, s.retryInterval)
	defer ctx.Log.Info("Scheduler stopped")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cycle(ctx)
	}
}

func (s *Scheduler) cycle(ctx *capstancontext.Context) {
	if s.metrics != nil {
		s.metrics.SetQueueDepth(s.queue.Len())
	}
	task, ok := s.queue.Dequeue(ctx, s.dequeueTimeout)
	if !ok {
		return
	}

	start := s.clock.Now()
	outcome, err := s.attempt(ctx, task)
	if s.metrics != nil {
		label := outcome.String()
		if err != nil {
			label = "error"
		}
		s.metrics.ReportAttempt(label, s.clock.Since(start))
	}

	if err != nil {
		logging.
			WithStacktrace(ctx.Log, err).
			WithField("deploymentId", task.DeploymentId).
			Error("Admission attempt failed; requeueing")
		s.queue.Enqueue(task)
		s.wait(ctx, s.errorBackoff)
		return
	}
	if outcome == Retry {
		s.queue.Enqueue(task)
		s.wait(ctx, s.retryInterval)
	}
}

// attempt runs a single admission attempt, converting a panic into an error.
func (s *Scheduler) attempt(ctx *capstancontext.Context, task *SchedulingTask) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = Retry
			err = errors.Errorf("panic during admission of deployment %s: %v", task.DeploymentId, r)
		}
	}()
	return s.admission.Attempt(ctx, task)
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}
