package scheduler

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/common/logging"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/events"
	"github.com/G-Research/capstan/internal/scheduler/metrics"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

// Outcome is the result of one admission attempt.
type Outcome int

const (
	// Retry means the deployment could not be placed yet and its task should go back on the queue.
	Retry Outcome = iota
	// Admitted means the deployment is now running.
	Admitted
	// Dropped means the task is stale or the deployment can never be placed; it must not be retried.
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Retry:
		return "retry"
	case Admitted:
		return "admitted"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// AdmissionController makes a single attempt to place a pending deployment on its cluster, preempting lower
// priority deployments where allowed. Every attempt runs inside one store transaction: either all of its status and
// capacity changes are committed or none are.
type AdmissionController struct {
	store             database.Store
	publisher         events.Publisher
	clock             clock.PassiveClock
	preemptionEnabled bool
	metrics           *metrics.SchedulerMetrics
	// Optional; records the outcome of every attempt.
	reports *AttemptReportRepository
}

func NewAdmissionController(
	store database.Store,
	publisher events.Publisher,
	clock clock.PassiveClock,
	preemptionEnabled bool,
	metrics *metrics.SchedulerMetrics,
	reports *AttemptReportRepository,
) *AdmissionController {
	return &AdmissionController{
		store:             store,
		publisher:         publisher,
		clock:             clock,
		preemptionEnabled: preemptionEnabled,
		metrics:           metrics,
		reports:           reports,
	}
}

// Attempt tries to admit the deployment referred to by task. Capacity shortfalls and concurrent modifications are
// reported as Retry rather than as errors; an error is only returned for unexpected failures.
func (a *AdmissionController) Attempt(ctx *capstancontext.Context, task *SchedulingTask) (Outcome, error) {
	ctx = capstancontext.WithLogFields(ctx, map[string]interface{}{
		"deploymentId": task.DeploymentId,
		"clusterId":    task.ClusterId,
		"priority":     task.Priority.String(),
	})

	var outcome Outcome
	var reason string
	var pending []*events.Event
	var preempted int
	err := a.store.WithTx(ctx, func(tx database.Tx) error {
		outcome, reason, pending, preempted = Retry, "", nil, 0

		deployment, cluster, err := database.LockDeployment(ctx, tx, task.DeploymentId)
		if capstanerrors.IsNotFound(err) {
			ctx.Log.Info("Deployment no longer exists; dropping task")
			outcome, reason = Dropped, "deployment no longer exists"
			return nil
		} else if err != nil {
			return err
		}
		if deployment.Status != model.StatusPending {
			ctx.Log.Infof("Deployment is %s; dropping stale task", deployment.Status)
			outcome, reason = Dropped, fmt.Sprintf("deployment is %s", deployment.Status)
			return nil
		}

		if cluster == nil || !cluster.Active {
			now := a.clock.Now()
			deployment.Status = model.StatusFailed
			deployment.Completed = &now
			if err := tx.UpdateDeployment(ctx, deployment); err != nil {
				return err
			}
			reason = "cluster no longer exists"
			if cluster != nil {
				reason = "cluster is inactive"
			}
			ctx.Log.Warnf("Failing deployment: %s", reason)
			pending = append(pending, a.event(deployment, events.Failed, reason))
			outcome = Dropped
			return nil
		}

		ledger := NewTxLedger(tx, a.clock)
		if ledger.CanAllocate(cluster, deployment.Resources) {
			if err := ledger.Allocate(ctx, deployment, cluster); err != nil {
				return err
			}
			pending = append(pending, a.event(deployment, events.Scheduled, ""))
			outcome = Admitted
			return nil
		}

		reason = fmt.Sprintf("insufficient capacity: requested %s, available %s", deployment.Resources, cluster.Available)
		if !a.preemptionEnabled || deployment.Priority.Rank() < model.PreemptionEligiblePriority.Rank() {
			ctx.Log.Debugf("Insufficient capacity: requested %s, available %s", deployment.Resources, cluster.Available)
			return nil
		}

		running, err := tx.RunningDeployments(ctx, cluster.Id)
		if err != nil {
			return err
		}
		victims, ok := SelectVictims(cluster, deployment.Resources, deployment.Priority, running)
		if !ok {
			ctx.Log.Debugf("Preempting every lower priority deployment would not free %s", deployment.Resources)
			reason += "; preempting lower priority deployments would not free enough"
			return nil
		}
		for _, victim := range victims {
			released, err := ledger.Deallocate(ctx, victim, cluster, model.StatusPreempted)
			if err != nil {
				return err
			}
			if !released {
				return errors.WithStack(&capstanerrors.ErrConflict{
					Type:    "deployment",
					Value:   victim.Id,
					Message: "preemption victim stopped running",
				})
			}
			ctx.Log.Infof("Preempting deployment %s (priority %s)", victim.Id, victim.Priority)
			pending = append(pending, a.event(victim, events.Preempted, "preempted by "+deployment.Id))
			preempted++
		}
		if err := ledger.Allocate(ctx, deployment, cluster); err != nil {
			return err
		}
		reason = fmt.Sprintf("preempted %d deployments", len(victims))
		pending = append(pending, a.event(deployment, events.Scheduled, reason))
		outcome = Admitted
		return nil
	})

	if err != nil {
		a.report(task, Retry, err.Error())
		if capstanerrors.IsConflict(err) || capstanerrors.IsInsufficientResources(err) {
			ctx.Log.WithError(err).Info("Admission attempt abandoned; will retry")
			return Retry, nil
		}
		return Retry, err
	}
	a.report(task, outcome, reason)

	if outcome == Admitted {
		ctx.Log.Info("Deployment admitted")
	}
	if preempted > 0 && a.metrics != nil {
		a.metrics.ReportPreempted(task.ClusterId, preempted)
	}
	a.publish(ctx, pending)
	return outcome, nil
}

func (a *AdmissionController) report(task *SchedulingTask, outcome Outcome, reason string) {
	if a.reports == nil {
		return
	}
	a.reports.Add(&AttemptReport{
		DeploymentId: task.DeploymentId,
		ClusterId:    task.ClusterId,
		Time:         a.clock.Now(),
		Outcome:      outcome.String(),
		Reason:       reason,
	})
}

func (a *AdmissionController) event(d *model.Deployment, eventType events.EventType, message string) *events.Event {
	return &events.Event{
		DeploymentId: d.Id,
		ClusterId:    d.ClusterId,
		Type:         eventType,
		Time:         a.clock.Now(),
		Message:      message,
	}
}

func (a *AdmissionController) publish(ctx *capstancontext.Context, pending []*events.Event) {
	if len(pending) == 0 {
		return
	}
	if err := a.publisher.Publish(ctx, pending...); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Failed to publish deployment events")
	}
}
