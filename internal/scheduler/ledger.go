package scheduler

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

// Ledger tracks how much of each cluster's capacity is free and moves deployments in and out of the running state
// as capacity is taken and returned.
type Ledger interface {
	// CanAllocate returns true if the cluster has at least request available in every dimension.
	CanAllocate(cluster *model.Cluster, request model.Resources) bool
	// Allocate takes the deployment's resources from the cluster and marks the deployment running.
	Allocate(ctx context.Context, deployment *model.Deployment, cluster *model.Cluster) error
	// Deallocate returns a running deployment's resources to its cluster and moves the deployment to the terminal
	// status given. Returns false without changing anything if the deployment is not running, so capacity is
	// credited at most once however many callers race to release it.
	Deallocate(ctx context.Context, deployment *model.Deployment, cluster *model.Cluster, terminal model.Status) (bool, error)
}

// txLedger applies ledger changes through a store transaction. The cluster and deployment passed in are updated
// in place to match what was written.
type txLedger struct {
	tx    database.Tx
	clock clock.PassiveClock
}

func NewTxLedger(tx database.Tx, clock clock.PassiveClock) Ledger {
	return &txLedger{tx: tx, clock: clock}
}

func (l *txLedger) CanAllocate(cluster *model.Cluster, request model.Resources) bool {
	return request.Fits(cluster.Available)
}

func (l *txLedger) Allocate(ctx context.Context, deployment *model.Deployment, cluster *model.Cluster) error {
	if deployment.ClusterId != cluster.Id {
		return errors.Errorf("deployment %s belongs to cluster %s, not %s", deployment.Id, deployment.ClusterId, cluster.Id)
	}
	if deployment.Status != model.StatusPending {
		return errors.WithStack(&capstanerrors.ErrConflict{
			Type:    "deployment",
			Value:   deployment.Id,
			Message: "cannot allocate a deployment in status " + string(deployment.Status),
		})
	}
	if !l.CanAllocate(cluster, deployment.Resources) {
		return errors.WithStack(&capstanerrors.ErrInsufficientResources{
			ClusterId: cluster.Id,
			Requested: deployment.Resources.String(),
			Available: cluster.Available.String(),
		})
	}

	cluster.Available = cluster.Available.Sub(deployment.Resources)
	if err := l.tx.UpdateCluster(ctx, cluster); err != nil {
		return err
	}

	now := l.clock.Now()
	deployment.Status = model.StatusRunning
	if deployment.Scheduled == nil {
		deployment.Scheduled = &now
	}
	if deployment.Started == nil {
		deployment.Started = &now
	}
	return l.tx.UpdateDeployment(ctx, deployment)
}

func (l *txLedger) Deallocate(ctx context.Context, deployment *model.Deployment, cluster *model.Cluster, terminal model.Status) (bool, error) {
	if !terminal.IsTerminal() {
		return false, errors.Errorf("cannot release deployment %s into non-terminal status %s", deployment.Id, terminal)
	}
	if deployment.ClusterId != cluster.Id {
		return false, errors.Errorf("deployment %s belongs to cluster %s, not %s", deployment.Id, deployment.ClusterId, cluster.Id)
	}

	released, err := l.tx.TransitionStatus(ctx, deployment, model.StatusRunning, model.StatusReleasing)
	if err != nil || !released {
		return false, err
	}

	credited := cluster.Available.Add(deployment.Resources)
	if credited.Exceeds(cluster.Total) {
		return false, errors.Errorf(
			"releasing deployment %s would raise available capacity of cluster %s to %s, above its total %s",
			deployment.Id, cluster.Id, credited, cluster.Total)
	}
	cluster.Available = credited
	if err := l.tx.UpdateCluster(ctx, cluster); err != nil {
		return false, err
	}

	now := l.clock.Now()
	deployment.Status = terminal
	if deployment.Completed == nil {
		deployment.Completed = &now
	}
	if err := l.tx.UpdateDeployment(ctx, deployment); err != nil {
		return false, err
	}
	return true, nil
}
