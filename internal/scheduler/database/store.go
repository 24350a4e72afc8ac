package database

import (
	"context"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

// DeploymentFilter narrows ListDeployments. Empty fields match everything.
type DeploymentFilter struct {
	ClusterId string
	Status    model.Status
	Owner     string
	// Zero means no limit.
	Limit int
}

func (f DeploymentFilter) matches(d *model.Deployment) bool {
	if f.ClusterId != "" && d.ClusterId != f.ClusterId {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	return true
}

// Reader provides point-in-time reads. Records returned are copies and may be modified freely.
type Reader interface {
	GetCluster(ctx context.Context, id string) (*model.Cluster, error)
	GetClusterByName(ctx context.Context, name string) (*model.Cluster, error)
	ListClusters(ctx context.Context) ([]*model.Cluster, error)
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	// ListDeployments returns matching deployments ordered by creation time.
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*model.Deployment, error)
}

// Tx is a unit of work over clusters and deployments. Reads inside a Tx lock the rows they return until the
// transaction ends. Callers lock a deployment's cluster before the deployment itself; LockDeployment does this.
type Tx interface {
	Reader
	// DeploymentClusterId returns the cluster a deployment is placed on without locking the deployment.
	DeploymentClusterId(ctx context.Context, deploymentId string) (string, error)
	RunningDeployments(ctx context.Context, clusterId string) ([]*model.Deployment, error)
	InsertCluster(ctx context.Context, cluster *model.Cluster) error
	// UpdateCluster writes cluster if its version matches the stored one and bumps cluster.Version.
	UpdateCluster(ctx context.Context, cluster *model.Cluster) error
	InsertDeployment(ctx context.Context, deployment *model.Deployment) error
	// UpdateDeployment writes deployment if its version matches the stored one and bumps deployment.Version.
	UpdateDeployment(ctx context.Context, deployment *model.Deployment) error
	// TransitionStatus moves the stored deployment from one status to another if, and only if, it is currently in
	// status from. On success deployment is updated to match the stored record. Returns false when the stored
	// status differs.
	TransitionStatus(ctx context.Context, deployment *model.Deployment, from, to model.Status) (bool, error)
}

// Store persists clusters and deployments.
type Store interface {
	Reader
	// WithTx runs fn inside a transaction, committing if fn returns nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// LockDeployment locks the cluster a deployment is placed on and then the deployment. The returned cluster is nil
// if it no longer exists.
func LockDeployment(ctx context.Context, tx Tx, deploymentId string) (*model.Deployment, *model.Cluster, error) {
	// A deployment never moves between clusters, so an unlocked read is enough to find which cluster to lock.
	clusterId, err := tx.DeploymentClusterId(ctx, deploymentId)
	if err != nil {
		return nil, nil, err
	}
	cluster, err := tx.GetCluster(ctx, clusterId)
	if err != nil && !isNotFound(err) {
		return nil, nil, err
	}
	deployment, err := tx.GetDeployment(ctx, deploymentId)
	if err != nil {
		return nil, nil, err
	}
	return deployment, cluster, nil
}
