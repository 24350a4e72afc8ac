package scheduler

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/common/logging"
	"github.com/G-Research/capstan/internal/common/util"
	"github.com/G-Research/capstan/internal/scheduler/configuration"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/events"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

type SubmitRequest struct {
	Name      string
	Image     string
	Owner     string
	ClusterId string
	Resources model.Resources
	// Defaults to MEDIUM when unset.
	Priority model.Priority
	Metadata map[string]string
}

type CreateClusterRequest struct {
	Name      string
	Resources model.Resources
}

// DeploymentService is the entry point for everything other than the scheduler that changes deployments or
// clusters: submission, cancellation, completion and cluster registration.
type DeploymentService struct {
	store    database.Store
	queue    *TaskQueue
	eventLog events.EventLog
	reports  *AttemptReportRepository
	clock    clock.PassiveClock
}

func NewDeploymentService(
	store database.Store,
	queue *TaskQueue,
	eventLog events.EventLog,
	reports *AttemptReportRepository,
	clock clock.PassiveClock,
) *DeploymentService {
	return &DeploymentService{
		store:    store,
		queue:    queue,
		eventLog: eventLog,
		reports:  reports,
		clock:    clock,
	}
}

// Submit validates and persists a new pending deployment and queues it for admission.
func (s *DeploymentService) Submit(ctx *capstancontext.Context, req SubmitRequest) (*model.Deployment, error) {
	if req.Priority == 0 {
		req.Priority = model.DefaultPriority
	}
	if err := validateSubmission(req); err != nil {
		return nil, err
	}

	deployment := &model.Deployment{
		Id:        util.NewULID(),
		Name:      req.Name,
		Image:     req.Image,
		Owner:     req.Owner,
		ClusterId: req.ClusterId,
		Resources: req.Resources,
		Priority:  req.Priority,
		Status:    model.StatusPending,
		Metadata:  req.Metadata,
		Created:   s.clock.Now(),
	}

	err := s.store.WithTx(ctx, func(tx database.Tx) error {
		cluster, err := tx.GetCluster(ctx, req.ClusterId)
		if err != nil {
			return err
		}
		if !cluster.Active {
			return errors.WithStack(&capstanerrors.ErrInvalidArgument{
				Name:    "clusterId",
				Value:   req.ClusterId,
				Message: "cluster is inactive",
			})
		}
		if req.Resources.Exceeds(cluster.Total) {
			return errors.WithStack(&capstanerrors.ErrInvalidArgument{
				Name:    "resources",
				Value:   req.Resources.String(),
				Message: "request exceeds the total capacity of cluster " + cluster.Name + " " + cluster.Total.String(),
			})
		}
		return tx.InsertDeployment(ctx, deployment)
	})
	if err != nil {
		return nil, err
	}

	s.queue.Enqueue(NewSchedulingTask(deployment, deployment.Created))
	ctx.Log.WithField("deploymentId", deployment.Id).Infof("Submitted deployment %s to cluster %s", deployment.Name, deployment.ClusterId)
	s.publish(ctx, deployment, events.Submitted, "")
	return deployment, nil
}

func validateSubmission(req SubmitRequest) error {
	var result *multierror.Error
	required := map[string]string{
		"name":      req.Name,
		"image":     req.Image,
		"owner":     req.Owner,
		"clusterId": req.ClusterId,
	}
	for _, field := range []string{"name", "image", "owner", "clusterId"} {
		if required[field] == "" {
			result = multierror.Append(result, &capstanerrors.ErrInvalidArgument{
				Name:    field,
				Value:   "",
				Message: "must not be empty",
			})
		}
	}
	if req.Resources.IsNegative() {
		result = multierror.Append(result, &capstanerrors.ErrInvalidArgument{
			Name:    "resources",
			Value:   req.Resources.String(),
			Message: "must not be negative",
		})
	}
	if !req.Priority.IsValid() {
		result = multierror.Append(result, &capstanerrors.ErrInvalidArgument{
			Name:    "priority",
			Value:   int(req.Priority),
			Message: "must be one of LOW, MEDIUM, HIGH or CRITICAL",
		})
	}
	return result.ErrorOrNil()
}

// Cancel stops a deployment. A running deployment's capacity is returned to its cluster; a pending deployment is
// removed from the admission queue. Either way the deployment ends up failed. Cancelling a deployment that has
// already finished changes nothing and returns it as it is.
func (s *DeploymentService) Cancel(ctx *capstancontext.Context, id string) (*model.Deployment, error) {
	var result *model.Deployment
	var changed bool
	err := s.store.WithTx(ctx, func(tx database.Tx) error {
		changed = false
		deployment, cluster, err := database.LockDeployment(ctx, tx, id)
		if err != nil {
			return err
		}
		result = deployment

		switch deployment.Status {
		case model.StatusPending:
			now := s.clock.Now()
			deployment.Status = model.StatusFailed
			deployment.Completed = &now
			changed = true
			return tx.UpdateDeployment(ctx, deployment)
		case model.StatusRunning:
			if cluster == nil {
				return errors.Errorf("deployment %s is running on cluster %s which does not exist", id, deployment.ClusterId)
			}
			changed, err = NewTxLedger(tx, s.clock).Deallocate(ctx, deployment, cluster, model.StatusFailed)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.queue.Remove(id)
	if changed {
		ctx.Log.WithField("deploymentId", id).Info("Cancelled deployment")
		s.publish(ctx, result, events.Cancelled, "")
	}
	return result, nil
}

// Complete records that a running deployment has finished and returns its capacity to the cluster.
func (s *DeploymentService) Complete(ctx *capstancontext.Context, id string, succeeded bool) (*model.Deployment, error) {
	terminal, eventType := model.StatusCompleted, events.Completed
	if !succeeded {
		terminal, eventType = model.StatusFailed, events.Failed
	}

	var result *model.Deployment
	err := s.store.WithTx(ctx, func(tx database.Tx) error {
		deployment, cluster, err := database.LockDeployment(ctx, tx, id)
		if err != nil {
			return err
		}
		result = deployment
		notRunning := &capstanerrors.ErrConflict{
			Type:    "deployment",
			Value:   id,
			Message: "only running deployments can complete; deployment is " + string(deployment.Status),
		}
		if deployment.Status != model.StatusRunning || cluster == nil {
			return errors.WithStack(notRunning)
		}
		released, err := NewTxLedger(tx, s.clock).Deallocate(ctx, deployment, cluster, terminal)
		if err != nil {
			return err
		}
		if !released {
			return errors.WithStack(notRunning)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx.Log.WithField("deploymentId", id).Infof("Deployment finished with status %s", result.Status)
	s.publish(ctx, result, eventType, "")
	return result, nil
}

// Recover queues every pending deployment found in the store, in creation order. It is run at startup so that
// deployments submitted before a restart are not forgotten. Returns the number of deployments queued.
func (s *DeploymentService) Recover(ctx *capstancontext.Context) (int, error) {
	pending, err := s.store.ListDeployments(ctx, database.DeploymentFilter{Status: model.StatusPending})
	if err != nil {
		return 0, err
	}
	queued := 0
	for _, d := range pending {
		if s.queue.Enqueue(NewSchedulingTask(d, d.Created)) {
			queued++
		}
	}
	ctx.Log.Infof("Recovered %d pending deployments", queued)
	return queued, nil
}

func (s *DeploymentService) GetDeployment(ctx context.Context, id string) (*model.Deployment, error) {
	return s.store.GetDeployment(ctx, id)
}

func (s *DeploymentService) ListDeployments(ctx context.Context, filter database.DeploymentFilter) ([]*model.Deployment, error) {
	return s.store.ListDeployments(ctx, filter)
}

func (s *DeploymentService) DeploymentEvents(ctx context.Context, id string) ([]*events.Event, error) {
	if _, err := s.store.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	return s.eventLog.ReadEvents(ctx, id)
}

// SchedulingReport returns the outcome of the most recent admission attempt for a deployment.
func (s *DeploymentService) SchedulingReport(ctx context.Context, id string) (*AttemptReport, error) {
	if _, err := s.store.GetDeployment(ctx, id); err != nil {
		return nil, err
	}
	if s.reports != nil {
		if report, ok := s.reports.Get(id); ok {
			return report, nil
		}
	}
	return nil, errors.WithStack(&capstanerrors.ErrNotFound{Type: "scheduling report", Value: id})
}

// CreateCluster registers a new active cluster with all of its capacity available.
func (s *DeploymentService) CreateCluster(ctx *capstancontext.Context, req CreateClusterRequest) (*model.Cluster, error) {
	var result *multierror.Error
	if req.Name == "" {
		result = multierror.Append(result, &capstanerrors.ErrInvalidArgument{Name: "name", Value: "", Message: "must not be empty"})
	}
	if req.Resources.IsNegative() {
		result = multierror.Append(result, &capstanerrors.ErrInvalidArgument{
			Name:    "resources",
			Value:   req.Resources.String(),
			Message: "must not be negative",
		})
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	cluster := &model.Cluster{
		Id:        util.NewULID(),
		Name:      req.Name,
		Total:     req.Resources,
		Available: req.Resources,
		Active:    true,
		Created:   s.clock.Now(),
	}
	err := s.store.WithTx(ctx, func(tx database.Tx) error {
		return tx.InsertCluster(ctx, cluster)
	})
	if err != nil {
		return nil, err
	}
	ctx.Log.WithField("clusterId", cluster.Id).Infof("Created cluster %s with capacity %s", cluster.Name, cluster.Total)
	return cluster, nil
}

// SetClusterActive activates or deactivates a cluster. Pending deployments on an inactive cluster fail when the
// scheduler next attempts them; running deployments are unaffected.
func (s *DeploymentService) SetClusterActive(ctx *capstancontext.Context, id string, active bool) (*model.Cluster, error) {
	var cluster *model.Cluster
	err := s.store.WithTx(ctx, func(tx database.Tx) error {
		var err error
		cluster, err = tx.GetCluster(ctx, id)
		if err != nil {
			return err
		}
		if cluster.Active == active {
			return nil
		}
		cluster.Active = active
		return tx.UpdateCluster(ctx, cluster)
	})
	if err != nil {
		return nil, err
	}
	return cluster, nil
}

func (s *DeploymentService) GetCluster(ctx context.Context, id string) (*model.Cluster, error) {
	return s.store.GetCluster(ctx, id)
}

func (s *DeploymentService) ListClusters(ctx context.Context) ([]*model.Cluster, error) {
	return s.store.ListClusters(ctx)
}

// SeedClusters creates each configured cluster that does not already exist by name. Existing clusters are left as
// they are.
func (s *DeploymentService) SeedClusters(ctx *capstancontext.Context, clusters []configuration.ClusterConfig) error {
	for _, c := range clusters {
		_, err := s.store.GetClusterByName(ctx, c.Name)
		if err == nil {
			ctx.Log.Debugf("Cluster %s already exists", c.Name)
			continue
		}
		if !capstanerrors.IsNotFound(err) {
			return err
		}
		_, err = s.CreateCluster(ctx, CreateClusterRequest{Name: c.Name, Resources: c.Resources()})
		var exists *capstanerrors.ErrAlreadyExists
		if err != nil && !errors.As(err, &exists) {
			return err
		}
	}
	return nil
}

func (s *DeploymentService) publish(ctx *capstancontext.Context, d *model.Deployment, eventType events.EventType, message string) {
	err := s.eventLog.Publish(ctx, &events.Event{
		DeploymentId: d.Id,
		ClusterId:    d.ClusterId,
		Type:         eventType,
		Time:         s.clock.Now(),
		Message:      message,
	})
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Failed to publish deployment event")
	}
}
