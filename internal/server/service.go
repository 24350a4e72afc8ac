package server

import (
	"context"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/scheduler"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/events"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

// DeploymentService is the part of scheduler.DeploymentService the API exposes.
type DeploymentService interface {
	Submit(ctx *capstancontext.Context, req scheduler.SubmitRequest) (*model.Deployment, error)
	Cancel(ctx *capstancontext.Context, id string) (*model.Deployment, error)
	Complete(ctx *capstancontext.Context, id string, succeeded bool) (*model.Deployment, error)
	GetDeployment(ctx context.Context, id string) (*model.Deployment, error)
	ListDeployments(ctx context.Context, filter database.DeploymentFilter) ([]*model.Deployment, error)
	DeploymentEvents(ctx context.Context, id string) ([]*events.Event, error)
	SchedulingReport(ctx context.Context, id string) (*scheduler.AttemptReport, error)
	CreateCluster(ctx *capstancontext.Context, req scheduler.CreateClusterRequest) (*model.Cluster, error)
	SetClusterActive(ctx *capstancontext.Context, id string, active bool) (*model.Cluster, error)
	GetCluster(ctx context.Context, id string) (*model.Cluster, error)
	ListClusters(ctx context.Context) ([]*model.Cluster, error)
}

var _ DeploymentService = (*scheduler.DeploymentService)(nil)
