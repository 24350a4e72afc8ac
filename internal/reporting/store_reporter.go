package reporting

import (
	"context"

	"github.com/G-Research/capstan/internal/scheduler/database"
)

// StoreReporter builds summaries from any store, reading every cluster and deployment.
type StoreReporter struct {
	reader database.Reader
}

func NewStoreReporter(reader database.Reader) *StoreReporter {
	return &StoreReporter{reader: reader}
}

func (r *StoreReporter) Summary(ctx context.Context) (*Summary, error) {
	clusters, err := r.reader.ListClusters(ctx)
	if err != nil {
		return nil, err
	}
	deployments, err := r.reader.ListDeployments(ctx, database.DeploymentFilter{})
	if err != nil {
		return nil, err
	}

	summary := newSummary()
	for _, c := range clusters {
		summary.addCluster(c)
	}
	for _, d := range deployments {
		summary.addCount(d.Status, 1)
	}
	summary.sortClusters()
	return summary, nil
}
