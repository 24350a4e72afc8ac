package scheduler

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// AttemptReport describes the most recent admission attempt for a deployment.
// It answers "why is my deployment still pending?" without reading the logs.
type AttemptReport struct {
	DeploymentId string    `json:"deploymentId"`
	ClusterId    string    `json:"clusterId"`
	Time         time.Time `json:"time"`
	Outcome      string    `json:"outcome"`
	Reason       string    `json:"reason,omitempty"`
	// Number of attempts seen for this deployment while it has been in the cache.
	Attempts int `json:"attempts"`
}

// AttemptReportRepository keeps the latest AttemptReport per deployment.
// The number of deployments tracked is bounded to control memory usage.
type AttemptReportRepository struct {
	mostRecentByDeploymentId *lru.Cache
	// Serialises read-modify-write of the attempt counter.
	mu sync.Mutex
}

func NewAttemptReportRepository(cacheSize uint) (*AttemptReportRepository, error) {
	cache, err := lru.New(int(cacheSize))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &AttemptReportRepository{mostRecentByDeploymentId: cache}, nil
}

// Add stores report as the most recent for its deployment, carrying over the attempt count.
// Reports must not be mutated once added.
func (repo *AttemptReportRepository) Add(report *AttemptReport) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	report.Attempts = 1
	if previous, ok := repo.get(report.DeploymentId); ok {
		report.Attempts = previous.Attempts + 1
	}
	repo.mostRecentByDeploymentId.Add(report.DeploymentId, report)
}

func (repo *AttemptReportRepository) Get(deploymentId string) (*AttemptReport, bool) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	return repo.get(deploymentId)
}

func (repo *AttemptReportRepository) get(deploymentId string) (*AttemptReport, bool) {
	value, ok := repo.mostRecentByDeploymentId.Get(deploymentId)
	if !ok {
		return nil, false
	}
	return value.(*AttemptReport), true
}

func (repo *AttemptReportRepository) Len() int {
	return repo.mostRecentByDeploymentId.Len()
}
