package scheduler

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	commondb "github.com/G-Research/capstan/internal/common/database"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/events"
	"github.com/G-Research/capstan/internal/scheduler/metrics"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

const gib = int64(1024 * 1024 * 1024)

type testEnv struct {
	store     database.Store
	queue     *TaskQueue
	eventLog  *events.MemoryEventLog
	clock     *clocktesting.FakeClock
	metrics   *metrics.SchedulerMetrics
	reports   *AttemptReportRepository
	admission *AdmissionController
	service   *DeploymentService
}

func newTestEnv(t *testing.T, preemptionEnabled bool) *testEnv {
	store, err := database.NewMemoryStore()
	require.NoError(t, err)
	return newTestEnvWithStore(t, store, preemptionEnabled)
}

func newTestEnvWithStore(t *testing.T, store database.Store, preemptionEnabled bool) *testEnv {
	queue := NewTaskQueue()
	eventLog := events.NewMemoryEventLog()
	clock := clocktesting.NewFakeClock(t0)
	schedulerMetrics := metrics.NewSchedulerMetrics(prometheus.NewRegistry())
	reports, err := NewAttemptReportRepository(100)
	require.NoError(t, err)
	return &testEnv{
		store:     store,
		queue:     queue,
		eventLog:  eventLog,
		clock:     clock,
		metrics:   schedulerMetrics,
		reports:   reports,
		admission: NewAdmissionController(store, eventLog, clock, preemptionEnabled, schedulerMetrics, reports),
		service:   NewDeploymentService(store, queue, eventLog, reports, clock),
	}
}

func (e *testEnv) createCluster(t *testing.T, name string, total model.Resources) *model.Cluster {
	cluster, err := e.service.CreateCluster(capstancontext.Background(), CreateClusterRequest{Name: name, Resources: total})
	require.NoError(t, err)
	return cluster
}

func (e *testEnv) submit(t *testing.T, clusterId string, priority model.Priority, request model.Resources) *model.Deployment {
	e.clock.Step(time.Millisecond)
	d, err := e.service.Submit(capstancontext.Background(), SubmitRequest{
		Name:      "job",
		Image:     "busybox",
		Owner:     "alice",
		ClusterId: clusterId,
		Resources: request,
		Priority:  priority,
	})
	require.NoError(t, err)
	return d
}

// withTestStores runs action against the in-memory store and, when one is reachable, a Postgres store.
func withTestStores(t *testing.T, action func(t *testing.T, store database.Store)) {
	t.Run("memory", func(t *testing.T) {
		store, err := database.NewMemoryStore()
		require.NoError(t, err)
		action(t, store)
	})
	t.Run("postgres", func(t *testing.T) {
		migrations, err := database.Migrations()
		require.NoError(t, err)
		err = commondb.WithTestDb(migrations, func(db *pgxpool.Pool) error {
			action(t, database.NewPostgresStore(db))
			return nil
		})
		if errors.Is(err, commondb.ErrNoTestDatabase) {
			t.Skip("postgres not available")
		}
		require.NoError(t, err)
	})
}

// admitNext dequeues the next task and attempts it, requeueing on Retry the way the scheduler loop does.
func (e *testEnv) admitNext(t *testing.T) (*SchedulingTask, Outcome) {
	task, ok := e.queue.Dequeue(capstancontext.Background(), time.Millisecond)
	require.True(t, ok, "expected a queued task")
	outcome, err := e.admission.Attempt(capstancontext.Background(), task)
	require.NoError(t, err)
	if outcome == Retry {
		e.queue.Enqueue(task)
	}
	return task, outcome
}

func (e *testEnv) deployment(t *testing.T, id string) *model.Deployment {
	d, err := e.store.GetDeployment(capstancontext.Background(), id)
	require.NoError(t, err)
	return d
}

func (e *testEnv) cluster(t *testing.T, id string) *model.Cluster {
	c, err := e.store.GetCluster(capstancontext.Background(), id)
	require.NoError(t, err)
	return c
}

// assertLedgerConsistent checks that every cluster's available capacity equals its total minus the resources of
// its running deployments, and stays within bounds.
func (e *testEnv) assertLedgerConsistent(t *testing.T) {
	ctx := capstancontext.Background()
	clusters, err := e.store.ListClusters(ctx)
	require.NoError(t, err)
	for _, c := range clusters {
		running, err := e.store.ListDeployments(ctx, database.DeploymentFilter{ClusterId: c.Id, Status: model.StatusRunning})
		require.NoError(t, err)
		held := model.Resources{}
		for _, d := range running {
			held = held.Add(d.Resources)
		}
		require.Equal(t, c.Total.Sub(held), c.Available, "cluster %s", c.Name)
		require.False(t, c.Available.IsNegative(), "cluster %s", c.Name)
		require.True(t, c.Available.Fits(c.Total), "cluster %s", c.Name)
	}
}
