package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

func TestAttemptReportRepository(t *testing.T) {
	repo, err := NewAttemptReportRepository(2)
	require.NoError(t, err)

	_, ok := repo.Get("a")
	assert.False(t, ok)

	repo.Add(&AttemptReport{DeploymentId: "a", Outcome: "retry"})
	repo.Add(&AttemptReport{DeploymentId: "a", Outcome: "admitted"})
	report, ok := repo.Get("a")
	require.True(t, ok)
	assert.Equal(t, "admitted", report.Outcome)
	assert.Equal(t, 2, report.Attempts)

	// Capacity is two, so the least recently used deployment is evicted.
	repo.Add(&AttemptReport{DeploymentId: "b"})
	repo.Add(&AttemptReport{DeploymentId: "c"})
	assert.Equal(t, 2, repo.Len())
	_, ok = repo.Get("a")
	assert.False(t, ok)
}

func TestNewAttemptReportRepository_ZeroSize(t *testing.T) {
	_, err := NewAttemptReportRepository(0)
	assert.Error(t, err)
}

func TestAdmission_RecordsReports(t *testing.T) {
	env := newTestEnv(t, true)
	cluster := env.createCluster(t, "c", model.Resources{CPU: 4})
	low := env.submit(t, cluster.Id, model.PriorityLow, model.Resources{CPU: 4})
	_, outcome := env.admitNext(t)
	require.Equal(t, Admitted, outcome)

	blocked := env.submit(t, cluster.Id, model.PriorityMedium, model.Resources{CPU: 4})
	critical := env.submit(t, cluster.Id, model.PriorityCritical, model.Resources{CPU: 4})

	steps := []struct {
		id       string
		outcome  Outcome
		reason   string
		attempts int
	}{
		{id: critical.Id, outcome: Admitted, reason: "preempted 1 deployments", attempts: 1},
		{id: blocked.Id, outcome: Retry, reason: "insufficient capacity", attempts: 1},
		{id: blocked.Id, outcome: Retry, reason: "insufficient capacity", attempts: 2},
	}
	for _, step := range steps {
		task, outcome := env.admitNext(t)
		require.Equal(t, step.id, task.DeploymentId)
		assert.Equal(t, step.outcome, outcome)
		report, err := env.service.SchedulingReport(capstancontext.Background(), step.id)
		require.NoError(t, err)
		assert.Equal(t, step.outcome.String(), report.Outcome)
		assert.Contains(t, report.Reason, step.reason)
		assert.Equal(t, step.attempts, report.Attempts)
		assert.Equal(t, env.clock.Now(), report.Time)
	}

	report, err := env.service.SchedulingReport(capstancontext.Background(), low.Id)
	require.NoError(t, err)
	assert.Equal(t, "admitted", report.Outcome)

	_, err = env.service.SchedulingReport(capstancontext.Background(), "missing")
	assert.True(t, capstanerrors.IsNotFound(err))
}
