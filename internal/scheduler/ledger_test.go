package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

func TestLedger_CanAllocate(t *testing.T) {
	cluster := &model.Cluster{Available: model.Resources{RAM: 8 * gib, CPU: 4, GPU: 1}}
	l := NewTxLedger(nil, nil)
	assert.True(t, l.CanAllocate(cluster, model.Resources{RAM: 8 * gib, CPU: 4, GPU: 1}))
	assert.True(t, l.CanAllocate(cluster, model.Resources{}))
	assert.False(t, l.CanAllocate(cluster, model.Resources{RAM: 8*gib + 1}))
	assert.False(t, l.CanAllocate(cluster, model.Resources{GPU: 2}))
}

func TestLedger_AllocateDeallocateRoundTrip(t *testing.T) {
	env := newTestEnv(t, false)
	cluster := env.createCluster(t, "c", model.Resources{RAM: 16 * gib, CPU: 8, GPU: 2})
	d := env.submit(t, cluster.Id, model.PriorityMedium, model.Resources{RAM: 3 * gib, CPU: 3, GPU: 1})
	ctx := context.Background()

	err := env.store.WithTx(ctx, func(tx database.Tx) error {
		deployment, c, err := database.LockDeployment(ctx, tx, d.Id)
		require.NoError(t, err)
		return NewTxLedger(tx, env.clock).Allocate(ctx, deployment, c)
	})
	require.NoError(t, err)

	running := env.deployment(t, d.Id)
	assert.Equal(t, model.StatusRunning, running.Status)
	require.NotNil(t, running.Scheduled)
	require.NotNil(t, running.Started)
	assert.Equal(t, env.clock.Now(), *running.Started)
	assert.Equal(t, model.Resources{RAM: 13 * gib, CPU: 5, GPU: 1}, env.cluster(t, cluster.Id).Available)
	env.assertLedgerConsistent(t)

	err = env.store.WithTx(ctx, func(tx database.Tx) error {
		deployment, c, err := database.LockDeployment(ctx, tx, d.Id)
		require.NoError(t, err)
		released, err := NewTxLedger(tx, env.clock).Deallocate(ctx, deployment, c, model.StatusCompleted)
		assert.True(t, released)
		return err
	})
	require.NoError(t, err)

	completed := env.deployment(t, d.Id)
	assert.Equal(t, model.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.Completed)
	assert.Equal(t, cluster.Total, env.cluster(t, cluster.Id).Available)
	env.assertLedgerConsistent(t)
}

func TestLedger_DeallocateIsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)
	cluster := env.createCluster(t, "c", model.Resources{RAM: 16 * gib, CPU: 8})
	d := env.submit(t, cluster.Id, model.PriorityMedium, model.Resources{RAM: 4 * gib, CPU: 2})
	_, outcome := env.admitNext(t)
	require.Equal(t, Admitted, outcome)
	ctx := context.Background()

	release := func() bool {
		var released bool
		err := env.store.WithTx(ctx, func(tx database.Tx) error {
			deployment, c, err := database.LockDeployment(ctx, tx, d.Id)
			require.NoError(t, err)
			released, err = NewTxLedger(tx, env.clock).Deallocate(ctx, deployment, c, model.StatusFailed)
			return err
		})
		require.NoError(t, err)
		return released
	}

	assert.True(t, release())
	assert.False(t, release())
	assert.Equal(t, cluster.Total, env.cluster(t, cluster.Id).Available)
	env.assertLedgerConsistent(t)
}

func TestLedger_AllocateErrors(t *testing.T) {
	env := newTestEnv(t, false)
	cluster := env.createCluster(t, "c", model.Resources{RAM: 4 * gib, CPU: 2})
	other := env.createCluster(t, "other", model.Resources{RAM: 4 * gib, CPU: 2})
	ctx := context.Background()

	tests := map[string]struct {
		deployment *model.Deployment
		check      func(err error) bool
	}{
		"insufficient resources": {
			deployment: &model.Deployment{Id: "a", ClusterId: cluster.Id, Status: model.StatusPending, Resources: model.Resources{CPU: 3}},
			check:      capstanerrors.IsInsufficientResources,
		},
		"not pending": {
			deployment: &model.Deployment{Id: "b", ClusterId: cluster.Id, Status: model.StatusRunning, Resources: model.Resources{CPU: 1}},
			check:      capstanerrors.IsConflict,
		},
		"wrong cluster": {
			deployment: &model.Deployment{Id: "c", ClusterId: other.Id, Status: model.StatusPending, Resources: model.Resources{CPU: 1}},
			check:      func(err error) bool { return err != nil },
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := env.store.WithTx(ctx, func(tx database.Tx) error {
				c, err := tx.GetCluster(ctx, cluster.Id)
				require.NoError(t, err)
				return NewTxLedger(tx, env.clock).Allocate(ctx, tc.deployment, c)
			})
			assert.True(t, tc.check(err), "%v", err)
			assert.Equal(t, cluster.Total, env.cluster(t, cluster.Id).Available)
		})
	}
}

func TestLedger_DeallocateRejectsNonTerminalStatus(t *testing.T) {
	env := newTestEnv(t, false)
	cluster := env.createCluster(t, "c", model.Resources{CPU: 2})
	ctx := context.Background()
	err := env.store.WithTx(ctx, func(tx database.Tx) error {
		c, err := tx.GetCluster(ctx, cluster.Id)
		require.NoError(t, err)
		_, err = NewTxLedger(tx, env.clock).Deallocate(ctx, &model.Deployment{Id: "x", ClusterId: cluster.Id}, c, model.StatusPending)
		return err
	})
	assert.Error(t, err)
}

func TestLedger_DeallocateNeverExceedsTotal(t *testing.T) {
	env := newTestEnv(t, false)
	cluster := env.createCluster(t, "c", model.Resources{CPU: 2})
	ctx := context.Background()

	running := &model.Deployment{
		Id:        "inconsistent",
		Name:      "inconsistent",
		ClusterId: cluster.Id,
		Status:    model.StatusRunning,
		Priority:  model.PriorityLow,
		Resources: model.Resources{CPU: 1},
	}
	require.NoError(t, env.store.WithTx(ctx, func(tx database.Tx) error {
		return tx.InsertDeployment(ctx, running)
	}))

	err := env.store.WithTx(ctx, func(tx database.Tx) error {
		deployment, c, err := database.LockDeployment(ctx, tx, running.Id)
		require.NoError(t, err)
		_, err = NewTxLedger(tx, env.clock).Deallocate(ctx, deployment, c, model.StatusFailed)
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, model.StatusRunning, env.deployment(t, running.Id).Status)
	assert.Equal(t, cluster.Total, env.cluster(t, cluster.Id).Available)
}
