package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

func runningDeployment(id string, priority model.Priority, started time.Time, request model.Resources) *model.Deployment {
	return &model.Deployment{
		Id:        id,
		ClusterId: "c1",
		Priority:  priority,
		Status:    model.StatusRunning,
		Started:   &started,
		Resources: request,
	}
}

func ids(deployments []*model.Deployment) []string {
	result := make([]string, len(deployments))
	for i, d := range deployments {
		result[i] = d.Id
	}
	return result
}

func TestSelectVictims(t *testing.T) {
	full := &model.Cluster{
		Id:        "c1",
		Total:     model.Resources{RAM: 32 * gib, CPU: 16, GPU: 2},
		Available: model.Resources{RAM: 0, CPU: 0, GPU: 0},
	}
	tests := map[string]struct {
		cluster   *model.Cluster
		request   model.Resources
		requester model.Priority
		running   []*model.Deployment
		expected  []string
		ok        bool
	}{
		"request already fits": {
			cluster:   &model.Cluster{Id: "c1", Available: model.Resources{CPU: 4}},
			request:   model.Resources{CPU: 2},
			requester: model.PriorityHigh,
			expected:  []string{},
			ok:        true,
		},
		"lowest priority taken first": {
			cluster:   full,
			request:   model.Resources{CPU: 4},
			requester: model.PriorityCritical,
			running: []*model.Deployment{
				runningDeployment("high", model.PriorityHigh, t0, model.Resources{CPU: 4}),
				runningDeployment("low", model.PriorityLow, t0, model.Resources{CPU: 4}),
				runningDeployment("medium", model.PriorityMedium, t0, model.Resources{CPU: 4}),
			},
			expected: []string{"low"},
			ok:       true,
		},
		"most recently started taken first within a priority": {
			cluster:   full,
			request:   model.Resources{CPU: 4},
			requester: model.PriorityHigh,
			running: []*model.Deployment{
				runningDeployment("older", model.PriorityLow, t0, model.Resources{CPU: 4}),
				runningDeployment("newer", model.PriorityLow, t0.Add(time.Minute), model.Resources{CPU: 4}),
			},
			expected: []string{"newer"},
			ok:       true,
		},
		"accumulates until the request fits": {
			cluster:   full,
			request:   model.Resources{CPU: 6, GPU: 1},
			requester: model.PriorityCritical,
			running: []*model.Deployment{
				runningDeployment("a", model.PriorityLow, t0, model.Resources{CPU: 4}),
				runningDeployment("b", model.PriorityLow, t0.Add(time.Second), model.Resources{CPU: 4}),
				runningDeployment("gpu", model.PriorityMedium, t0, model.Resources{CPU: 1, GPU: 1}),
			},
			expected: []string{"b", "a", "gpu"},
			ok:       true,
		},
		"equal priority is never preempted": {
			cluster:   full,
			request:   model.Resources{CPU: 1},
			requester: model.PriorityHigh,
			running: []*model.Deployment{
				runningDeployment("peer", model.PriorityHigh, t0, model.Resources{CPU: 4}),
			},
			expected: nil,
			ok:       false,
		},
		"insufficient candidates evict nothing": {
			cluster:   full,
			request:   model.Resources{CPU: 10},
			requester: model.PriorityCritical,
			running: []*model.Deployment{
				runningDeployment("a", model.PriorityLow, t0, model.Resources{CPU: 4}),
				runningDeployment("b", model.PriorityMedium, t0, model.Resources{CPU: 4}),
				runningDeployment("c", model.PriorityCritical, t0, model.Resources{CPU: 8}),
			},
			expected: nil,
			ok:       false,
		},
		"available capacity counts towards the request": {
			cluster:   &model.Cluster{Id: "c1", Available: model.Resources{CPU: 3}},
			request:   model.Resources{CPU: 5},
			requester: model.PriorityHigh,
			running: []*model.Deployment{
				runningDeployment("small", model.PriorityLow, t0, model.Resources{CPU: 2}),
				runningDeployment("big", model.PriorityLow, t0.Add(-time.Minute), model.Resources{CPU: 8}),
			},
			expected: []string{"small"},
			ok:       true,
		},
		"deployments on other clusters or not running are ignored": {
			cluster:   full,
			request:   model.Resources{CPU: 2},
			requester: model.PriorityCritical,
			running: []*model.Deployment{
				{Id: "elsewhere", ClusterId: "c2", Priority: model.PriorityLow, Status: model.StatusRunning, Resources: model.Resources{CPU: 4}},
				{Id: "done", ClusterId: "c1", Priority: model.PriorityLow, Status: model.StatusCompleted, Resources: model.Resources{CPU: 4}},
			},
			expected: nil,
			ok:       false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			victims, ok := SelectVictims(tc.cluster, tc.request, tc.requester, tc.running)
			assert.Equal(t, tc.ok, ok)
			if tc.expected == nil {
				assert.Empty(t, victims)
			} else {
				assert.Equal(t, tc.expected, ids(victims))
			}
		})
	}
}
