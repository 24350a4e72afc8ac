package scheduler

import (
	"time"

	"golang.org/x/exp/slices"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

// SelectVictims chooses which running deployments to preempt so that request fits on cluster.
//
// Only deployments with a priority strictly lower than the requester's are candidates. Candidates are taken lowest
// priority first, and within a priority the most recently started first, until the capacity they hold plus the
// cluster's available capacity covers request. If every candidate together is not enough, no victims are returned
// and the second return value is false: a preemption either frees enough capacity or evicts nothing.
func SelectVictims(cluster *model.Cluster, request model.Resources, requester model.Priority, running []*model.Deployment) ([]*model.Deployment, bool) {
	if request.Fits(cluster.Available) {
		return nil, true
	}

	candidates := make([]*model.Deployment, 0, len(running))
	for _, d := range running {
		if d.ClusterId == cluster.Id && d.Status == model.StatusRunning && d.Priority.Rank() < requester.Rank() {
			candidates = append(candidates, d)
		}
	}
	slices.SortFunc(candidates, preemptionOrder)

	freed := cluster.Available
	victims := make([]*model.Deployment, 0)
	for _, d := range candidates {
		victims = append(victims, d)
		freed = freed.Add(d.Resources)
		if request.Fits(freed) {
			return victims, true
		}
	}
	return nil, false
}

// preemptionOrder returns true if a should be preempted before b.
func preemptionOrder(a, b *model.Deployment) bool {
	if a.Priority != b.Priority {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	aStarted, bStarted := startedOrZero(a), startedOrZero(b)
	if !aStarted.Equal(bStarted) {
		return aStarted.After(bStarted)
	}
	return a.Id < b.Id
}

func startedOrZero(d *model.Deployment) time.Time {
	if d.Started != nil {
		return *d.Started
	}
	return time.Time{}
}
