// Package reporting derives aggregate counts and cluster utilisation from persisted scheduler state. It never talks
// to the scheduler itself.
package reporting

import (
	"context"

	"golang.org/x/exp/slices"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

type Summary struct {
	Clusters    int `json:"clusters"`
	Deployments int `json:"deployments"`
	Pending     int `json:"pending"`
	Running     int `json:"running"`
	// Deployments per status, including statuses with no deployments.
	ByStatus map[model.Status]int `json:"byStatus"`
	// One entry per cluster, ordered by name.
	Utilisation []ClusterUtilisation `json:"utilisation"`
}

type ClusterUtilisation struct {
	ClusterId  string          `json:"clusterId"`
	Name       string          `json:"name"`
	Active     bool            `json:"active"`
	Total      model.Resources `json:"total"`
	Available  model.Resources `json:"available"`
	RamPercent float64         `json:"ramPercent"`
	CpuPercent float64         `json:"cpuPercent"`
	GpuPercent float64         `json:"gpuPercent"`
}

type Reporter interface {
	Summary(ctx context.Context) (*Summary, error)
}

// Utilisation computes how much of each resource of a cluster is held by running deployments, as a percentage.
// A resource the cluster has none of is reported as 0% used.
func Utilisation(c *model.Cluster) ClusterUtilisation {
	return ClusterUtilisation{
		ClusterId:  c.Id,
		Name:       c.Name,
		Active:     c.Active,
		Total:      c.Total,
		Available:  c.Available,
		RamPercent: percentUsed(c.Total.RAM, c.Available.RAM),
		CpuPercent: percentUsed(c.Total.CPU, c.Available.CPU),
		GpuPercent: percentUsed(c.Total.GPU, c.Available.GPU),
	}
}

func percentUsed(total, available int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(total-available) / float64(total) * 100
}

func newSummary() *Summary {
	byStatus := make(map[model.Status]int, len(model.AllStatuses))
	for _, status := range model.AllStatuses {
		byStatus[status] = 0
	}
	return &Summary{ByStatus: byStatus, Utilisation: []ClusterUtilisation{}}
}

// addCount records n deployments with the given status.
func (s *Summary) addCount(status model.Status, n int) {
	s.ByStatus[status] += n
	s.Deployments += n
	switch status {
	case model.StatusPending:
		s.Pending += n
	case model.StatusRunning, model.StatusReleasing:
		s.Running += n
	}
}

func (s *Summary) addCluster(c *model.Cluster) {
	s.Clusters++
	s.Utilisation = append(s.Utilisation, Utilisation(c))
}

func (s *Summary) sortClusters() {
	slices.SortFunc(s.Utilisation, func(a, b ClusterUtilisation) bool {
		return a.Name < b.Name
	})
}
