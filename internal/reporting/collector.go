package reporting

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

const MetricPrefix = "capstan_"

var deploymentsDesc = prometheus.NewDesc(
	MetricPrefix+"deployments",
	"Number of deployments, by status",
	[]string{"status"},
	nil,
)

var clusterCapacityDesc = prometheus.NewDesc(
	MetricPrefix+"cluster_capacity",
	"Total capacity of a cluster",
	[]string{"cluster", "resourceType"},
	nil,
)

var clusterAvailableDesc = prometheus.NewDesc(
	MetricPrefix+"cluster_available",
	"Capacity of a cluster not held by running deployments",
	[]string{"cluster", "resourceType"},
	nil,
)

var clusterUtilisationDesc = prometheus.NewDesc(
	MetricPrefix+"cluster_utilisation_percent",
	"Percentage of a cluster's capacity held by running deployments",
	[]string{"cluster", "resourceType"},
	nil,
)

// Collector exposes the last summary computed by Refresh. Collect never queries the database, so scrapes are
// cheap however often they happen.
type Collector struct {
	reporter Reporter

	mu      sync.RWMutex
	summary *Summary
}

func NewCollector(reporter Reporter) *Collector {
	return &Collector{reporter: reporter}
}

// Refresh recomputes the summary. On failure the previous summary is kept.
func (c *Collector) Refresh(ctx context.Context) error {
	summary, err := c.reporter.Summary(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.summary = summary
	c.mu.Unlock()
	return nil
}

func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- deploymentsDesc
	desc <- clusterCapacityDesc
	desc <- clusterAvailableDesc
	desc <- clusterUtilisationDesc
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.RLock()
	summary := c.summary
	c.mu.RUnlock()
	if summary == nil {
		log.Debug("No cluster summary computed yet")
		return
	}

	for status, count := range summary.ByStatus {
		metrics <- prometheus.MustNewConstMetric(deploymentsDesc, prometheus.GaugeValue, float64(count), string(status))
	}
	for _, u := range summary.Utilisation {
		collectResources(metrics, clusterCapacityDesc, u.Name, u.Total)
		collectResources(metrics, clusterAvailableDesc, u.Name, u.Available)
		metrics <- prometheus.MustNewConstMetric(clusterUtilisationDesc, prometheus.GaugeValue, u.RamPercent, u.Name, "ram")
		metrics <- prometheus.MustNewConstMetric(clusterUtilisationDesc, prometheus.GaugeValue, u.CpuPercent, u.Name, "cpu")
		metrics <- prometheus.MustNewConstMetric(clusterUtilisationDesc, prometheus.GaugeValue, u.GpuPercent, u.Name, "gpu")
	}
}

func collectResources(metrics chan<- prometheus.Metric, desc *prometheus.Desc, cluster string, r model.Resources) {
	metrics <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(r.RAM), cluster, "ram")
	metrics <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(r.CPU), cluster, "cpu")
	metrics <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(r.GPU), cluster, "gpu")
}
