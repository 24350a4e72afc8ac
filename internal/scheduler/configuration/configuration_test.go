package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/G-Research/capstan/internal/common"
	"github.com/G-Research/capstan/internal/common/config"
	"github.com/G-Research/capstan/internal/common/database"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

func validConfig() Configuration {
	return Configuration{
		HttpPort:    8080,
		MetricsPort: 9000,
		Storage:     MemoryStorage,
		Redis: config.RedisConfig{
			Addrs:    []string{"localhost:6379"},
			PoolSize: 10,
		},
		Scheduling: SchedulingConfig{
			DequeueTimeout:  time.Second,
			RetryInterval:   time.Second,
			ErrorBackoff:    time.Second,
			ReportCacheSize: 100,
		},
		Metrics: MetricsConfig{RefreshInterval: time.Minute},
		Clusters: []ClusterConfig{
			{Name: "gpu-east", Ram: resource.MustParse("16Gi"), Cpu: 8, Gpu: 2},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		modify func(c *Configuration)
		valid  bool
	}{
		"valid": {
			modify: func(c *Configuration) {},
			valid:  true,
		},
		"unknown storage": {
			modify: func(c *Configuration) { c.Storage = "etcd" },
			valid:  false,
		},
		"postgres without connection": {
			modify: func(c *Configuration) { c.Storage = PostgresStorage },
			valid:  false,
		},
		"postgres with connection": {
			modify: func(c *Configuration) {
				c.Storage = PostgresStorage
				c.Postgres = database.PostgresConfig{Connection: map[string]string{"host": "localhost"}}
			},
			valid: true,
		},
		"missing dequeue timeout": {
			modify: func(c *Configuration) { c.Scheduling.DequeueTimeout = 0 },
			valid:  false,
		},
		"zero report cache size": {
			modify: func(c *Configuration) { c.Scheduling.ReportCacheSize = 0 },
			valid:  false,
		},
		"unnamed cluster": {
			modify: func(c *Configuration) { c.Clusters[0].Name = "" },
			valid:  false,
		},
		"negative cpu": {
			modify: func(c *Configuration) { c.Clusters[0].Cpu = -1 },
			valid:  false,
		},
		"negative ram": {
			modify: func(c *Configuration) { c.Clusters[0].Ram = resource.MustParse("-1Gi") },
			valid:  false,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			tc.modify(&c)
			err := c.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestClusterConfig_Resources(t *testing.T) {
	c := ClusterConfig{Name: "gpu-east", Ram: resource.MustParse("16Gi"), Cpu: 8, Gpu: 2}
	assert.Equal(t, model.Resources{RAM: 16 << 30, CPU: 8, GPU: 2}, c.Resources())
}

func TestDefaultConfigIsValid(t *testing.T) {
	var c Configuration
	common.LoadConfig(&c, "../../../config/capstan", nil)

	assert.NoError(t, c.Validate())
	assert.Equal(t, MemoryStorage, c.Storage)
	assert.Equal(t, time.Second, c.Scheduling.DequeueTimeout)
	assert.Equal(t, 30*time.Minute, c.Postgres.ConnMaxLifetime)
	assert.Equal(t, "5432", c.Postgres.Connection["port"])
	assert.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
	assert.True(t, c.Scheduling.PreemptionEnabled)
	assert.Equal(t, uint(10000), c.Scheduling.ReportCacheSize)
}
