package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/G-Research/capstan/internal/common"
	"github.com/G-Research/capstan/internal/common/config"
	"github.com/G-Research/capstan/internal/common/database"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

const (
	PostgresStorage = "postgres"
	MemoryStorage   = "memory"
)

type Configuration struct {
	// Port the REST API listens on
	HttpPort uint16 `validate:"required"`
	// Port prometheus metrics are served on
	MetricsPort uint16 `validate:"required"`
	Logging     common.LoggingConfig
	// Either postgres or memory
	Storage string `validate:"oneof=postgres memory"`
	// Database configuration, used when Storage is postgres
	Postgres database.PostgresConfig
	// Redis configuration, used when Events.Enabled is true
	Redis      config.RedisConfig
	Events     EventsConfig
	Scheduling SchedulingConfig
	Metrics    MetricsConfig
	// Clusters created at startup if no cluster of the same name exists
	Clusters []ClusterConfig `validate:"dive"`
}

type EventsConfig struct {
	// If false, deployment events are discarded
	Enabled bool
	// How long a deployment's events are kept after the last one is published. Zero keeps them forever.
	Retention time.Duration `validate:"gte=0"`
}

type SchedulingConfig struct {
	// Maximum time the scheduler waits for a task before checking again
	DequeueTimeout time.Duration `validate:"required"`
	// Delay after a task is put back on the queue because it did not fit
	RetryInterval time.Duration `validate:"required"`
	// Delay after an attempt fails unexpectedly
	ErrorBackoff time.Duration `validate:"required"`
	// If true, HIGH and CRITICAL deployments may evict lower priority ones
	PreemptionEnabled bool
	// Number of deployments for which the most recent admission attempt is kept
	ReportCacheSize uint `validate:"required"`
}

type MetricsConfig struct {
	// How often cluster utilisation metrics are recomputed
	RefreshInterval time.Duration `validate:"required"`
}

type ClusterConfig struct {
	Name string `validate:"required"`
	Ram  resource.Quantity
	Cpu  int64 `validate:"gte=0"`
	Gpu  int64 `validate:"gte=0"`
}

// Resources returns the configured capacity of the cluster.
func (c ClusterConfig) Resources() model.Resources {
	return model.Resources{
		RAM: c.Ram.Value(),
		CPU: c.Cpu,
		GPU: c.Gpu,
	}
}

func (c Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(configurationValidation, Configuration{})
	return validate.Struct(c)
}

func configurationValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(Configuration)
	if c.Storage == PostgresStorage && len(c.Postgres.Connection) == 0 {
		sl.ReportError(c.Postgres.Connection, "Connection", "Connection", "required_with_postgres", "")
	}
	for _, cluster := range c.Clusters {
		if cluster.Ram.Sign() < 0 {
			sl.ReportError(cluster.Ram, "Ram", "Ram", "gte", "0")
		}
	}
}
