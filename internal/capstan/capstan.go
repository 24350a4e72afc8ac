// Package capstan wires the scheduler, its stores and the API into a runnable process.
package capstan

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/capstan/internal/common"
	"github.com/G-Research/capstan/internal/common/app"
	"github.com/G-Research/capstan/internal/common/capstancontext"
	dbcommon "github.com/G-Research/capstan/internal/common/database"
	"github.com/G-Research/capstan/internal/common/health"
	"github.com/G-Research/capstan/internal/common/logging"
	"github.com/G-Research/capstan/internal/common/task"
	"github.com/G-Research/capstan/internal/common/util"
	"github.com/G-Research/capstan/internal/reporting"
	"github.com/G-Research/capstan/internal/scheduler"
	"github.com/G-Research/capstan/internal/scheduler/configuration"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/events"
	"github.com/G-Research/capstan/internal/scheduler/metrics"
	"github.com/G-Research/capstan/internal/server"
)

const startupRetryBackoff = 5 * time.Second

// Run sets up the scheduler and its API and runs them until a SIGTERM is received
func Run(config configuration.Configuration) error {
	if err := common.ApplyLoggingConfig(config.Logging); err != nil {
		return err
	}
	logMetricsHook, err := promrus.NewPrometheusHook()
	if err != nil {
		return errors.WithMessage(err, "error registering log metrics")
	}
	log.AddHook(logMetricsHook)
	g, ctx := capstancontext.ErrGroup(app.CreateContextWithShutdown())

	//////////////////////////////////////////////////////////////////////////
	// Health Checks
	//////////////////////////////////////////////////////////////////////////
	startupCompleteCheck := health.NewStartupCompleteChecker()
	healthChecks := health.NewMultiChecker(startupCompleteCheck)

	//////////////////////////////////////////////////////////////////////////
	// Storage
	//////////////////////////////////////////////////////////////////////////
	var store database.Store
	var reporter reporting.Reporter
	switch config.Storage {
	case configuration.PostgresStorage:
		log.Infof("Setting up postgres storage")
		db, err := dbcommon.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return errors.WithMessage(err, "error opening connection to postgres")
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return errors.WithMessage(err, "error migrating database")
		}
		healthChecks.Add(health.FuncChecker(func() error {
			return db.Ping(ctx)
		}))
		store = database.NewPostgresStore(db)
		defer store.Close()

		reportingDb, err := dbcommon.OpenSqlDb(config.Postgres)
		if err != nil {
			return errors.WithMessage(err, "error opening reporting connection to postgres")
		}
		defer util.CloseResource("reporting database", reportingDb)
		reporter = reporting.NewSqlReporter(reportingDb)
	default:
		log.Warn("Using in-memory storage; all state is lost on restart")
		memoryStore, err := database.NewMemoryStore()
		if err != nil {
			return err
		}
		store = memoryStore
		reporter = reporting.NewStoreReporter(memoryStore)
	}

	//////////////////////////////////////////////////////////////////////////
	// Events
	//////////////////////////////////////////////////////////////////////////
	var eventLog events.EventLog = events.NoopEventLog{}
	if config.Events.Enabled {
		log.Infof("Publishing deployment events to redis")
		redisClient := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		defer util.CloseResource("redis", redisClient)
		healthChecks.Add(health.FuncChecker(func() error {
			return redisClient.Ping().Err()
		}))
		eventLog = events.NewRedisEventLog(redisClient, config.Events.Retention)
	}

	//////////////////////////////////////////////////////////////////////////
	// Scheduling
	//////////////////////////////////////////////////////////////////////////
	log.Infof("Setting up scheduling loop")
	queue := scheduler.NewTaskQueue()
	schedulerMetrics := metrics.NewSchedulerMetrics(prometheus.DefaultRegisterer)
	reports, err := scheduler.NewAttemptReportRepository(config.Scheduling.ReportCacheSize)
	if err != nil {
		return errors.WithMessage(err, "error creating scheduling report repository")
	}
	admission := scheduler.NewAdmissionController(
		store,
		eventLog,
		clock.RealClock{},
		config.Scheduling.PreemptionEnabled,
		schedulerMetrics,
		reports,
	)
	service := scheduler.NewDeploymentService(store, queue, eventLog, reports, clock.RealClock{})
	deploymentScheduler := scheduler.NewScheduler(queue, admission, clock.RealClock{}, config.Scheduling, schedulerMetrics)

	err = util.RetryUntilSuccess(
		ctx,
		func() error {
			if err := service.SeedClusters(ctx, config.Clusters); err != nil {
				return err
			}
			_, err := service.Recover(ctx)
			return err
		},
		func(err error) {
			logging.WithStacktrace(ctx.Log, err).Warn("Failed to recover scheduler state; retrying")
		},
		startupRetryBackoff,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	} else if err != nil {
		return err
	}

	//////////////////////////////////////////////////////////////////////////
	// Metrics
	//////////////////////////////////////////////////////////////////////////
	collector := reporting.NewCollector(reporter)
	prometheus.MustRegister(collector)
	taskManager := task.NewBackgroundTaskManager("capstan_", prometheus.DefaultRegisterer)
	taskManager.Register(func() {
		if err := collector.Refresh(ctx); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("Failed to refresh cluster utilisation metrics")
		}
	}, config.Metrics.RefreshInterval, "reporting_refresh")
	defer taskManager.StopAll(5 * time.Second)
	shutdownMetricServer := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetricServer()

	//////////////////////////////////////////////////////////////////////////
	// API
	//////////////////////////////////////////////////////////////////////////
	api := server.NewServer(service, reporter)
	shutdownHttpServer := common.ServeHttp(config.HttpPort, api.Router(healthChecks))
	defer shutdownHttpServer()

	g.Go(func() error { return deploymentScheduler.Run(ctx) })
	startupCompleteCheck.MarkComplete()

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
