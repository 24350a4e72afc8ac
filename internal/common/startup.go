package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/capstan/internal/common/config"
)

// EnvPrefix is prepended to configuration keys when reading environment overrides, e.g. CAPSTAN_HTTPPORT.
const EnvPrefix = "CAPSTAN"

// LoggingConfig controls the process-wide logrus logger.
type LoggingConfig struct {
	// Log level, e.g. info, debug, warn
	Level string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	// Either text or json
	Format string `validate:"omitempty,oneof=text json"`
}

// LoadConfig reads config.yaml from defaultPath, merges any user-specified files on top of it in order
// and applies environment overrides before decoding into config.
func LoadConfig(config interface{}, defaultPath string, overrideConfigs []string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		log.Errorf("Error reading base config path=%s: %v", defaultPath, err)
		os.Exit(-1)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, overrideConfig := range overrideConfigs {
		v.SetConfigFile(overrideConfig)
		err := v.MergeInConfig()
		if err != nil {
			log.Errorf("Error reading config from %s: %v", overrideConfig, err)
			os.Exit(-1)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	err := v.Unmarshal(config, commonconfig.CustomHooks...)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

// ConfigureLogging sets up sensible logging defaults. It is called before configuration is loaded;
// ApplyLoggingConfig refines it afterwards.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ApplyLoggingConfig applies the level and format from config to the standard logger.
func ApplyLoggingConfig(config LoggingConfig) error {
	if config.Level != "" {
		level, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		log.SetLevel(level)
	}
	switch config.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		return errors.Errorf("unknown log format %q", config.Format)
	}
	return nil
}

// ServeMetrics exposes the default prometheus registry on /metrics. The returned function shuts the server down.
func ServeMetrics(port uint16) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return ServeHttp(port, mux)
}

// ServeHttp serves mux on port in a background goroutine. The returned function shuts the server down.
func ServeHttp(port uint16, mux http.Handler) (shutdown func()) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server exited")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("failed to shut down http server cleanly")
		}
	}
}
