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
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	commonconfig "github.com/G-Research/conduit/internal/common/config"
	"github.com/G-Research/conduit/internal/common/logging"
)

const envPrefix = "CONDUIT"

// LoadConfig reads config.yaml from defaultPath, merges each user supplied file on top in order, then applies
// CONDUIT_ prefixed environment variables (nested keys joined by underscores, e.g. CONDUIT_POSTGRES_HOST) and unmarshals into config.
// Any failure is fatal.
func LoadConfig(config interface{}, defaultPath string, userConfigs []string) *viper.Viper {
	v, err := ReadConfig(config, defaultPath, userConfigs)
	if err != nil {
		log.Error(err)
		os.Exit(-1)
	}
	return v
}

// ReadConfig is LoadConfig without the exit, for callers and tests that handle errors themselves.
func ReadConfig(config interface{}, defaultPath string, userConfigs []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(defaultPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading default config from %s", defaultPath)
	}
	log.Infof("Read base config from %s", v.ConfigFileUsed())

	for _, configPath := range userConfigs {
		v.SetConfigFile(configPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "merging config from %s", configPath)
		}
		log.Infof("Merged config from %s", configPath)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

// ConfigureLogging sets up logging for the period before the configuration has been read.
func ConfigureLogging() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: logging.RFC3339Milli})
	log.SetOutput(os.Stdout)
}

// ConfigureCommandLineLogging sets up logging for cli subcommands whose output is read by people.
func ConfigureCommandLineLogging() {
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stdout)
}

func BindCommandlineArguments() {
	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		log.Error(err)
		os.Exit(-1)
	}
}

// ServeMetrics exposes the default prometheus registry on /metrics and returns a function that stops the server.
func ServeMetrics(port uint16) (shutdown func()) {
	return ServeHttp(port, http.NewServeMux(), func(mux *http.ServeMux) {
		mux.Handle("/metrics", promhttp.Handler())
	})
}

// ServeHttp serves mux on port after applying setup, returning a function that stops the server.
func ServeHttp(port uint16, mux *http.ServeMux, setup func(mux *http.ServeMux)) (shutdown func()) {
	setup(mux)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("Starting http server listening on %d", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server on port %d failed: %v", port, err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Infof("Stopping http server listening on %d", port)
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("Failed to stop http server on port %d: %v", port, err)
		}
	}
}
