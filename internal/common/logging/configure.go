package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Configure applies config to the standard logrus logger. It should be called once at app startup.
func Configure(config Config) error {
	return ConfigureLogger(logrus.StandardLogger(), config)
}

// MustConfigure calls Configure and exits the process if the configuration is invalid.
func MustConfigure(config Config) {
	if err := Configure(config); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error initializing logging: "+err.Error())
		os.Exit(1)
	}
}

func ConfigureLogger(logger *logrus.Logger, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: RFC3339Milli})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli})
	}
	logger.SetLevel(config.Level.Logrus())

	var out io.Writer = os.Stdout
	if config.Level == OffLevel {
		out = io.Discard
	} else if config.File.Enabled {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   config.File.Path,
			MaxSize:    config.File.MaxSizeMb,
			MaxBackups: config.File.MaxBackups,
			MaxAge:     config.File.MaxAgeDays,
			Compress:   config.File.Compress,
		})
	}
	logger.SetOutput(out)
	return nil
}

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"
