package logging

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Level is a log verbosity. It extends the logrus levels with Off, which discards everything, and Detail, which
// is Trace with driver-level logging (e.g. every statement pgx sends) switched on as well.
type Level int

const (
	OffLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
	DetailLevel
)

var levelNames = map[Level]string{
	OffLevel:    "off",
	ErrorLevel:  "error",
	WarnLevel:   "warn",
	InfoLevel:   "info",
	DebugLevel:  "debug",
	TraceLevel:  "trace",
	DetailLevel: "detail",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// Logrus returns the logrus level closest to l. Off maps to Panic; Configure additionally discards output.
func (l Level) Logrus() logrus.Level {
	switch l {
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel:
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	case DebugLevel:
		return logrus.DebugLevel
	case TraceLevel, DetailLevel:
		return logrus.TraceLevel
	default:
		return logrus.PanicLevel
	}
}

// UnmarshalText lets Level be used directly in yaml/json config.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "off":
		return OffLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	case "trace":
		return TraceLevel, nil
	case "detail":
		return DetailLevel, nil
	default:
		return InfoLevel, errors.Errorf("invalid log level: %s", level)
	}
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// Config defines logging configuration.
type Config struct {
	// Log level, e.g. info, debug, detail
	Level Level
	// Logging format, either text or json
	Format string
	// Defines configuration for file logging
	File struct {
		// Whether file logging is enabled.
		Enabled bool
		// The location of the logfile on disk
		Path string
		// Maximum size in megabytes of the log file before it gets rotated
		MaxSizeMb int
		// Maximum number of old log files to retain
		MaxBackups int
		// Maximum number of days to retain old log files
		MaxAgeDays int
		// Whether to compress rotated log files
		Compress bool
	}
}

func (c Config) Validate() error {
	if c.Format != "" {
		if _, ok := validLogFormats[c.Format]; !ok {
			return errors.Errorf("unknown log format: %s. Valid formats are text and json", c.Format)
		}
	}
	if c.File.Enabled {
		if c.File.Path == "" {
			return errors.New("file.path must be set when file logging is enabled")
		}
		if c.File.MaxSizeMb <= 0 {
			return errors.New("file.maxSizeMb must be greater than zero")
		}
		if c.File.MaxBackups < 0 {
			return errors.New("file.maxBackups must not be negative")
		}
		if c.File.MaxAgeDays < 0 {
			return errors.New("file.maxAgeDays must not be negative")
		}
	}
	return nil
}
