package logging

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected Level
		logrus   logrus.Level
	}{
		"off":     {input: "off", expected: OffLevel, logrus: logrus.PanicLevel},
		"error":   {input: "error", expected: ErrorLevel, logrus: logrus.ErrorLevel},
		"warning": {input: "WARNING", expected: WarnLevel, logrus: logrus.WarnLevel},
		"info":    {input: "info", expected: InfoLevel, logrus: logrus.InfoLevel},
		"debug":   {input: " Debug ", expected: DebugLevel, logrus: logrus.DebugLevel},
		"trace":   {input: "trace", expected: TraceLevel, logrus: logrus.TraceLevel},
		"detail":  {input: "detail", expected: DetailLevel, logrus: logrus.TraceLevel},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			level, err := ParseLevel(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, level)
			assert.Equal(t, tc.logrus, level.Logrus())
		})
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevel_UnmarshalText(t *testing.T) {
	var level Level
	require.NoError(t, level.UnmarshalText([]byte("detail")))
	assert.Equal(t, DetailLevel, level)
	assert.Equal(t, "detail", level.String())
	assert.Error(t, level.UnmarshalText([]byte("nope")))
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{Level: InfoLevel, Format: "json"}
	assert.NoError(t, valid.Validate())

	badFormat := Config{Format: "xml"}
	assert.Error(t, badFormat.Validate())

	noPath := Config{}
	noPath.File.Enabled = true
	noPath.File.MaxSizeMb = 10
	assert.Error(t, noPath.Validate())

	noSize := Config{}
	noSize.File.Enabled = true
	noSize.File.Path = "conduit.log"
	assert.Error(t, noSize.Validate())
}

func TestConfigureLogger_Off(t *testing.T) {
	logger := logrus.New()
	require.NoError(t, ConfigureLogger(logger, Config{Level: OffLevel}))
	assert.Equal(t, io.Discard, logger.Out)
}

func TestConfigureLogger_File(t *testing.T) {
	logger := logrus.New()
	config := Config{Level: DebugLevel, Format: "json"}
	config.File.Enabled = true
	config.File.Path = filepath.Join(t.TempDir(), "conduit.log")
	config.File.MaxSizeMb = 1

	require.NoError(t, ConfigureLogger(logger, config))
	assert.Equal(t, logrus.DebugLevel, logger.Level)
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestWithStacktrace(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	err := errors.Wrap(errors.New("inner"), "outer")
	WithStacktrace(logrus.NewEntry(logger), err).Error("failed")

	assert.Contains(t, buf.String(), "outer: inner")
	assert.Contains(t, buf.String(), Stacktrace)
	assert.NotNil(t, ExtractStack(err))
	assert.Nil(t, ExtractStack(io.EOF))
}
