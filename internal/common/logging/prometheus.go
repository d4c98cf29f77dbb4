package logging

import (
	"github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

// AddMetricsHook counts log lines per level in prometheus.
func AddMetricsHook(logger *logrus.Logger) error {
	hook, err := promrus.NewPrometheusHook()
	if err != nil {
		return err
	}
	logger.AddHook(hook)
	return nil
}
