package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

type HealthCheckHttpHandler struct {
	checker Checker
	log     *log.Entry
}

func NewHealthCheckHttpHandler(checker Checker, logger *log.Entry) *HealthCheckHttpHandler {
	return &HealthCheckHttpHandler{
		checker: checker,
		log:     logger,
	}
}

func (h *HealthCheckHttpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := h.checker.Check()
	if err == nil {
		h.log.Debug("Health check passed")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.log.Warnf("Health check failed: %v", err)
	w.WriteHeader(http.StatusServiceUnavailable)
	if _, err = w.Write([]byte(err.Error())); err != nil {
		h.log.Errorf("Failed to write health check response: %v", err)
	}
}
