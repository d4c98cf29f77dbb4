package health

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

func SetupHttpMux(mux *http.ServeMux, checker Checker, logger *log.Entry) {
	mux.Handle("/health", NewHealthCheckHttpHandler(checker, logger))
}
