package health

import (
	"net/http"

	"github.com/gorilla/mux"
)

func SetupHttpMux(router *mux.Router, checker Checker) {
	router.Handle("/health", NewHealthCheckHttpHandler(checker)).Methods(http.MethodGet)
}
