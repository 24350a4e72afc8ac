// Package server exposes deployments, clusters and reporting over a JSON REST API.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/common/health"
	"github.com/G-Research/capstan/internal/common/logging"
	"github.com/G-Research/capstan/internal/common/requestid"
	"github.com/G-Research/capstan/internal/reporting"
)

type Server struct {
	service  DeploymentService
	reporter reporting.Reporter
}

func NewServer(service DeploymentService, reporter reporting.Reporter) *Server {
	return &Server{
		service:  service,
		reporter: reporter,
	}
}

// Router returns the full API, including the health endpoint backed by checker.
func (s *Server) Router(checker health.Checker) *mux.Router {
	router := mux.NewRouter()
	router.Use(requestid.Middleware(false))

	router.HandleFunc("/clusters", s.handle(http.StatusCreated, s.createCluster)).Methods(http.MethodPost)
	router.HandleFunc("/clusters", s.handle(http.StatusOK, s.listClusters)).Methods(http.MethodGet)
	router.HandleFunc("/clusters/{id}", s.handle(http.StatusOK, s.getCluster)).Methods(http.MethodGet)
	router.HandleFunc("/clusters/{id}/active", s.handle(http.StatusOK, s.setClusterActive)).Methods(http.MethodPut)

	router.HandleFunc("/deployments", s.handle(http.StatusCreated, s.submitDeployment)).Methods(http.MethodPost)
	router.HandleFunc("/deployments", s.handle(http.StatusOK, s.listDeployments)).Methods(http.MethodGet)
	router.HandleFunc("/deployments/{id}", s.handle(http.StatusOK, s.getDeployment)).Methods(http.MethodGet)
	router.HandleFunc("/deployments/{id}", s.handle(http.StatusOK, s.cancelDeployment)).Methods(http.MethodDelete)
	router.HandleFunc("/deployments/{id}/complete", s.handle(http.StatusOK, s.completeDeployment)).Methods(http.MethodPost)
	router.HandleFunc("/deployments/{id}/events", s.handle(http.StatusOK, s.deploymentEvents)).Methods(http.MethodGet)
	router.HandleFunc("/deployments/{id}/report", s.handle(http.StatusOK, s.schedulingReport)).Methods(http.MethodGet)

	router.HandleFunc("/monitoring/metrics", s.handle(http.StatusOK, s.summary)).Methods(http.MethodGet)

	health.SetupHttpMux(router, checker)
	return router
}

type apiFunc func(ctx *capstancontext.Context, r *http.Request) (interface{}, error)

type errorResponse struct {
	Error     string `json:"error"`
	RequestId string `json:"requestId"`
}

// handle adapts fn to an http.HandlerFunc, writing its result as JSON with successStatus or its error with the
// status code matching the error's kind.
func (s *Server) handle(successStatus int, fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := requestid.FromContextOrMissing(r.Context())
		ctx := capstancontext.New(r.Context(), log.WithFields(log.Fields{
			"requestId": id,
			"method":    r.Method,
			"path":      r.URL.Path,
		}))

		result, err := fn(ctx, r)
		if err != nil {
			status := capstanerrors.HttpStatusFromError(err)
			if status >= http.StatusInternalServerError {
				logging.WithStacktrace(ctx.Log, err).Error("Request failed")
			} else {
				ctx.Log.WithError(err).Info("Request rejected")
			}
			writeJSON(ctx, w, status, &errorResponse{Error: err.Error(), RequestId: id})
			return
		}
		writeJSON(ctx, w, successStatus, result)
	}
}

func writeJSON(ctx *capstancontext.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctx.Log.WithError(err).Warn("Failed to write response")
	}
}

func decodeBody(r *http.Request, into interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return errors.WithStack(&capstanerrors.ErrInvalidArgument{
			Name:    "body",
			Value:   "",
			Message: "request body is not valid: " + err.Error(),
		})
	}
	return nil
}

func (s *Server) summary(ctx *capstancontext.Context, _ *http.Request) (interface{}, error) {
	return s.reporter.Summary(ctx)
}
