package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler"
	"github.com/G-Research/capstan/internal/scheduler/database"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

type submitDeploymentRequest struct {
	Name      string `json:"name"`
	Image     string `json:"image"`
	Owner     string `json:"owner"`
	ClusterId string `json:"clusterId"`
	// A quantity such as "8Gi"
	Ram string `json:"ram"`
	Cpu int64  `json:"cpu"`
	Gpu int64  `json:"gpu"`
	// One of LOW, MEDIUM, HIGH or CRITICAL. Defaults to MEDIUM.
	Priority string            `json:"priority"`
	Metadata map[string]string `json:"metadata"`
}

type completeDeploymentRequest struct {
	Succeeded bool `json:"succeeded"`
}

func (s *Server) submitDeployment(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	var req submitDeploymentRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	ram, err := parseRam(req.Ram)
	if err != nil {
		return nil, err
	}
	var priority model.Priority
	if req.Priority != "" {
		priority, err = model.ParsePriority(req.Priority)
		if err != nil {
			return nil, errors.WithStack(&capstanerrors.ErrInvalidArgument{
				Name:    "priority",
				Value:   req.Priority,
				Message: "must be one of LOW, MEDIUM, HIGH or CRITICAL",
			})
		}
	}
	return s.service.Submit(ctx, scheduler.SubmitRequest{
		Name:      req.Name,
		Image:     req.Image,
		Owner:     req.Owner,
		ClusterId: req.ClusterId,
		Resources: model.Resources{RAM: ram, CPU: req.Cpu, GPU: req.Gpu},
		Priority:  priority,
		Metadata:  req.Metadata,
	})
}

func (s *Server) listDeployments(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	query := r.URL.Query()
	filter := database.DeploymentFilter{
		ClusterId: query.Get("clusterId"),
		Owner:     query.Get("owner"),
	}
	if status := query.Get("status"); status != "" {
		parsed, err := model.ParseStatus(status)
		if err != nil {
			return nil, errors.WithStack(&capstanerrors.ErrInvalidArgument{
				Name:    "status",
				Value:   status,
				Message: "unknown status",
			})
		}
		filter.Status = parsed
	}
	if limit := query.Get("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 0 {
			return nil, errors.WithStack(&capstanerrors.ErrInvalidArgument{
				Name:    "limit",
				Value:   limit,
				Message: "must be a non-negative integer",
			})
		}
		filter.Limit = parsed
	}
	return s.service.ListDeployments(ctx, filter)
}

func (s *Server) getDeployment(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	return s.service.GetDeployment(ctx, mux.Vars(r)["id"])
}

func (s *Server) cancelDeployment(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	return s.service.Cancel(ctx, mux.Vars(r)["id"])
}

func (s *Server) completeDeployment(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	var req completeDeploymentRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.service.Complete(ctx, mux.Vars(r)["id"], req.Succeeded)
}

func (s *Server) deploymentEvents(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	return s.service.DeploymentEvents(ctx, mux.Vars(r)["id"])
}

func (s *Server) schedulingReport(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	return s.service.SchedulingReport(ctx, mux.Vars(r)["id"])
}
