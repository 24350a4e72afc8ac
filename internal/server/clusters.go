package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/common/capstancontext"
	"github.com/G-Research/capstan/internal/common/capstanerrors"
	"github.com/G-Research/capstan/internal/scheduler"
	"github.com/G-Research/capstan/internal/scheduler/model"
)

type createClusterRequest struct {
	Name string `json:"name"`
	// A quantity such as "64Gi"
	Ram string `json:"ram"`
	Cpu int64  `json:"cpu"`
	Gpu int64  `json:"gpu"`
}

type setClusterActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) createCluster(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	var req createClusterRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	ram, err := parseRam(req.Ram)
	if err != nil {
		return nil, err
	}
	return s.service.CreateCluster(ctx, scheduler.CreateClusterRequest{
		Name:      req.Name,
		Resources: model.Resources{RAM: ram, CPU: req.Cpu, GPU: req.Gpu},
	})
}

func (s *Server) listClusters(ctx *capstancontext.Context, _ *http.Request) (interface{}, error) {
	return s.service.ListClusters(ctx)
}

func (s *Server) getCluster(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	return s.service.GetCluster(ctx, mux.Vars(r)["id"])
}

func (s *Server) setClusterActive(ctx *capstancontext.Context, r *http.Request) (interface{}, error) {
	var req setClusterActiveRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	return s.service.SetClusterActive(ctx, mux.Vars(r)["id"], req.Active)
}

// parseRam accepts an empty string as zero.
func parseRam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	ram, err := model.ParseRam(s)
	if err != nil {
		return 0, errors.WithStack(&capstanerrors.ErrInvalidArgument{
			Name:    "ram",
			Value:   s,
			Message: "must be a quantity such as 512Mi or 16Gi",
		})
	}
	return ram, nil
}
