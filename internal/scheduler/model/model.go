// Package model contains the records the scheduler persists: clusters and the deployments placed on them.
package model

import (
	"time"

	"golang.org/x/exp/maps"
)

type Deployment struct {
	Id        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	Owner     string            `json:"owner"`
	ClusterId string            `json:"clusterId"`
	Resources Resources         `json:"resources"`
	Priority  Priority          `json:"priority"`
	Status    Status            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Created   time.Time         `json:"created"`
	Scheduled *time.Time        `json:"scheduled,omitempty"`
	Started   *time.Time        `json:"started,omitempty"`
	Completed *time.Time        `json:"completed,omitempty"`
	// Incremented on every write; stores reject updates made against a stale version.
	Version int64 `json:"version"`
}

// Clone returns a deep copy. Records read from a store must be cloned before they are modified.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Metadata != nil {
		clone.Metadata = maps.Clone(d.Metadata)
	}
	clone.Scheduled = cloneTime(d.Scheduled)
	clone.Started = cloneTime(d.Started)
	clone.Completed = cloneTime(d.Completed)
	return &clone
}

type Cluster struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Total     Resources `json:"total"`
	Available Resources `json:"available"`
	Active    bool      `json:"active"`
	Created   time.Time `json:"created"`
	Version   int64     `json:"version"`
}

func (c *Cluster) Clone() *Cluster {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Allocated is the capacity currently held by running deployments.
func (c *Cluster) Allocated() Resources {
	return c.Total.Sub(c.Available)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
