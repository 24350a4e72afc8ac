package model

import (
	"strings"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPreempted Status = "preempted"
	// StatusReleasing only exists inside a transaction while a deployment's capacity is credited back.
	StatusReleasing Status = "releasing"
)

// AllStatuses lists the statuses a deployment can be observed in.
var AllStatuses = []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusPreempted}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPreempted:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if status == known {
			return status, nil
		}
	}
	return "", errors.Errorf("unknown status %q", s)
}
