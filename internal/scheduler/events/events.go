// Package events records the lifecycle of each deployment as an ordered list of events.
package events

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	Submitted EventType = "submitted"
	Scheduled EventType = "scheduled"
	Preempted EventType = "preempted"
	Cancelled EventType = "cancelled"
	Completed EventType = "completed"
	Failed    EventType = "failed"
)

type Event struct {
	DeploymentId string    `json:"deploymentId"`
	ClusterId    string    `json:"clusterId"`
	Type         EventType `json:"type"`
	Time         time.Time `json:"time"`
	Message      string    `json:"message,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...*Event) error
}

type Reader interface {
	// ReadEvents returns the events of a deployment in the order they were published.
	ReadEvents(ctx context.Context, deploymentId string) ([]*Event, error)
}

type EventLog interface {
	Publisher
	Reader
}

// MemoryEventLog is an EventLog for tests and single process deployments without redis.
type MemoryEventLog struct {
	mu     sync.Mutex
	events map[string][]*Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[string][]*Event)}
}

func (l *MemoryEventLog) Publish(_ context.Context, events ...*Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range events {
		copied := *e
		l.events[e.DeploymentId] = append(l.events[e.DeploymentId], &copied)
	}
	return nil
}

func (l *MemoryEventLog) ReadEvents(_ context.Context, deploymentId string) ([]*Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := l.events[deploymentId]
	result := make([]*Event, len(stored))
	for i, e := range stored {
		copied := *e
		result[i] = &copied
	}
	return result, nil
}

// NoopEventLog discards everything it is given. Used when the event log is disabled.
type NoopEventLog struct{}

func (NoopEventLog) Publish(context.Context, ...*Event) error { return nil }

func (NoopEventLog) ReadEvents(context.Context, string) ([]*Event, error) {
	return []*Event{}, nil
}
