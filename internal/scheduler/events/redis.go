package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

const eventListPrefix = "Events:"

// RedisEventLog stores each deployment's events in a redis list keyed by deployment id.
// A non-zero retention expires the list that long after its last event.
type RedisEventLog struct {
	db        redis.UniversalClient
	retention time.Duration
}

func NewRedisEventLog(db redis.UniversalClient, retention time.Duration) *RedisEventLog {
	return &RedisEventLog{db: db, retention: retention}
}

func (l *RedisEventLog) Publish(_ context.Context, events ...*Event) error {
	if len(events) == 0 {
		return nil
	}

	keys := make(map[string]bool)
	pipe := l.db.Pipeline()
	defer pipe.Close()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return errors.WithStack(err)
		}
		key := deploymentEventsKey(e.DeploymentId)
		pipe.RPush(key, data)
		keys[key] = true
	}
	if l.retention > 0 {
		for key := range keys {
			pipe.Expire(key, l.retention)
		}
	}
	_, err := pipe.Exec()
	return errors.WithStack(err)
}

func (l *RedisEventLog) ReadEvents(_ context.Context, deploymentId string) ([]*Event, error) {
	values, err := l.db.LRange(deploymentEventsKey(deploymentId), 0, -1).Result()
	if err == redis.Nil {
		return []*Event{}, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "error reading events for deployment %s", deploymentId)
	}

	events := make([]*Event, 0, len(values))
	for _, v := range values {
		e := &Event{}
		if err := json.Unmarshal([]byte(v), e); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling event for deployment %s", deploymentId)
		}
		events = append(events, e)
	}
	return events, nil
}

func deploymentEventsKey(deploymentId string) string {
	return eventListPrefix + deploymentId
}
