package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestBackgroundTaskManager_RunsUntilStopped(t *testing.T) {
	var count int32
	m := NewBackgroundTaskManager("capstan_test_", prometheus.NewRegistry())
	m.Register(func() { atomic.AddInt32(&count, 1) }, time.Millisecond, "counter")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, time.Millisecond)

	timedOut := m.StopAll(time.Second)
	assert.False(t, timedOut)

	stoppedAt := atomic.LoadInt32(&count)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stoppedAt, atomic.LoadInt32(&count))
}

func TestBackgroundTaskManager_RunsImmediately(t *testing.T) {
	done := make(chan struct{})
	m := NewBackgroundTaskManager("capstan_test_", nil)
	m.Register(func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}, time.Hour, "immediate")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run on registration")
	}
	assert.False(t, m.StopAll(time.Second))
}
