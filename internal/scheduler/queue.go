package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/scheduler/model"
)

// SchedulingTask is a request to admit one pending deployment.
type SchedulingTask struct {
	DeploymentId string
	ClusterId    string
	Priority     model.Priority
	EnqueueTime  time.Time
	Resources    model.Resources
	// Breaks ties between tasks with equal priority and enqueue time. Assigned on first enqueue and kept on retries.
	sequence uint64
	// Heap index. Maintained by the heap interface methods.
	index int
}

func NewSchedulingTask(d *model.Deployment, enqueueTime time.Time) *SchedulingTask {
	return &SchedulingTask{
		DeploymentId: d.Id,
		ClusterId:    d.ClusterId,
		Priority:     d.Priority,
		EnqueueTime:  enqueueTime,
		Resources:    d.Resources,
		index:        -1,
	}
}

// taskPQ orders tasks by priority (highest first), then enqueue time, then insertion sequence.
type taskPQ []*SchedulingTask

func (pq taskPQ) Len() int {
	return len(pq)
}

func (pq taskPQ) Less(i, j int) bool {
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority.Rank() > pq[j].Priority.Rank()
	}
	if !pq[i].EnqueueTime.Equal(pq[j].EnqueueTime) {
		return pq[i].EnqueueTime.Before(pq[j].EnqueueTime)
	}
	return pq[i].sequence < pq[j].sequence
}

func (pq taskPQ) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *taskPQ) Push(x interface{}) {
	n := len(*pq)
	item, ok := x.(*SchedulingTask)
	if !ok {
		err := errors.Errorf("tried to push %+v of type %T onto taskPQ", x, x)
		panic(err)
	}
	item.index = n
	*pq = append(*pq, item)
}

func (pq *taskPQ) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*pq = old[0 : n-1]
	return item
}

// TaskQueue is a concurrency-safe priority queue of scheduling tasks. Any number of goroutines may enqueue;
// the scheduler loop is the single consumer.
type TaskQueue struct {
	mu           sync.Mutex
	pq           taskPQ
	byId         map[string]*SchedulingTask
	nextSequence uint64
	// Buffered with capacity one; a pending signal means the queue may be non-empty.
	notify chan struct{}
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{
		pq:     make(taskPQ, 0),
		byId:   make(map[string]*SchedulingTask),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds task to the queue. Returns false if a task for the same deployment is already queued.
// A task that has been dequeued before keeps its original sequence number, so a retried task keeps its place
// relative to tasks enqueued after it.
func (q *TaskQueue) Enqueue(task *SchedulingTask) bool {
	q.mu.Lock()
	if _, ok := q.byId[task.DeploymentId]; ok {
		q.mu.Unlock()
		return false
	}
	if task.sequence == 0 {
		q.nextSequence++
		task.sequence = q.nextSequence
	}
	heap.Push(&q.pq, task)
	q.byId[task.DeploymentId] = task
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the highest priority task, waiting up to timeout for one to arrive.
// Returns false if the queue stayed empty for the whole timeout or ctx was cancelled.
func (q *TaskQueue) Dequeue(ctx context.Context, timeout time.Duration) (*SchedulingTask, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if task, ok := q.tryDequeue(); ok {
			return task, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return q.tryDequeue()
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *TaskQueue) tryDequeue() (*SchedulingTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pq.Len() == 0 {
		return nil, false
	}
	task := heap.Pop(&q.pq).(*SchedulingTask)
	delete(q.byId, task.DeploymentId)
	if q.pq.Len() > 0 {
		// Keep the consumer awake while work remains.
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return task, true
}

// Remove drops the queued task for a deployment. Returns false if there was none.
func (q *TaskQueue) Remove(deploymentId string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.byId[deploymentId]
	if !ok {
		return false
	}
	heap.Remove(&q.pq, task.index)
	delete(q.byId, deploymentId)
	return true
}

func (q *TaskQueue) Contains(deploymentId string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byId[deploymentId]
	return ok
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}
