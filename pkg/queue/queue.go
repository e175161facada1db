// Package queue implements the Execution Queue: a max-heap on task priority
// with a running set and a completed counter, safe for concurrent use.
package queue

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrUnknownTask is returned by operations that reference a task id not
// currently tracked by the queue (neither pending nor running).
var ErrUnknownTask = errors.New("unknown task")

// Task is one unit of work the queue orders by Priority (higher runs first)
// and, among equal priorities, by insertion order (FIFO tie-break).
type Task struct {
	ID         string
	AgentID    string
	Priority   int
	Payload    any
	EnqueuedAt time.Time
}

type item struct {
	task  Task
	index int // heap index, maintained by container/heap
	seq   int // insertion sequence, breaks priority ties FIFO
}

// priorityHeap implements container/heap.Interface over *item, ordering by
// Priority descending then seq ascending.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a max-heap-on-priority task queue. Every operation is async-safe
// under a single mutex; no operation performs I/O while holding it.
type Queue struct {
	mu        sync.Mutex
	pending   priorityHeap
	byID      map[string]*item // pending items, keyed by task id
	running   map[string]Task  // dequeued but not yet completed/cancelled
	completed int
	nextSeq   int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		byID:    make(map[string]*item),
		running: make(map[string]Task),
	}
}

// Enqueue adds t to the pending set. A second Enqueue with the same ID
// replaces the first (reprioritization) if it is still pending; it is a
// no-op if that ID is already running.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, running := q.running[t.ID]; running {
		return
	}
	if existing, ok := q.byID[t.ID]; ok {
		existing.task = t
		heap.Fix(&q.pending, existing.index)
		return
	}

	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	it := &item{task: t, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.pending, it)
	q.byID[t.ID] = it
}

// Dequeue pops the highest-priority pending task and marks it running.
// Returns false if the queue is empty.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending.Len() == 0 {
		return Task{}, false
	}
	it := heap.Pop(&q.pending).(*item)
	delete(q.byID, it.task.ID)
	q.running[it.task.ID] = it.task
	return it.task, true
}

// Cancel removes taskID whether it is pending or running. Returns
// ErrUnknownTask if neither set contains it.
func (q *Queue) Cancel(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.byID[taskID]; ok {
		heap.Remove(&q.pending, it.index)
		delete(q.byID, taskID)
		return nil
	}
	if _, ok := q.running[taskID]; ok {
		delete(q.running, taskID)
		return nil
	}
	return ErrUnknownTask
}

// MarkCompleted moves taskID out of the running set and increments the
// completed counter. Returns ErrUnknownTask if taskID is not running.
func (q *Queue) MarkCompleted(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.running[taskID]; !ok {
		return ErrUnknownTask
	}
	delete(q.running, taskID)
	q.completed++
	return nil
}

// DepthForAgent counts pending items (not running) whose AgentID matches.
func (q *Queue) DepthForAgent(agentID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, it := range q.pending {
		if it.task.AgentID == agentID {
			n++
		}
	}
	return n
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// RunningCount returns the number of tasks currently dequeued but not yet
// completed or cancelled.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// CompletedCount returns the lifetime count of MarkCompleted calls.
func (q *Queue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}
