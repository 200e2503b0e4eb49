// Package memory provides the in-process work queue shared by all workers.
package memory

import (
	"sync"

	"github.com/JakeFAU/linkcheck/internal/checker"
)

const compactThreshold = 64

// Queue is a FIFO of tasks that admits each URL at most once per run. URLs
// already present in the processed-work log can be excluded up front.
type Queue struct {
	mu    sync.Mutex
	items []checker.Task
	head  int
	seen  map[string]struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{seen: make(map[string]struct{})}
}

// Exclude marks urls as already handled so EnqueueUnique skips them.
func (q *Queue) Exclude(urls ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range urls {
		q.seen[u] = struct{}{}
	}
}

// EnqueueUnique appends task unless its URL was enqueued or excluded before.
// It reports whether the task was added.
func (q *Queue) EnqueueUnique(task checker.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.seen[task.URL]; ok {
		return false
	}
	q.seen[task.URL] = struct{}{}
	q.items = append(q.items, task)
	return true
}

// Dequeue pops the oldest task without blocking. ok is false when empty.
func (q *Queue) Dequeue() (checker.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return checker.Task{}, false
	}
	task := q.items[q.head]
	q.items[q.head] = checker.Task{}
	q.head++
	q.compact()
	return task, true
}

// Requeue appends a previously dequeued task to the tail. It bypasses the
// uniqueness check because the URL is already known.
func (q *Queue) Requeue(task checker.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seen[task.URL] = struct{}{}
	q.items = append(q.items, task)
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue) compact() {
	if q.head < compactThreshold || q.head < len(q.items)/2 {
		return
	}
	remaining := copy(q.items, q.items[q.head:])
	clear(q.items[remaining:])
	q.items = q.items[:remaining]
	q.head = 0
}
