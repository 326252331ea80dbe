package session

import (
	"context"
	"sync"
)

type taskHandle struct {
	cancel context.CancelFunc
}

// TaskRegistry tracks the background tasks the engine schedules per
// session (watchdog polls, delayed finalizes) as cancellable handles.
// Cancelling a key is an explicit operation: a task that fires after its
// context was cancelled must exit silently.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]*taskHandle
	wg    sync.WaitGroup
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: map[string]*taskHandle{}}
}

// Start runs fn in its own goroutine under a context derived from parent.
// An existing task under the same key is cancelled first.
func (r *TaskRegistry) Start(parent context.Context, key string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	h := &taskHandle{cancel: cancel}

	r.mu.Lock()
	if old, ok := r.tasks[key]; ok {
		old.cancel()
	}
	r.tasks[key] = h
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, key, h, fn)
}

// StartIfAbsent starts fn unless a task is already registered under key.
// It reports whether a new task was started.
func (r *TaskRegistry) StartIfAbsent(parent context.Context, key string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, ok := r.tasks[key]; ok {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	h := &taskHandle{cancel: cancel}
	r.tasks[key] = h
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(ctx, key, h, fn)
	return true
}

func (r *TaskRegistry) run(ctx context.Context, key string, h *taskHandle, fn func(ctx context.Context)) {
	defer r.wg.Done()
	defer func() {
		h.cancel()
		r.mu.Lock()
		// A replacement may have been registered under the same key;
		// only this task's own entry is cleared.
		if r.tasks[key] == h {
			delete(r.tasks, key)
		}
		r.mu.Unlock()
	}()
	fn(ctx)
}

// Cancel cancels the task under key if any. It does not wait for the task
// goroutine to observe the cancellation.
func (r *TaskRegistry) Cancel(key string) {
	r.mu.Lock()
	h, ok := r.tasks[key]
	if ok {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	if ok {
		h.cancel()
	}
}

// Active reports whether a task is currently registered under key.
func (r *TaskRegistry) Active(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

// CancelAll cancels every registered task and waits for all task
// goroutines to return.
func (r *TaskRegistry) CancelAll() {
	r.mu.Lock()
	for key, h := range r.tasks {
		h.cancel()
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
