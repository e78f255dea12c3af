// Package timer provides a heap-based timer wheel for the server's periodic
// work (the broadcast tick and the round countdown).
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/nibblearena/gameserver/logger"
)

// resolution bounds the scheduling error of a task; the fastest task in the
// server is the 50ms broadcast tick.
const resolution = 10 * time.Millisecond

type Task struct {
	ID        int64
	Execute   time.Time
	Interval  time.Duration
	Callback  func()
	index     int
	cancelled bool
}

type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*Task)
	task.index = n
	*q = append(*q, task)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// Manager schedules one-shot and repeating tasks. Callbacks run on their own
// goroutines and are panic-protected: a failing tick is logged and the task
// stays armed rather than silently halting the round. A repeating task is
// rearmed only after its callback returns, so two firings of the same task
// never overlap.
type Manager struct {
	queue  taskQueue
	tasks  map[int64]*Task // every live task, including those mid-callback
	mutex  sync.Mutex
	nextID int64
	quit   chan struct{}
	done   chan struct{}
}

func NewManager() *Manager {
	m := &Manager{
		queue:  make(taskQueue, 0),
		tasks:  make(map[int64]*Task),
		nextID: 1,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	heap.Init(&m.queue)
	go m.process()
	return m
}

// AddTimer schedules a callback after delay. A non-zero interval makes the
// task repeat until removed. Returns the task id.
func (m *Manager) AddTimer(delay, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &Task{
		ID:       m.nextID,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextID++

	m.tasks[task.ID] = task
	heap.Push(&m.queue, task)
	return task.ID
}

// RemoveTimer cancels a task. A repeating task whose callback is running when
// it is removed finishes that run but is never rearmed. Removing an
// already-fired one-shot or an unknown id is a no-op.
func (m *Manager) RemoveTimer(timerID int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.tasks[timerID]
	if !ok {
		return
	}
	task.cancelled = true
	delete(m.tasks, timerID)
	if task.index >= 0 {
		heap.Remove(&m.queue, task.index)
	}
}

// Stop shuts the scheduler down and waits for the process loop to exit.
// Callbacks already dispatched may still be running when Stop returns.
func (m *Manager) Stop() {
	close(m.quit)
	<-m.done
}

func (m *Manager) process() {
	defer close(m.done)

	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.fireDue()
		case <-m.quit:
			return
		}
	}
}

func (m *Manager) fireDue() {
	now := time.Now()

	var due []*Task
	m.mutex.Lock()
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		due = append(due, task)
	}
	m.mutex.Unlock()

	for _, task := range due {
		go m.runTask(task)
	}
}

func (m *Manager) runTask(task *Task) {
	defer m.finishTask(task)
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("timer task %d panicked: %v", task.ID, r)
		}
	}()
	task.Callback()
}

// finishTask rearms a repeating task once its callback has returned, unless
// it was removed in the meantime. One-shots are forgotten here.
func (m *Manager) finishTask(task *Task) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if task.cancelled {
		return
	}
	if task.Interval <= 0 {
		delete(m.tasks, task.ID)
		return
	}
	task.Execute = time.Now().Add(task.Interval)
	heap.Push(&m.queue, task)
}
