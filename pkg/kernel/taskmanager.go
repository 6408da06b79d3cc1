// Copyright 2025 The Minos Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/kerr"
)

// TaskManager owns the task table and the run queue. The queue is a FIFO;
// its front is the task currently holding the CPU. Every method that
// touches the queue or a task's message FIFO does so with interrupts
// disabled, and re-enables them before returning.
type TaskManager struct {
	ints *Interrupts
	log  logrus.FieldLogger

	nextID  uint64
	tasks   map[uint64]*Task
	running []*Task

	finished     map[uint64]int32
	finishWaiter map[uint64]*Task
}

// NewTaskManager returns a manager whose initial task represents the boot
// flow of control. That task is current and never finishes, so the run
// queue is never empty.
func NewTaskManager(ints *Interrupts, log logrus.FieldLogger) *TaskManager {
	tm := &TaskManager{
		ints:         ints,
		log:          log,
		tasks:        make(map[uint64]*Task),
		finished:     make(map[uint64]int32),
		finishWaiter: make(map[uint64]*Task),
	}
	main := tm.NewTask()
	tm.running = append(tm.running, main)
	return tm
}

// NewTask registers a fresh task. It is not runnable until Wakeup.
func (tm *TaskManager) NewTask() *Task {
	g := tm.ints.Disable()
	defer g.Restore()
	tm.nextID++
	t := &Task{
		id:   tm.nextID,
		wake: make(chan struct{}, 1),
	}
	t.ctx.RFLAGS = rflagsDefault
	tm.tasks[t.id] = t
	return t
}

// CurrentTask returns the task at the front of the run queue, or nil if
// every task has finished.
func (tm *TaskManager) CurrentTask() *Task {
	g := tm.ints.Disable()
	defer g.Restore()
	if len(tm.running) == 0 {
		return nil
	}
	return tm.running[0]
}

// Lookup returns the live task with the given id.
func (tm *TaskManager) Lookup(id uint64) (*Task, *kerr.Error) {
	g := tm.ints.Disable()
	defer g.Restore()
	t, ok := tm.tasks[id]
	if !ok {
		return nil, kerr.ErrNoSuchTask
	}
	return t, nil
}

// SwitchTask rotates the run queue: the current task moves to the back, or
// leaves the queue entirely if currentSleep is set. Returns the new current
// task. With a single runnable task this is a no-op.
func (tm *TaskManager) SwitchTask(currentSleep bool) *Task {
	g := tm.ints.Disable()
	defer g.Restore()
	if len(tm.running) == 0 {
		return nil
	}
	cur := tm.running[0]
	tm.running = tm.running[1:]
	if !currentSleep || len(tm.running) == 0 {
		tm.running = append(tm.running, cur)
	}
	return tm.running[0]
}

// Sleep removes the task from the run-eligible set. Sleeping the current
// task forces a switch first so the queue front stays valid.
func (tm *TaskManager) Sleep(t *Task) {
	g := tm.ints.Disable()
	defer g.Restore()
	tm.sleepLocked(t)
}

// SleepByID sleeps the task with the given id.
func (tm *TaskManager) SleepByID(id uint64) *kerr.Error {
	g := tm.ints.Disable()
	defer g.Restore()
	t, ok := tm.tasks[id]
	if !ok {
		return kerr.ErrNoSuchTask
	}
	tm.sleepLocked(t)
	return nil
}

func (tm *TaskManager) sleepLocked(t *Task) {
	for i, r := range tm.running {
		if r != t {
			continue
		}
		if len(tm.running) == 1 {
			// Last runnable task stays; there is nothing to switch to.
			return
		}
		tm.running = append(tm.running[:i], tm.running[i+1:]...)
		return
	}
}

// Wakeup puts the task back on the run queue if it is not already there,
// and signals anyone blocked on its behalf.
func (tm *TaskManager) Wakeup(t *Task) {
	g := tm.ints.Disable()
	defer g.Restore()
	tm.wakeupLocked(t)
}

// WakeupByID wakes the task with the given id.
func (tm *TaskManager) WakeupByID(id uint64) *kerr.Error {
	g := tm.ints.Disable()
	defer g.Restore()
	t, ok := tm.tasks[id]
	if !ok {
		return kerr.ErrNoSuchTask
	}
	tm.wakeupLocked(t)
	return nil
}

func (tm *TaskManager) wakeupLocked(t *Task) {
	onQueue := false
	for _, r := range tm.running {
		if r == t {
			onQueue = true
			break
		}
	}
	if !onQueue {
		tm.running = append(tm.running, t)
	}
	// Signal even if the task never left the queue: a sole runnable task
	// sleeping on its own behalf stays queued but still blocks on wake.
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Runnable reports whether the task is on the run queue.
func (tm *TaskManager) Runnable(t *Task) bool {
	g := tm.ints.Disable()
	defer g.Restore()
	for _, r := range tm.running {
		if r == t {
			return true
		}
	}
	return false
}

// SendMessage enqueues a message on the target task's FIFO and wakes it.
func (tm *TaskManager) SendMessage(id uint64, m Message) *kerr.Error {
	g := tm.ints.Disable()
	defer g.Restore()
	t, ok := tm.tasks[id]
	if !ok {
		return kerr.ErrNoSuchTask
	}
	t.msgs = append(t.msgs, m)
	tm.wakeupLocked(t)
	return nil
}

// ReceiveMessage dequeues the task's oldest pending message. It never
// blocks; callers wanting to wait loop over Sleep.
func (tm *TaskManager) ReceiveMessage(t *Task) (Message, bool) {
	g := tm.ints.Disable()
	defer g.Restore()
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	m := t.msgs[0]
	t.msgs = t.msgs[1:]
	return m, true
}

// WaitMessage is the canonical blocking receive: try, sleep on empty,
// retry on wakeup.
func (tm *TaskManager) WaitMessage(t *Task) Message {
	for {
		if m, ok := tm.ReceiveMessage(t); ok {
			return m
		}
		tm.Sleep(t)
		<-t.wake
	}
}

// Finish records the task's exit code and removes it from scheduling. A
// task blocked in WaitFinish on this id is woken and observes the code.
// Unlike Sleep, a finishing task leaves the run queue even as the sole
// runnable task; the waiter is woken first, so in that state the queue is
// never left empty.
func (tm *TaskManager) Finish(t *Task, code int32) {
	g := tm.ints.Disable()
	defer g.Restore()
	delete(tm.tasks, t.id)
	tm.finished[t.id] = code
	if w, ok := tm.finishWaiter[t.id]; ok {
		delete(tm.finishWaiter, t.id)
		tm.wakeupLocked(w)
	}
	for i, r := range tm.running {
		if r == t {
			tm.running = append(tm.running[:i], tm.running[i+1:]...)
			break
		}
	}
}

// WaitFinish blocks the current task until the task with the given id has
// finished, then returns its exit code. An id that is neither live nor
// finished fails with ErrNoSuchTask.
func (tm *TaskManager) WaitFinish(current *Task, id uint64) (int32, *kerr.Error) {
	for {
		g := tm.ints.Disable()
		if code, ok := tm.finished[id]; ok {
			delete(tm.finished, id)
			g.Restore()
			return code, nil
		}
		if _, live := tm.tasks[id]; !live {
			g.Restore()
			return 0, kerr.ErrNoSuchTask
		}
		tm.finishWaiter[id] = current
		tm.sleepLocked(current)
		g.Restore()
		<-current.wake
	}
}

// pushFront makes t the current task without disturbing the rest of the
// queue; exec uses it so the child runs on the caller's flow of control.
func (tm *TaskManager) pushFront(t *Task) {
	g := tm.ints.Disable()
	defer g.Restore()
	tm.running = append([]*Task{t}, tm.running...)
}
