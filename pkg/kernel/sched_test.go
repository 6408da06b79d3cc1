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
	"io"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"

	"minos.dev/minos/pkg/kerr"
)

func newTaskManager() *TaskManager {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewTaskManager(&Interrupts{}, log)
}

func TestSwitchTaskRotates(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	t2 := tm.NewTask()
	t3 := tm.NewTask()
	tm.Wakeup(t2)
	tm.Wakeup(t3)

	want := []*Task{t2, t3, main, t2}
	for i, w := range want {
		if got := tm.SwitchTask(false); got != w {
			t.Fatalf("switch %d: current = task %d, want task %d", i, got.ID(), w.ID())
		}
	}
}

func TestSleepRemovesFromRotation(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	t2 := tm.NewTask()
	tm.Wakeup(t2)

	tm.Sleep(t2)
	if tm.Runnable(t2) {
		t.Error("slept task still runnable")
	}
	if got := tm.SwitchTask(false); got != main {
		t.Errorf("current = task %d, want the main task", got.ID())
	}

	tm.Wakeup(t2)
	if got := tm.SwitchTask(false); got != t2 {
		t.Errorf("current after wakeup = task %d, want task %d", got.ID(), t2.ID())
	}
}

func TestSleepLastRunnableTaskStays(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	tm.Sleep(main)
	if !tm.Runnable(main) {
		t.Error("sole task left the run queue")
	}
}

func TestSleepWakeupByID(t *testing.T) {
	tm := newTaskManager()
	t2 := tm.NewTask()
	tm.Wakeup(t2)

	if err := tm.SleepByID(t2.ID()); err != nil {
		t.Fatalf("SleepByID failed: %v", err)
	}
	if tm.Runnable(t2) {
		t.Error("task runnable after SleepByID")
	}
	if err := tm.WakeupByID(t2.ID()); err != nil {
		t.Fatalf("WakeupByID failed: %v", err)
	}
	if !tm.Runnable(t2) {
		t.Error("task not runnable after WakeupByID")
	}

	if err := tm.SleepByID(9999); err != kerr.ErrNoSuchTask {
		t.Errorf("SleepByID(unknown) = %v, want ErrNoSuchTask", err)
	}
	if err := tm.WakeupByID(9999); err != kerr.ErrNoSuchTask {
		t.Errorf("WakeupByID(unknown) = %v, want ErrNoSuchTask", err)
	}
}

func TestMessagesAreFIFOAndWakeReceiver(t *testing.T) {
	tm := newTaskManager()
	t2 := tm.NewTask()

	if _, ok := tm.ReceiveMessage(t2); ok {
		t.Error("empty queue returned a message")
	}

	for i := 1; i <= 3; i++ {
		if err := tm.SendMessage(t2.ID(), Message{Kind: MsgKeyboard, Keyboard: KeyEvent{Keycode: uint8(i)}}); err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
	}
	if !tm.Runnable(t2) {
		t.Error("receiver not woken by SendMessage")
	}
	for i := 1; i <= 3; i++ {
		m, ok := tm.ReceiveMessage(t2)
		if !ok || m.Keyboard.Keycode != uint8(i) {
			t.Fatalf("message %d = (%+v, %t)", i, m, ok)
		}
	}

	if err := tm.SendMessage(9999, Message{Kind: MsgMouse}); err != kerr.ErrNoSuchTask {
		t.Errorf("SendMessage(unknown) = %v, want ErrNoSuchTask", err)
	}
}

func TestWaitMessageBlocksUntilSend(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	t2 := tm.NewTask()
	tm.Wakeup(t2)

	done := make(chan Message)
	go func() {
		done <- tm.WaitMessage(main)
	}()
	if err := tm.SendMessage(main.ID(), Message{Kind: MsgPipeData, Pipe: PipeData{Len: 4}}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if m := <-done; m.Kind != MsgPipeData || m.Pipe.Len != 4 {
		t.Errorf("WaitMessage = %+v", m)
	}
}

func TestFinishWaitFinish(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()

	// Already finished: the code is returned immediately.
	t2 := tm.NewTask()
	tm.Finish(t2, 7)
	if code, err := tm.WaitFinish(main, t2.ID()); err != nil || code != 7 {
		t.Errorf("WaitFinish(finished) = (%d, %v), want (7, nil)", code, err)
	}

	// Never existed.
	if _, err := tm.WaitFinish(main, 9999); err != kerr.ErrNoSuchTask {
		t.Errorf("WaitFinish(unknown) = %v, want ErrNoSuchTask", err)
	}

	// Still running: the waiter blocks until Finish.
	t3 := tm.NewTask()
	tm.Wakeup(t3)
	done := make(chan int32)
	go func() {
		code, err := tm.WaitFinish(main, t3.ID())
		if err != nil {
			t.Errorf("WaitFinish failed: %v", err)
		}
		done <- code
	}()
	tm.Finish(t3, 21)
	if code := <-done; code != 21 {
		t.Errorf("WaitFinish = %d, want 21", code)
	}
}

// TestFinishLeavesScheduling drives the canonical exit flow: the waiter
// sleeps in WaitFinish, leaving the child as the sole runnable task, and
// the child finishes. The finished task must leave the run queue even
// though it was the last runnable one.
func TestFinishLeavesScheduling(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	child := tm.NewTask()
	tm.Wakeup(child)

	done := make(chan int32)
	go func() {
		code, err := tm.WaitFinish(main, child.ID())
		if err != nil {
			t.Errorf("WaitFinish failed: %v", err)
		}
		done <- code
	}()
	for tm.Runnable(main) {
		runtime.Gosched()
	}
	if got := tm.CurrentTask(); got != child {
		t.Fatalf("current = task %d, want the child as sole runnable task", got.ID())
	}

	tm.Finish(child, 9)
	if code := <-done; code != 9 {
		t.Errorf("WaitFinish = %d, want 9", code)
	}
	if tm.Runnable(child) {
		t.Error("finished task is still on the run queue")
	}
	if got := tm.CurrentTask(); got != main {
		t.Errorf("current = task %d, want the woken waiter", got.ID())
	}
}

func TestFinishLastTaskEmptiesQueue(t *testing.T) {
	tm := newTaskManager()
	main := tm.CurrentTask()
	tm.Finish(main, 0)
	if got := tm.CurrentTask(); got != nil {
		t.Errorf("CurrentTask = task %d, want nil", got.ID())
	}
	if got := tm.SwitchTask(false); got != nil {
		t.Errorf("SwitchTask = task %d, want nil", got.ID())
	}
}

func TestTickPreemptsOnQuantum(t *testing.T) {
	k := newKernel(t) // quantum is 2 ticks
	main := k.Tasks().CurrentTask()
	t2 := k.Tasks().NewTask()
	k.Tasks().Wakeup(t2)

	if got := k.Tick(); got != main {
		t.Errorf("after 1 tick current = task %d, want the main task", got.ID())
	}
	if got := k.Tick(); got != t2 {
		t.Errorf("after 2 ticks current = task %d, want task %d", got.ID(), t2.ID())
	}
	if got := k.Tick(); got != t2 {
		t.Errorf("after 3 ticks current = task %d, want task %d", got.ID(), t2.ID())
	}
	if got := k.Tick(); got != main {
		t.Errorf("after 4 ticks current = task %d, want the main task", got.ID())
	}
}

func TestUserTimerDeliversMessage(t *testing.T) {
	k := newKernel(t)
	main := k.Tasks().CurrentTask()
	k.Timers().AddTimer(Timer{Timeout: 3, Value: 7, TaskID: main.ID()})
	k.Timers().AddTimer(Timer{Timeout: 3, Value: 8, TaskID: main.ID()})

	k.Tick()
	k.Tick()
	if _, ok := k.Tasks().ReceiveMessage(main); ok {
		t.Fatal("timer fired early")
	}
	k.Tick()

	for _, want := range []int{7, 8} {
		m, ok := k.Tasks().ReceiveMessage(main)
		if !ok || m.Kind != MsgTimer {
			t.Fatalf("message = (%+v, %t), want a timer message", m, ok)
		}
		if m.Timer.Value != want || m.Timer.Timeout != 3 {
			t.Errorf("timer event = %+v, want value %d at tick 3", m.Timer, want)
		}
	}
}

func TestCreateTimerSyscall(t *testing.T) {
	k := newKernel(t)
	main := k.Tasks().CurrentTask()

	when, err := k.Syscall(SysCreateTimer, TimerRelative, 5, 2, 0)
	if err != nil {
		t.Fatalf("CreateTimer failed: %v", err)
	}
	if when != 2 {
		t.Errorf("expiry tick = %d, want 2", when)
	}
	k.Tick()
	k.Tick()
	m, ok := k.Tasks().ReceiveMessage(main)
	if !ok || m.Kind != MsgTimer || m.Timer.Value != 5 {
		t.Errorf("message = (%+v, %t), want timer value 5", m, ok)
	}
}
