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
	"math"

	"github.com/google/btree"
)

// taskTimerValue marks the preemption timer. It never reaches a message
// queue; expiry means the scheduler quantum is up.
const taskTimerValue = math.MinInt

// Timer fires once at an absolute tick, delivering a TimerEvent message to
// its task. The value is caller-chosen and echoed back in the message.
type Timer struct {
	Timeout uint64
	Value   int
	TaskID  uint64

	// seq orders timers that share a timeout so none are lost.
	seq uint64
}

func timerLess(a, b Timer) bool {
	if a.Timeout != b.Timeout {
		return a.Timeout < b.Timeout
	}
	return a.seq < b.seq
}

// TimerManager keeps pending timers ordered by expiry and owns the current
// tick. One timer slot is permanently reserved for the scheduler quantum.
type TimerManager struct {
	ints  *Interrupts
	tasks *TaskManager

	tick    uint64
	seq     uint64
	quantum uint64
	timers  *btree.BTreeG[Timer]
}

// NewTimerManager returns a manager with the preemption timer armed one
// quantum out.
func NewTimerManager(ints *Interrupts, tasks *TaskManager, quantum uint64) *TimerManager {
	tm := &TimerManager{
		ints:    ints,
		tasks:   tasks,
		quantum: quantum,
		timers:  btree.NewG(8, timerLess),
	}
	tm.timers.ReplaceOrInsert(Timer{Timeout: quantum, Value: taskTimerValue})
	return tm
}

// CurrentTick returns the number of ticks since boot.
func (tm *TimerManager) CurrentTick() uint64 {
	g := tm.ints.Disable()
	defer g.Restore()
	return tm.tick
}

// AddTimer arms a one-shot timer at an absolute tick.
func (tm *TimerManager) AddTimer(t Timer) {
	g := tm.ints.Disable()
	defer g.Restore()
	tm.seq++
	t.seq = tm.seq
	tm.timers.ReplaceOrInsert(t)
}

// Tick advances time by one tick and expires due timers. Expired user
// timers become TimerEvent messages; message delivery happens outside the
// interrupt-disabled section. Returns true when the scheduler quantum
// elapsed and the caller should switch tasks; the quantum timer is
// re-armed before returning.
func (tm *TimerManager) Tick() bool {
	g := tm.ints.Disable()
	tm.tick++

	taskSwitch := false
	var due []Timer
	for {
		t, ok := tm.timers.Min()
		if !ok || t.Timeout > tm.tick {
			break
		}
		tm.timers.DeleteMin()
		if t.Value == taskTimerValue {
			taskSwitch = true
			tm.timers.ReplaceOrInsert(Timer{Timeout: tm.tick + tm.quantum, Value: taskTimerValue})
			continue
		}
		due = append(due, t)
	}
	tick := tm.tick
	g.Restore()

	for _, t := range due {
		// The task may have finished since arming; a stale timer is
		// dropped, not an error.
		_ = tm.tasks.SendMessage(t.TaskID, Message{
			Kind:  MsgTimer,
			Timer: TimerEvent{Timeout: tick, Value: t.Value},
		})
	}
	return taskSwitch
}
